// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/cartographus-sync/internal/wire"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMetadataIncrementVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	v1, err := db.Metadata().IncrementVersion(ctx, "article", "42", "master")
	if err != nil {
		t.Fatalf("IncrementVersion() error = %v", err)
	}
	if v1 != 1 {
		t.Errorf("first version = %d, want 1", v1)
	}

	v2, err := db.Metadata().IncrementVersion(ctx, "article", "42", "ship-1")
	if err != nil {
		t.Fatalf("IncrementVersion() error = %v", err)
	}
	if v2 != 2 {
		t.Errorf("second version = %d, want 2", v2)
	}

	m, err := db.Metadata().Get(ctx, "article", "42")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if m.SyncVersion != 2 || m.ModifiedByLocation != "ship-1" || m.SyncStatus != StatusPending {
		t.Errorf("unexpected metadata: %+v", m)
	}
}

func TestMetadataMarkSyncedAndConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.Metadata().IncrementVersion(ctx, "page", "1", "master"); err != nil {
		t.Fatalf("IncrementVersion() error = %v", err)
	}
	if err := db.Metadata().MarkSynced(ctx, "page", "1"); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}
	m, err := db.Metadata().Get(ctx, "page", "1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if m.SyncStatus != StatusSynced || m.LastSyncedAt == nil {
		t.Errorf("expected synced with lastSyncedAt set, got %+v", m)
	}

	if err := db.Metadata().MarkConflict(ctx, "page", "1"); err != nil {
		t.Fatalf("MarkConflict() error = %v", err)
	}
	m, err = db.Metadata().Get(ctx, "page", "1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if m.SyncStatus != StatusConflict || !m.ConflictFlag {
		t.Errorf("expected conflict flag set, got %+v", m)
	}
}

func TestMetadataGetMissing(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.Metadata().Get(context.Background(), "article", "missing"); err != ErrMetadataNotFound {
		t.Errorf("Get() error = %v, want ErrMetadataNotFound", err)
	}
}

func TestMetadataListModifiedSince(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	cutoff := time.Now().Add(-time.Hour)

	if _, err := db.Metadata().IncrementVersion(ctx, "article", "1", "master"); err != nil {
		t.Fatalf("IncrementVersion() error = %v", err)
	}
	if _, err := db.Metadata().IncrementVersion(ctx, "article", "2", "master"); err != nil {
		t.Fatalf("IncrementVersion() error = %v", err)
	}

	rows, err := db.Metadata().ListModifiedSince(ctx, cutoff, 0)
	if err != nil {
		t.Fatalf("ListModifiedSince() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	future := time.Now().Add(time.Hour)
	rows, err = db.Metadata().ListModifiedSince(ctx, future, 0)
	if err != nil {
		t.Fatalf("ListModifiedSince() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("len(rows) = %d, want 0 for a cutoff in the future", len(rows))
	}

	rows, err = db.Metadata().ListModifiedSince(ctx, cutoff, 1)
	if err != nil {
		t.Fatalf("ListModifiedSince() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("len(rows) = %d, want 1 with limit=1", len(rows))
	}
}

func TestQueueEnqueueCoalescesPendingRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	q := db.Queue(QueueReplicaOutbound)

	e1 := &QueueEntry{ShipID: "ship-1", ContentType: "article", ContentID: "7", Operation: wire.OpCreate, LocalVersion: 1, Data: []byte(`{"a":1}`)}
	if err := q.Enqueue(ctx, e1); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	e2 := &QueueEntry{ShipID: "ship-1", ContentType: "article", ContentID: "7", Operation: wire.OpUpdate, LocalVersion: 2, Data: []byte(`{"a":2}`)}
	if err := q.Enqueue(ctx, e2); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	pending, err := q.GetPending(ctx, 10)
	if err != nil {
		t.Fatalf("GetPending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending count = %d, want 1 (coalesced)", len(pending))
	}
	if pending[0].Operation != wire.OpUpdate || pending[0].LocalVersion != 2 {
		t.Errorf("unexpected coalesced entry: %+v", pending[0])
	}
}

func TestQueueMarkFailedReachesMaxRetries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	q := db.Queue(QueueMasterBroadcast)

	if err := q.Enqueue(ctx, &QueueEntry{ShipID: "master", ContentType: "article", ContentID: "1", Operation: wire.OpCreate}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	pending, err := q.GetPending(ctx, 1)
	if err != nil || len(pending) != 1 {
		t.Fatalf("GetPending() = %v, %v", pending, err)
	}
	id := pending[0].ID

	for i := 0; i < 3; i++ {
		if err := q.MarkFailed(ctx, id, errCauseForTest, 3); err != nil {
			t.Fatalf("MarkFailed() error = %v", err)
		}
	}

	pending, err = q.GetPending(ctx, 1)
	if err != nil {
		t.Fatalf("GetPending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected entry to be failed (not pending) after reaching max retries, got %+v", pending)
	}

	n, err := q.RetryFailed(ctx, 5)
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	if n != 1 {
		t.Errorf("RetryFailed() moved %d rows, want 1", n)
	}
}

var errCauseForTest = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestConflictUpsertKeepsOnePendingRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	c := db.Conflicts()

	e := &ConflictLogEntry{ContentType: "article", EntityID: "9", ConflictingFields: []string{"title"}, ConflictType: ConflictDirect}
	if err := c.Upsert(ctx, e); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	e.ConflictingFields = []string{"title", "body"}
	if err := c.Upsert(ctx, e); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	pending, err := c.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending conflicts = %d, want 1", len(pending))
	}
	if len(pending[0].ConflictingFields) != 2 {
		t.Errorf("expected overwritten field list, got %v", pending[0].ConflictingFields)
	}
}

func TestConflictResolve(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	c := db.Conflicts()

	if err := c.Upsert(ctx, &ConflictLogEntry{ContentType: "page", EntityID: "3", ConflictType: ConflictStructural}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	pending, err := c.ListPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListPending() = %v, %v", pending, err)
	}

	if err := c.Resolve(ctx, pending[0].ID, ResolutionKeepLocal, nil, "operator"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	pending, err = c.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending conflicts after resolve, got %d", len(pending))
	}
}

func TestPeerRecordActivityAndOfflineTransition(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := db.Peers()

	if err := p.RecordActivity(ctx, "ship-1"); err != nil {
		t.Fatalf("RecordActivity() error = %v", err)
	}
	status, err := p.GetStatus(ctx, "ship-1")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if !status.IsOnline {
		t.Error("expected peer online right after activity")
	}

	if err := p.UpdateSyncStatus(ctx, "ship-1", OutcomeSuccess, 1); err != nil {
		t.Fatalf("UpdateSyncStatus() error = %v", err)
	}
	status, err = p.GetStatus(ctx, "ship-1")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.TotalSyncs != 1 || status.LastSyncStatus == nil || *status.LastSyncStatus != OutcomeSuccess {
		t.Errorf("unexpected peer session: %+v", status)
	}

	// Force staleness so the janitor flips isOnline. last_seen_at is written
	// in the same text form CURRENT_TIMESTAMP uses, which unixepoch() parses.
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE peer_session SET last_seen_at = ?, online_threshold_s = 1 WHERE peer_id = ?`,
		time.Now().Add(-time.Hour).UTC().Format("2006-01-02 15:04:05"), "ship-1"); err != nil {
		t.Fatalf("force staleness: %v", err)
	}
	flipped, err := p.MarkOfflinePeers(ctx)
	if err != nil {
		t.Fatalf("MarkOfflinePeers() error = %v", err)
	}
	if flipped != 1 {
		t.Errorf("MarkOfflinePeers() flipped %d, want 1", flipped)
	}
}

func TestDeadLetterAddListResolve(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	dl := db.DeadLetters()

	id, err := dl.Add(ctx, "msg-1", []byte(`{}`), "unknown content type")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	entries, err := dl.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].MessageID != "msg-1" {
		t.Fatalf("unexpected dead letter list: %+v", entries)
	}

	if err := dl.Resolve(ctx, id); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	entries, err = dl.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected resolved entry to drop from list, got %d", len(entries))
	}

	if err := dl.Resolve(ctx, id); err != ErrDeadLetterNotFound {
		t.Errorf("Resolve() on already-resolved id error = %v, want ErrDeadLetterNotFound", err)
	}
}

func TestDeadLetterPrune(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	dl := db.DeadLetters()

	oldID, err := dl.Add(ctx, "msg-old", []byte(`{}`), "unknown content type")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := dl.Resolve(ctx, oldID); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE dead_letter SET resolved_at = ? WHERE id = ?`, time.Now().Add(-2*time.Hour), oldID); err != nil {
		t.Fatalf("force old resolved_at: %v", err)
	}

	recentID, err := dl.Add(ctx, "msg-recent", []byte(`{}`), "unknown content type")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := dl.Resolve(ctx, recentID); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	unresolvedID, err := dl.Add(ctx, "msg-unresolved", []byte(`{}`), "unknown content type")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	n, err := dl.Prune(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() pruned %d rows, want 1", n)
	}

	if err := dl.Resolve(ctx, oldID); err != ErrDeadLetterNotFound {
		t.Errorf("old resolved entry should have been deleted, Resolve() error = %v", err)
	}
	if err := dl.Resolve(ctx, recentID); err != ErrDeadLetterNotFound {
		t.Errorf("recently resolved entry should survive prune, Resolve() error = %v", err)
	}
	if err := dl.Resolve(ctx, unresolvedID); err != nil {
		t.Errorf("unresolved entry should survive prune and still resolve, got error = %v", err)
	}
}

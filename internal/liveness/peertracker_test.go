// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package liveness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tomtom215/cartographus-sync/internal/store"
)

func newTestPeerTracker(t *testing.T) *PeerTracker {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPeerTracker(db)
}

func TestPeerTrackerRecordActivityThenGetStatus(t *testing.T) {
	tr := newTestPeerTracker(t)
	ctx := context.Background()

	if err := tr.RecordActivity(ctx, "ship-1", map[string]string{"version": "1.2.3"}); err != nil {
		t.Fatalf("RecordActivity() error = %v", err)
	}

	status, err := tr.GetStatus(ctx, "ship-1")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if !status.IsOnline {
		t.Error("status.IsOnline = false, want true right after RecordActivity")
	}
}

func TestPeerTrackerSweepOfflineRefreshesGauge(t *testing.T) {
	tr := newTestPeerTracker(t)
	ctx := context.Background()

	if err := tr.RecordActivity(ctx, "ship-1", nil); err != nil {
		t.Fatalf("RecordActivity() error = %v", err)
	}

	// Nothing is stale yet (the store's own default online threshold is
	// minutes, not test-run-scale), so the sweep should flip zero rows —
	// the threshold-expiry path itself is covered by store.PeerRepo's own
	// test, which has access to force the threshold via direct SQL.
	flipped, err := tr.SweepOffline(ctx)
	if err != nil {
		t.Fatalf("SweepOffline() error = %v", err)
	}
	if flipped != 0 {
		t.Errorf("flipped = %d, want 0", flipped)
	}
}

func TestPeerTrackerListPeers(t *testing.T) {
	tr := newTestPeerTracker(t)
	ctx := context.Background()

	for _, id := range []string{"ship-1", "ship-2"} {
		if err := tr.RecordActivity(ctx, id, nil); err != nil {
			t.Fatalf("RecordActivity(%s) error = %v", id, err)
		}
	}

	peers, err := tr.ListPeers(ctx)
	if err != nil {
		t.Fatalf("ListPeers() error = %v", err)
	}
	if len(peers) != 2 {
		t.Errorf("len(peers) = %d, want 2", len(peers))
	}
}

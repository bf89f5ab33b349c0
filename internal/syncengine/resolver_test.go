// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package syncengine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-sync/internal/cms"
	"github.com/tomtom215/cartographus-sync/internal/store"
	"github.com/tomtom215/cartographus-sync/internal/wire"
)

func newTestResolver(t *testing.T) (*Resolver, *store.DB, *cms.Store) {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	adapter, err := cms.Open(filepath.Join(t.TempDir(), "cms.db"), nil)
	if err != nil {
		t.Fatalf("cms.Open() error = %v", err)
	}
	t.Cleanup(func() { adapter.Close() })

	r := NewResolver(db, adapter, nil, StrategyMerge)
	return r, db, adapter
}

func TestApplyRemoteCreateWithNoLocalEntity(t *testing.T) {
	r, db, adapter := newTestResolver(t)
	ctx := context.Background()

	msg := wire.NewMessage("ship-1", wire.OpCreate, "article", "1", 1, json.RawMessage(`{"title":"hello"}`))
	if err := r.Apply(ctx, msg, SourceRemote); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	data, err := adapter.Get(ctx, "article", "1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != `{"title":"hello"}` {
		t.Errorf("Get() = %s", data)
	}

	meta, err := db.Metadata().Get(ctx, "article", "1")
	if err != nil {
		t.Fatalf("Metadata().Get() error = %v", err)
	}
	if meta.SyncStatus != store.StatusSynced {
		t.Errorf("SyncStatus = %v, want synced", meta.SyncStatus)
	}
}

func TestApplyUnknownContentTypeIsPermanent(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer db.Close()
	adapter, err := cms.Open(filepath.Join(t.TempDir(), "cms.db"), []string{"article"})
	if err != nil {
		t.Fatalf("cms.Open() error = %v", err)
	}
	defer adapter.Close()
	r := NewResolver(db, adapter, nil, StrategyManual)

	msg := wire.NewMessage("ship-1", wire.OpCreate, "unknown-type", "1", 1, json.RawMessage(`{}`))
	err = r.Apply(context.Background(), msg, SourceRemote)
	if err == nil {
		t.Fatal("Apply() error = nil, want permanent error")
	}
}

func TestApplyRemoteConflictLogsAndDoesNotApply(t *testing.T) {
	r, db, adapter := newTestResolver(t)
	ctx := context.Background()

	local := json.RawMessage(`{"title":"local edit"}`)
	if err := adapter.Create(ctx, "article", "1", local); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := db.Metadata().IncrementVersion(ctx, "article", "1", "master"); err != nil {
		t.Fatalf("IncrementVersion() error = %v", err)
	}
	if err := db.Metadata().MarkSynced(ctx, "article", "1"); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}

	remote := wire.NewMessage("ship-2", wire.OpUpdate, "article", "1", 99, json.RawMessage(`{"title":"remote edit"}`))
	if err := r.Apply(ctx, remote, SourceRemote); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	data, err := adapter.Get(ctx, "article", "1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != string(local) {
		t.Errorf("local data was overwritten despite conflict: %s", data)
	}

	meta, err := db.Metadata().Get(ctx, "article", "1")
	if err != nil {
		t.Fatalf("Metadata().Get() error = %v", err)
	}
	if meta.SyncStatus != store.StatusConflict {
		t.Errorf("SyncStatus = %v, want conflict", meta.SyncStatus)
	}

	pending, err := db.Conflicts().ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(pending))
	}
	if pending[0].ConflictType != store.ConflictDirect {
		t.Errorf("ConflictType = %v, want direct", pending[0].ConflictType)
	}
}

func TestApplyRemoteDeleteRemovesEntityAndMetadata(t *testing.T) {
	r, db, adapter := newTestResolver(t)
	ctx := context.Background()

	if err := adapter.Create(ctx, "article", "1", json.RawMessage(`{"title":"x"}`)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := db.Metadata().IncrementVersion(ctx, "article", "1", "master"); err != nil {
		t.Fatalf("IncrementVersion() error = %v", err)
	}

	// Same syncVersion as the local metadata, so detectConflict reports no
	// conflict and the delete is dispatched.
	del := wire.NewMessage("ship-1", wire.OpDelete, "article", "1", 1, nil)
	if err := r.Apply(ctx, del, SourceRemote); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if _, err := adapter.Get(ctx, "article", "1"); err != cms.ErrNotFound {
		t.Errorf("Get() after delete = %v, want ErrNotFound", err)
	}
	if _, err := db.Metadata().Get(ctx, "article", "1"); err != store.ErrMetadataNotFound {
		t.Errorf("Metadata().Get() after delete = %v, want ErrMetadataNotFound", err)
	}
}

func TestResolveConflictKeepLocal(t *testing.T) {
	r, db, adapter := newTestResolver(t)
	ctx := context.Background()

	local := json.RawMessage(`{"title":"local"}`)
	remote := json.RawMessage(`{"title":"remote"}`)
	if err := adapter.Create(ctx, "article", "1", local); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := db.Conflicts().Upsert(ctx, &store.ConflictLogEntry{
		ContentType: "article", EntityID: "1", LocalData: local, RemoteData: remote,
		ConflictingFields: []string{"title"}, ConflictType: store.ConflictDirect,
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	pending, err := db.Conflicts().ListPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListPending() = %v, %v", pending, err)
	}

	if err := r.ResolveConflict(ctx, pending[0].ID, store.ResolutionKeepLocal, nil, "operator"); err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}

	data, err := adapter.Get(ctx, "article", "1")
	if err != nil || string(data) != string(local) {
		t.Errorf("Get() = %s, %v, want local data", data, err)
	}

	stillPending, err := db.Conflicts().ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(stillPending) != 0 {
		t.Errorf("len(stillPending) = %d, want 0", len(stillPending))
	}
}

func TestResolveConflictMergeAutoMerges(t *testing.T) {
	r, db, adapter := newTestResolver(t)
	ctx := context.Background()

	local := json.RawMessage(`{"title":"local","subtitle":"kept"}`)
	remote := json.RawMessage(`{"title":"remote","summary":"added"}`)
	if err := adapter.Create(ctx, "article", "1", local); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := db.Conflicts().Upsert(ctx, &store.ConflictLogEntry{
		ContentType: "article", EntityID: "1", LocalData: local, RemoteData: remote,
		ConflictingFields: []string{"title"}, ConflictType: store.ConflictStructural,
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	pending, err := db.Conflicts().ListPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListPending() = %v, %v", pending, err)
	}

	if err := r.ResolveConflict(ctx, pending[0].ID, store.ResolutionMerge, nil, "operator"); err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}

	data, err := adapter.Get(ctx, "article", "1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var merged map[string]any
	if err := json.Unmarshal(data, &merged); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if merged["title"] != "local" {
		t.Errorf("title = %v, want local (base wins)", merged["title"])
	}
	if merged["subtitle"] != "kept" || merged["summary"] != "added" {
		t.Errorf("merged = %v, want both side-only fields present", merged)
	}
}

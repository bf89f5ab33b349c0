// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/cartographus-sync/internal/cms"
	"github.com/tomtom215/cartographus-sync/internal/config"
	"github.com/tomtom215/cartographus-sync/internal/liveness"
	"github.com/tomtom215/cartographus-sync/internal/store"
	"github.com/tomtom215/cartographus-sync/internal/syncengine"
)

func newTestServer(t *testing.T, mode config.Mode) (*Server, *store.DB, cms.Adapter) {
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

	resolver := syncengine.NewResolver(db, adapter, nil, syncengine.StrategyManual)

	deps := Deps{
		Mode:     mode,
		ShipID:   "ship-1",
		DB:       db,
		Adapter:  adapter,
		Resolver: resolver,
		Queue:    db.Queue(store.QueueReplicaOutbound),
	}
	if mode == config.ModeMaster {
		deps.Peers = liveness.NewPeerTracker(db)
	} else {
		deps.Connectivity = liveness.New(noopBus{}, "")
	}

	s := New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, deps)
	return s, db, adapter
}

type noopBus struct{}

func (noopBus) IsConnected() bool { return true }

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, r)
	return w
}

func TestHandleStatusMaster(t *testing.T) {
	s, _, _ := newTestServer(t, config.ModeMaster)
	w := doRequest(t, s, http.MethodGet, "/sync/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success {
		t.Fatalf("success = false, body = %s", w.Body.String())
	}
}

func TestHandleStatusReplica(t *testing.T) {
	s, _, _ := newTestServer(t, config.ModeReplica)
	w := doRequest(t, s, http.MethodGet, "/sync/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestHandlePushAppliesChangesAndReportsProcessed(t *testing.T) {
	s, _, adapter := newTestServer(t, config.ModeMaster)

	body := map[string]any{
		"peerId": "ship-2",
		"changes": []map[string]any{
			{
				"schemaVersion": 1,
				"messageId":     "ship-2-1-article-1",
				"shipId":        "ship-2",
				"timestamp":     time.Now().UTC().Format(time.RFC3339),
				"operation":     "create",
				"contentType":   "article",
				"contentId":     "article-1",
				"version":       1,
				"data":          map[string]any{"title": "hello"},
			},
		},
	}

	w := doRequest(t, s, http.MethodPost, "/sync/push", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool         `json:"success"`
		Data    PushResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success {
		t.Fatalf("success = false, body = %s", w.Body.String())
	}
	if resp.Data.Processed != 1 {
		t.Errorf("processed = %d, want 1", resp.Data.Processed)
	}

	got, err := adapter.Get(context.Background(), "article", "article-1")
	if err != nil {
		t.Fatalf("adapter.Get() error = %v", err)
	}
	if len(got) == 0 {
		t.Error("expected entity to have been created by push")
	}
}

func TestHandlePushRejectedOnReplica(t *testing.T) {
	s, _, _ := newTestServer(t, config.ModeReplica)
	w := doRequest(t, s, http.MethodPost, "/sync/push", map[string]any{"peerId": "x", "changes": []any{}})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestHandlePullReturnsChangesSinceTimestamp(t *testing.T) {
	s, db, adapter := newTestServer(t, config.ModeMaster)
	ctx := context.Background()

	if err := adapter.Create(ctx, "article", "article-1", json.RawMessage(`{"title":"a"}`)); err != nil {
		t.Fatalf("adapter.Create() error = %v", err)
	}
	if _, err := db.Metadata().IncrementVersion(ctx, "article", "article-1", "ship-1"); err != nil {
		t.Fatalf("IncrementVersion() error = %v", err)
	}

	since := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	w := doRequest(t, s, http.MethodGet, "/sync/pull?since="+since, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool         `json:"success"`
		Data    PullResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Data.Changes) != 1 {
		t.Fatalf("len(changes) = %d, want 1", len(resp.Data.Changes))
	}
	if resp.Data.Changes[0].ContentID != "article-1" {
		t.Errorf("contentId = %q, want article-1", resp.Data.Changes[0].ContentID)
	}
}

func TestHandlePullRequiresSince(t *testing.T) {
	s, _, _ := newTestServer(t, config.ModeMaster)
	w := doRequest(t, s, http.MethodGet, "/sync/pull", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleListConflictsEmpty(t *testing.T) {
	s, _, _ := newTestServer(t, config.ModeMaster)
	w := doRequest(t, s, http.MethodGet, "/sync/conflicts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleListDeadLettersEmpty(t *testing.T) {
	s, _, _ := newTestServer(t, config.ModeMaster)
	w := doRequest(t, s, http.MethodGet, "/sync/dead-letters", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleResolveDeadLetterNotFound(t *testing.T) {
	s, _, _ := newTestServer(t, config.ModeMaster)
	w := doRequest(t, s, http.MethodPost, "/sync/dead-letters/999/resolve", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", w.Code, w.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t, config.ModeMaster)

	if w := doRequest(t, s, http.MethodGet, "/health/live", nil); w.Code != http.StatusOK {
		t.Fatalf("live status = %d", w.Code)
	}
	if w := doRequest(t, s, http.MethodGet, "/health/ready", nil); w.Code != http.StatusOK {
		t.Fatalf("ready status = %d, body = %s", w.Code, w.Body.String())
	}
}

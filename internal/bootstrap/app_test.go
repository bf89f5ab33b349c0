// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-sync/internal/config"
	"github.com/tomtom215/cartographus-sync/internal/store"
	"github.com/tomtom215/cartographus-sync/internal/wire"
)

func testConfig(t *testing.T, mode config.Mode) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Mode:         mode,
		ShipID:       "ship-1",
		ContentTypes: []string{"article"},
		Bus: config.BusConfig{
			EmbeddedServer:      true,
			StoreDir:            filepath.Join(dir, "nats"),
			MasterTopic:         "master-updates",
			ShipTopic:           "ship-updates",
			StreamRetentionDays: 1,
			MaxReconnects:       5,
			ReconnectWait:       time.Second,
			ConnectTimeout:      10 * time.Second,
			AckWait:             10 * time.Second,
			MaxDeliver:          3,
			MaxAckPending:       64,
			BreakerMaxRequests:  1,
			BreakerInterval:     time.Minute,
			BreakerTimeout:      10 * time.Second,
		},
		Sync: config.SyncConfig{
			HeartbeatInterval:   time.Minute,
			AutoPushInterval:    time.Minute,
			PushDebounce:        time.Second,
			JanitorInterval:     time.Minute,
			BatchSize:           10,
			MaxRetries:          3,
			DedupRetention:      time.Hour,
			QueueRetention:      time.Hour,
			OnlineThreshold:     time.Minute,
			ConnectivityProbe:   time.Minute,
			ReconnectStabilize:  time.Second,
			ConflictStrategy:    "manual",
			ConflictWalkMaxDepth: 5,
		},
		Media: config.MediaConfig{},
		Store: config.StoreConfig{
			SQLitePath: filepath.Join(dir, "sync.db"),
			CMSPath:    filepath.Join(dir, "cms.db"),
			BadgerDir:  filepath.Join(dir, "dedup"),
		},
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: config.LoggingConfig{Level: "error", Format: "console"},
	}
	return cfg
}

func TestNewBuildsMasterApp(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded-NATS integration test in short mode")
	}
	cfg := testConfig(t, config.ModeMaster)

	app, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	if app.tree == nil {
		t.Fatal("New() did not build a supervisor tree")
	}
	if app.peers == nil {
		t.Error("master mode should build a PeerTracker")
	}
	if app.conn != nil {
		t.Error("master mode should not build a ConnectivityMonitor")
	}
	if app.consumeTopic != cfg.Bus.ShipTopic {
		t.Errorf("consumeTopic = %q, want %q", app.consumeTopic, cfg.Bus.ShipTopic)
	}
	if app.sendTopic != cfg.Bus.MasterTopic {
		t.Errorf("sendTopic = %q, want %q", app.sendTopic, cfg.Bus.MasterTopic)
	}
}

func TestNewBuildsReplicaApp(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded-NATS integration test in short mode")
	}
	cfg := testConfig(t, config.ModeReplica)

	app, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	if app.conn == nil {
		t.Error("replica mode should build a ConnectivityMonitor")
	}
	if app.peers != nil {
		t.Error("replica mode should not build a PeerTracker")
	}
	if app.consumeTopic != cfg.Bus.MasterTopic {
		t.Errorf("consumeTopic = %q, want %q", app.consumeTopic, cfg.Bus.MasterTopic)
	}
	if app.sendTopic != cfg.Bus.ShipTopic {
		t.Errorf("sendTopic = %q, want %q", app.sendTopic, cfg.Bus.ShipTopic)
	}
}

type fakeMediaPreparer struct {
	called  bool
	data    json.RawMessage
	records []wire.FileRecord
}

func (f *fakeMediaPreparer) PrepareForPush(ctx context.Context, data json.RawMessage) (json.RawMessage, []wire.FileRecord, error) {
	f.called = true
	return f.data, f.records, nil
}

func TestPushPendingRewritesMediaBeforeSending(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded-NATS integration test in short mode")
	}
	cfg := testConfig(t, config.ModeReplica)

	app, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	fake := &fakeMediaPreparer{
		data:    json.RawMessage(`{"url":"https://master.example/files/x"}`),
		records: []wire.FileRecord{{ID: "x"}},
	}
	app.pushMedia = fake

	queue := app.db.Queue(outboundQueue(cfg.Mode))
	if err := queue.Enqueue(context.Background(), &store.QueueEntry{
		ShipID:       cfg.ShipID,
		ContentType:  "article",
		ContentID:    "1",
		Operation:    wire.OpCreate,
		LocalVersion: 1,
		Data:         []byte(`{"url":"local-store://files/x"}`),
	}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	pushPending(context.Background(), app)

	if !fake.called {
		t.Error("pushPending did not call PrepareForPush before sending to master")
	}

	pending, err := queue.GetPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetPending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("entry was not marked synced after push, pending = %d", len(pending))
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded-NATS integration test in short mode")
	}
	cfg := testConfig(t, config.ModeReplica)

	app, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil && err != context.DeadlineExceeded {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

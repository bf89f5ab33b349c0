// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package cms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

// Store is a sqlite-backed reference Adapter implementation: one table
// holding opaque JSON payloads keyed by (content_type, entity_id). Real
// deployments wire the sync daemon to their own CMS's document store
// instead; Store exists for standalone operation and for tests.
type Store struct {
	conn         *sql.DB
	contentTypes map[string]struct{} // empty set means "allow all"

	hooksMu sync.RWMutex
	hooks   []MiddlewareFunc
}

// Open creates (or attaches to) the content table at path. contentTypes is
// the allow-list from configuration; an empty list allows every type.
func Open(path string, contentTypes []string) (*Store, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cms store: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS content_entity (
			content_type TEXT NOT NULL,
			entity_id    TEXT NOT NULL,
			data         TEXT NOT NULL,
			PRIMARY KEY (content_type, entity_id)
		)`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create content_entity table: %w", err)
	}

	allow := make(map[string]struct{}, len(contentTypes))
	for _, ct := range contentTypes {
		allow[ct] = struct{}{}
	}
	return &Store{conn: conn, contentTypes: allow}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.conn.Close() }

// KnownContentType reports whether contentType is on the configured
// allow-list, or allows everything if the list is empty.
func (s *Store) KnownContentType(contentType string) bool {
	if len(s.contentTypes) == 0 {
		return true
	}
	_, ok := s.contentTypes[contentType]
	return ok
}

// Get returns the stored payload, or ErrNotFound.
func (s *Store) Get(ctx context.Context, contentType, entityID string) (json.RawMessage, error) {
	var data string
	err := s.conn.QueryRowContext(ctx,
		`SELECT data FROM content_entity WHERE content_type = ? AND entity_id = ?`,
		contentType, entityID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return json.RawMessage(data), nil
}

// Create inserts a new entity.
func (s *Store) Create(ctx context.Context, contentType, entityID string, data json.RawMessage) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO content_entity (content_type, entity_id, data) VALUES (?, ?, ?)
		 ON CONFLICT(content_type, entity_id) DO UPDATE SET data = excluded.data`,
		contentType, entityID, string(data))
	if err != nil {
		return fmt.Errorf("create entity: %w", err)
	}
	s.runHooks(ctx, OpCreate, contentType, entityID, data)
	return nil
}

// Update overwrites an existing entity's payload, creating it if absent
// (mirrors a CMS upsert — the resolver decides whether that's appropriate).
func (s *Store) Update(ctx context.Context, contentType, entityID string, data json.RawMessage) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO content_entity (content_type, entity_id, data) VALUES (?, ?, ?)
		 ON CONFLICT(content_type, entity_id) DO UPDATE SET data = excluded.data`,
		contentType, entityID, string(data))
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	s.runHooks(ctx, OpUpdate, contentType, entityID, data)
	return nil
}

// Delete removes an entity. Deleting an absent entity is a no-op.
func (s *Store) Delete(ctx context.Context, contentType, entityID string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM content_entity WHERE content_type = ? AND entity_id = ?`, contentType, entityID)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	s.runHooks(ctx, OpDelete, contentType, entityID, nil)
	return nil
}

// RegisterMiddleware attaches hook to run after every successful
// Create/Update/Delete, in registration order.
func (s *Store) RegisterMiddleware(hook MiddlewareFunc) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *Store) runHooks(ctx context.Context, op Operation, contentType, entityID string, data json.RawMessage) {
	s.hooksMu.RLock()
	hooks := s.hooks
	s.hooksMu.RUnlock()

	res := Result{ContentType: contentType, EntityID: entityID, Data: data}
	for _, hook := range hooks {
		hook(ctx, op, res)
	}
}

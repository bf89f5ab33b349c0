// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package store

import (
	"context"
	"fmt"
)

// Migration is a versioned, append-only schema change. Once a version has
// shipped it is never modified; new schema changes get the next version.
type Migration struct {
	Version     int
	Name        string
	Description string
	SQL         string
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Name:        "initial_schema",
			Description: "sync_metadata, queue, conflict_log, peer_session, dead_letter",
			SQL: `
CREATE TABLE IF NOT EXISTS sync_metadata (
	content_type         TEXT NOT NULL,
	entity_id            TEXT NOT NULL,
	sync_version         INTEGER NOT NULL DEFAULT 0,
	modified_by_location  TEXT NOT NULL DEFAULT '',
	last_synced_at        TIMESTAMP,
	sync_status           TEXT NOT NULL DEFAULT 'pending' CHECK (sync_status IN ('pending','synced','conflict')),
	conflict_flag         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (content_type, entity_id)
);

CREATE TABLE IF NOT EXISTS sync_queue (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	queue_name    TEXT NOT NULL,
	ship_id       TEXT NOT NULL,
	content_type  TEXT NOT NULL,
	content_id    TEXT NOT NULL,
	operation     TEXT NOT NULL CHECK (operation IN ('create','update','delete','publish')),
	local_version INTEGER NOT NULL DEFAULT 0,
	data          TEXT,
	locale        TEXT,
	status        TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','sent','failed')),
	retry_count   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	sent_at       TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_queue_pending_key
	ON sync_queue (queue_name, content_type, content_id, COALESCE(locale, ''))
	WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_sync_queue_pending_order
	ON sync_queue (queue_name, status, created_at);

CREATE TABLE IF NOT EXISTS conflict_log (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	content_type       TEXT NOT NULL,
	entity_id          TEXT NOT NULL,
	local_data         TEXT,
	remote_data        TEXT,
	conflicting_fields TEXT,
	conflict_type      TEXT NOT NULL CHECK (conflict_type IN ('direct','indirect','structural')),
	status             TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','resolved')),
	resolution         TEXT CHECK (resolution IS NULL OR resolution IN ('keep_local','keep_remote','merge')),
	merged_data        TEXT,
	created_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	resolved_at        TIMESTAMP,
	resolved_by        TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conflict_log_pending_key
	ON conflict_log (content_type, entity_id)
	WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS peer_session (
	peer_id            TEXT PRIMARY KEY,
	last_seen_at       TIMESTAMP,
	is_online          INTEGER NOT NULL DEFAULT 0,
	online_threshold_s INTEGER NOT NULL DEFAULT 300,
	last_sync_at       TIMESTAMP,
	last_sync_status   TEXT CHECK (last_sync_status IS NULL OR last_sync_status IN ('success','partial','failed')),
	total_syncs        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS dead_letter (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id  TEXT NOT NULL,
	payload     TEXT NOT NULL,
	reason      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_dead_letter_unresolved ON dead_letter (resolved_at);
`,
		},
		{
			Version:     2,
			Name:        "sync_metadata_updated_at",
			Description: "add updated_at to sync_metadata so pull can query changes since a timestamp",
			SQL: `
ALTER TABLE sync_metadata ADD COLUMN updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP;

CREATE INDEX IF NOT EXISTS idx_sync_metadata_updated_at ON sync_metadata (updated_at);
`,
		},
	}
}

func (db *DB) runMigrations(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schemaMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[int]struct{})
	rows, err := db.conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range migrations() {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if _, err := db.conn.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration v%d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := db.conn.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, description) VALUES (?, ?, ?)`,
			m.Version, m.Name, m.Description); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

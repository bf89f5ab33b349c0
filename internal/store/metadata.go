// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SyncStatus is the replication state of a SyncMetadata row.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSynced   SyncStatus = "synced"
	StatusConflict SyncStatus = "conflict"
)

// SyncMetadata tracks the replication state of one (contentType, entityId)
// pair. syncVersion only ever increases.
type SyncMetadata struct {
	ContentType        string
	EntityID            string
	SyncVersion         uint64
	ModifiedByLocation string
	LastSyncedAt        *time.Time
	UpdatedAt           time.Time
	SyncStatus          SyncStatus
	ConflictFlag        bool
}

// ErrMetadataNotFound is returned when no SyncMetadata row exists for a key.
var ErrMetadataNotFound = errors.New("sync metadata not found")

// MetadataRepo persists SyncMetadata rows.
type MetadataRepo struct{ db *DB }

func (db *DB) Metadata() *MetadataRepo { return &MetadataRepo{db: db} }

// Get returns the SyncMetadata for (contentType, entityID), or
// ErrMetadataNotFound if none exists.
func (r *MetadataRepo) Get(ctx context.Context, contentType, entityID string) (*SyncMetadata, error) {
	row := r.db.conn.QueryRowContext(ctx, `
		SELECT content_type, entity_id, sync_version, modified_by_location,
		       last_synced_at, updated_at, sync_status, conflict_flag
		FROM sync_metadata WHERE content_type = ? AND entity_id = ?`,
		contentType, entityID)
	m, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMetadataNotFound
	}
	return m, err
}

func scanMetadata(row *sql.Row) (*SyncMetadata, error) {
	var m SyncMetadata
	var lastSynced sql.NullTime
	var conflictFlag int
	if err := row.Scan(&m.ContentType, &m.EntityID, &m.SyncVersion, &m.ModifiedByLocation,
		&lastSynced, &m.UpdatedAt, &m.SyncStatus, &conflictFlag); err != nil {
		return nil, err
	}
	if lastSynced.Valid {
		t := lastSynced.Time
		m.LastSyncedAt = &t
	}
	m.ConflictFlag = conflictFlag != 0
	return &m, nil
}

// ListModifiedSince returns sync_metadata rows with updated_at strictly
// after since, newest last, for the management HTTP surface's pull
// endpoint. limit <= 0 means no limit.
func (r *MetadataRepo) ListModifiedSince(ctx context.Context, since time.Time, limit int) ([]*SyncMetadata, error) {
	query := `
		SELECT content_type, entity_id, sync_version, modified_by_location,
		       last_synced_at, updated_at, sync_status, conflict_flag
		FROM sync_metadata WHERE updated_at > ? ORDER BY updated_at ASC`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list modified since: %w", err)
	}
	defer rows.Close()

	var out []*SyncMetadata
	for rows.Next() {
		var m SyncMetadata
		var lastSynced sql.NullTime
		var conflictFlag int
		if err := rows.Scan(&m.ContentType, &m.EntityID, &m.SyncVersion, &m.ModifiedByLocation,
			&lastSynced, &m.UpdatedAt, &m.SyncStatus, &conflictFlag); err != nil {
			return nil, fmt.Errorf("scan modified metadata: %w", err)
		}
		if lastSynced.Valid {
			t := lastSynced.Time
			m.LastSyncedAt = &t
		}
		m.ConflictFlag = conflictFlag != 0
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modified metadata: %w", err)
	}
	return out, nil
}

// IncrementVersion atomically bumps syncVersion for (contentType, entityID),
// initializing it to 1 if the row does not yet exist, and records peerID as
// the modifying location with syncStatus reset to pending. Returns the new
// version.
func (r *MetadataRepo) IncrementVersion(ctx context.Context, contentType, entityID, peerID string) (uint64, error) {
	var newVersion uint64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var current uint64
		err := tx.QueryRowContext(ctx,
			`SELECT sync_version FROM sync_metadata WHERE content_type = ? AND entity_id = ?`,
			contentType, entityID).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			newVersion = 1
			_, err = tx.ExecContext(ctx, `
				INSERT INTO sync_metadata (content_type, entity_id, sync_version, modified_by_location, sync_status, updated_at)
				VALUES (?, ?, ?, ?, 'pending', CURRENT_TIMESTAMP)`,
				contentType, entityID, newVersion, peerID)
			return err
		case err != nil:
			return err
		default:
			newVersion = current + 1
			_, err = tx.ExecContext(ctx, `
				UPDATE sync_metadata SET sync_version = ?, modified_by_location = ?, sync_status = 'pending', updated_at = CURRENT_TIMESTAMP
				WHERE content_type = ? AND entity_id = ?`,
				newVersion, peerID, contentType, entityID)
			return err
		}
	})
	if err != nil {
		return 0, fmt.Errorf("increment version: %w", err)
	}
	return newVersion, nil
}

// MarkSynced clears conflictFlag and sets syncStatus = synced, lastSyncedAt = now.
func (r *MetadataRepo) MarkSynced(ctx context.Context, contentType, entityID string) error {
	_, err := r.db.conn.ExecContext(ctx, `
		UPDATE sync_metadata SET sync_status = 'synced', conflict_flag = 0, last_synced_at = CURRENT_TIMESTAMP
		WHERE content_type = ? AND entity_id = ?`,
		contentType, entityID)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// MarkConflict sets syncStatus = conflict, conflictFlag = true.
func (r *MetadataRepo) MarkConflict(ctx context.Context, contentType, entityID string) error {
	_, err := r.db.conn.ExecContext(ctx, `
		UPDATE sync_metadata SET sync_status = 'conflict', conflict_flag = 1
		WHERE content_type = ? AND entity_id = ?`,
		contentType, entityID)
	if err != nil {
		return fmt.Errorf("mark conflict: %w", err)
	}
	return nil
}

// Delete removes the SyncMetadata row for a deleted entity.
func (r *MetadataRepo) Delete(ctx context.Context, contentType, entityID string) error {
	_, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM sync_metadata WHERE content_type = ? AND entity_id = ?`,
		contentType, entityID)
	if err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	return nil
}

// ConflictKind classifies how local and remote metadata/payloads diverge.
type ConflictKind string

const (
	ConflictNone       ConflictKind = ""
	ConflictDirect     ConflictKind = "direct"
	ConflictStructural ConflictKind = "structural"
)

// DetectConflict compares local against the version carried by an incoming
// remote message. Equal syncVersion means no conflict. The caller is
// responsible for the per-field structural diff (it needs the actual
// payloads, which this package does not hold); this helper only resolves
// the version-equality fast path.
func DetectConflict(localVersion, remoteVersion uint64) (hasConflict bool) {
	return localVersion != remoteVersion
}

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
	"strings"
	"time"
)

// ConflictStatus is the resolution state of a ConflictLog row.
type ConflictStatus string

const (
	ConflictStatusPending  ConflictStatus = "pending"
	ConflictStatusResolved ConflictStatus = "resolved"
)

// Resolution is the chosen outcome of a resolved conflict.
type Resolution string

const (
	ResolutionKeepLocal  Resolution = "keep_local"
	ResolutionKeepRemote Resolution = "keep_remote"
	ResolutionMerge      Resolution = "merge"
)

// ConflictLogEntry records a detected divergence between local and remote
// state for one entity, pending or resolved.
type ConflictLogEntry struct {
	ID                int64
	ContentType       string
	EntityID          string
	LocalData         []byte
	RemoteData        []byte
	ConflictingFields []string
	ConflictType      ConflictKind
	Status            ConflictStatus
	Resolution        *Resolution
	MergedData        []byte
	CreatedAt         time.Time
	ResolvedAt        *time.Time
	ResolvedBy        string
}

// ErrConflictNotFound is returned when no ConflictLog row matches an id.
var ErrConflictNotFound = errors.New("conflict log entry not found")

// ConflictRepo persists ConflictLog rows.
type ConflictRepo struct{ db *DB }

func (db *DB) Conflicts() *ConflictRepo { return &ConflictRepo{db: db} }

// Upsert inserts a new pending conflict, or if a pending row already exists
// for (contentType, entityId) overwrites it with the latest remote data and
// field list, keeping the invariant of at most one pending row per key.
func (r *ConflictRepo) Upsert(ctx context.Context, e *ConflictLogEntry) error {
	fields := strings.Join(e.ConflictingFields, ",")
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM conflict_log WHERE content_type = ? AND entity_id = ? AND status = 'pending'`,
			e.ContentType, e.EntityID).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `
				INSERT INTO conflict_log (content_type, entity_id, local_data, remote_data, conflicting_fields, conflict_type, status)
				VALUES (?, ?, ?, ?, ?, ?, 'pending')`,
				e.ContentType, e.EntityID, e.LocalData, e.RemoteData, fields, e.ConflictType)
			return err
		case err != nil:
			return err
		default:
			_, err = tx.ExecContext(ctx, `
				UPDATE conflict_log SET local_data = ?, remote_data = ?, conflicting_fields = ?, conflict_type = ?
				WHERE id = ?`,
				e.LocalData, e.RemoteData, fields, e.ConflictType, id)
			return err
		}
	})
}

// Get returns a conflict log entry by id.
func (r *ConflictRepo) Get(ctx context.Context, id int64) (*ConflictLogEntry, error) {
	row := r.db.conn.QueryRowContext(ctx, `
		SELECT id, content_type, entity_id, local_data, remote_data, conflicting_fields, conflict_type,
		       status, resolution, merged_data, created_at, resolved_at, COALESCE(resolved_by, '')
		FROM conflict_log WHERE id = ?`, id)
	e, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConflictNotFound
	}
	return e, err
}

func scanConflict(row *sql.Row) (*ConflictLogEntry, error) {
	var e ConflictLogEntry
	var fields string
	var resolution sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&e.ID, &e.ContentType, &e.EntityID, &e.LocalData, &e.RemoteData, &fields,
		&e.ConflictType, &e.Status, &resolution, &e.MergedData, &e.CreatedAt, &resolvedAt, &e.ResolvedBy); err != nil {
		return nil, err
	}
	if fields != "" {
		e.ConflictingFields = strings.Split(fields, ",")
	}
	if resolution.Valid {
		res := Resolution(resolution.String)
		e.Resolution = &res
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	return &e, nil
}

// ListPending returns all unresolved conflicts, newest first.
func (r *ConflictRepo) ListPending(ctx context.Context) ([]*ConflictLogEntry, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, content_type, entity_id, local_data, remote_data, conflicting_fields, conflict_type,
		       status, resolution, merged_data, created_at, resolved_at, COALESCE(resolved_by, '')
		FROM conflict_log WHERE status = 'pending' ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list pending conflicts: %w", err)
	}
	defer rows.Close()

	var out []*ConflictLogEntry
	for rows.Next() {
		var e ConflictLogEntry
		var fields string
		var resolution sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.ContentType, &e.EntityID, &e.LocalData, &e.RemoteData, &fields,
			&e.ConflictType, &e.Status, &resolution, &e.MergedData, &e.CreatedAt, &resolvedAt, &e.ResolvedBy); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		if fields != "" {
			e.ConflictingFields = strings.Split(fields, ",")
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Resolve records the chosen resolution and, for merge, the merged payload,
// marking the conflict resolved.
func (r *ConflictRepo) Resolve(ctx context.Context, id int64, resolution Resolution, mergedData []byte, resolvedBy string) error {
	_, err := r.db.conn.ExecContext(ctx, `
		UPDATE conflict_log SET status = 'resolved', resolution = ?, merged_data = ?,
			resolved_at = CURRENT_TIMESTAMP, resolved_by = ?
		WHERE id = ?`, resolution, mergedData, resolvedBy, id)
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	return nil
}

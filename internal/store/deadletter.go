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

// DeadLetterEntry quarantines a message that could not be applied.
type DeadLetterEntry struct {
	ID         int64
	MessageID  string
	Payload    []byte
	Reason     string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// ErrDeadLetterNotFound is returned when no dead-letter row matches an id.
var ErrDeadLetterNotFound = errors.New("dead letter entry not found")

// DeadLetterRepo persists DeadLetter rows.
type DeadLetterRepo struct{ db *DB }

func (db *DB) DeadLetters() *DeadLetterRepo { return &DeadLetterRepo{db: db} }

// Add quarantines payload under messageId with reason.
func (r *DeadLetterRepo) Add(ctx context.Context, messageID string, payload []byte, reason string) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO dead_letter (message_id, payload, reason) VALUES (?, ?, ?)`,
		messageID, payload, reason)
	if err != nil {
		return 0, fmt.Errorf("add dead letter: %w", err)
	}
	return res.LastInsertId()
}

// List returns unresolved dead letters, newest first, capped at limit.
func (r *DeadLetterRepo) List(ctx context.Context, limit int) ([]*DeadLetterEntry, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, message_id, payload, reason, created_at, resolved_at
		FROM dead_letter WHERE resolved_at IS NULL ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*DeadLetterEntry
	for rows.Next() {
		e, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanDeadLetter(rows *sql.Rows) (*DeadLetterEntry, error) {
	var e DeadLetterEntry
	var resolvedAt sql.NullTime
	if err := rows.Scan(&e.ID, &e.MessageID, &e.Payload, &e.Reason, &e.CreatedAt, &resolvedAt); err != nil {
		return nil, fmt.Errorf("scan dead letter: %w", err)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	return &e, nil
}

// Resolve marks a dead letter as handled (replayed, discarded, or fixed
// manually).
func (r *DeadLetterRepo) Resolve(ctx context.Context, id int64) error {
	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE dead_letter SET resolved_at = CURRENT_TIMESTAMP WHERE id = ? AND resolved_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDeadLetterNotFound
	}
	return nil
}

// Prune deletes resolved dead letters older than retention, mirroring
// QueueRepo.Prune so resolved quarantine rows don't accumulate forever.
func (r *DeadLetterRepo) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM dead_letter WHERE resolved_at IS NOT NULL AND resolved_at < ?`,
		time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune dead letters: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of unresolved dead letters, for metrics.
func (r *DeadLetterRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dead_letter WHERE resolved_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/cartographus-sync/internal/wire"
)

// QueueStatus is the delivery state of a QueueEntry.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueSent    QueueStatus = "sent"
	QueueFailed  QueueStatus = "failed"
)

// Queue names the two outbound queues sharing this repository's shape: the
// replica's outbound queue to the master, and the master's broadcast queue,
// used when its bus producer is disconnected or an immediate publish fails.
type Queue string

const (
	QueueReplicaOutbound Queue = "replica_outbound"
	QueueMasterBroadcast Queue = "master_broadcast"
)

// QueueEntry is one pending, sent, or failed outbound sync operation.
type QueueEntry struct {
	ID           int64
	ShipID       string
	ContentType  string
	ContentID    string
	Operation    wire.Operation
	LocalVersion uint64
	Data         []byte
	Locale       *string
	Status       QueueStatus
	RetryCount   int
	ErrorMessage string
	CreatedAt    time.Time
	SentAt       *time.Time
}

// QueueRepo persists QueueEntry rows for a single Queue.
type QueueRepo struct {
	db    *DB
	queue Queue
}

// Queue returns a repository scoped to the named outbound queue.
func (db *DB) Queue(q Queue) *QueueRepo { return &QueueRepo{db: db, queue: q} }

// Enqueue inserts a new pending entry, or — if a pending row already exists
// for the same (contentType, contentId, locale) — overwrites its data,
// operation, and version and resets retryCount to 0, collapsing rapid
// successive edits into a single outbound message.
func (r *QueueRepo) Enqueue(ctx context.Context, e *QueueEntry) error {
	locale := ""
	if e.Locale != nil {
		locale = *e.Locale
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM sync_queue
			WHERE queue_name = ? AND content_type = ? AND content_id = ? AND COALESCE(locale, '') = ? AND status = 'pending'`,
			r.queue, e.ContentType, e.ContentID, locale).Scan(&id)
		switch {
		case err == sql.ErrNoRows:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO sync_queue (queue_name, ship_id, content_type, content_id, operation,
					local_version, data, locale, status)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending')`,
				r.queue, e.ShipID, e.ContentType, e.ContentID, e.Operation, e.LocalVersion, e.Data, e.Locale)
			return err
		case err != nil:
			return err
		default:
			_, err = tx.ExecContext(ctx, `
				UPDATE sync_queue SET operation = ?, local_version = ?, data = ?, retry_count = 0, error_message = NULL
				WHERE id = ?`,
				e.Operation, e.LocalVersion, e.Data, id)
			return err
		}
	})
}

// GetPending returns up to limit pending rows, oldest first.
func (r *QueueRepo) GetPending(ctx context.Context, limit int) ([]*QueueEntry, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, ship_id, content_type, content_id, operation, local_version, data, locale,
		       status, retry_count, COALESCE(error_message, ''), created_at, sent_at
		FROM sync_queue WHERE queue_name = ? AND status = 'pending'
		ORDER BY created_at ASC LIMIT ?`, r.queue, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending queue entries: %w", err)
	}
	defer rows.Close()

	var out []*QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanQueueEntry(rows *sql.Rows) (*QueueEntry, error) {
	var e QueueEntry
	var locale sql.NullString
	var sentAt sql.NullTime
	if err := rows.Scan(&e.ID, &e.ShipID, &e.ContentType, &e.ContentID, &e.Operation, &e.LocalVersion,
		&e.Data, &locale, &e.Status, &e.RetryCount, &e.ErrorMessage, &e.CreatedAt, &sentAt); err != nil {
		return nil, fmt.Errorf("scan queue entry: %w", err)
	}
	if locale.Valid {
		e.Locale = &locale.String
	}
	if sentAt.Valid {
		t := sentAt.Time
		e.SentAt = &t
	}
	return &e, nil
}

// MarkSynced sets status = sent, sentAt = now.
func (r *QueueRepo) MarkSynced(ctx context.Context, id int64) error {
	_, err := r.db.conn.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'sent', sent_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark queue entry synced: %w", err)
	}
	return nil
}

// MarkFailed increments retryCount; once it reaches maxRetries the entry is
// marked failed, otherwise it is left pending for the next pass.
func (r *QueueRepo) MarkFailed(ctx context.Context, id int64, cause error, maxRetries int) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var retryCount int
		if err := tx.QueryRowContext(ctx, `SELECT retry_count FROM sync_queue WHERE id = ?`, id).Scan(&retryCount); err != nil {
			return err
		}
		retryCount++
		status := string(QueuePending)
		if retryCount >= maxRetries {
			status = string(QueueFailed)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE sync_queue SET retry_count = ?, status = ?, error_message = ? WHERE id = ?`,
			retryCount, status, cause.Error(), id)
		return err
	})
}

// RetryFailed moves failed rows below the retry cap back to pending.
func (r *QueueRepo) RetryFailed(ctx context.Context, maxRetries int) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'pending' WHERE queue_name = ? AND status = 'failed' AND retry_count < ?`,
		r.queue, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("retry failed queue entries: %w", err)
	}
	return res.RowsAffected()
}

// Prune removes sent rows older than retention.
func (r *QueueRepo) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE queue_name = ? AND status = 'sent' AND sent_at < ?`,
		r.queue, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune queue entries: %w", err)
	}
	return res.RowsAffected()
}

// Depth returns the count of pending rows, for metrics/observability.
func (r *QueueRepo) Depth(ctx context.Context) (int, error) {
	var n int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE queue_name = ? AND status = 'pending'`, r.queue).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

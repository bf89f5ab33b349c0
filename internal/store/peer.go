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

// SyncOutcome is the result of a peer's most recent sync pass.
type SyncOutcome string

const (
	OutcomeSuccess SyncOutcome = "success"
	OutcomePartial SyncOutcome = "partial"
	OutcomeFailed  SyncOutcome = "failed"
)

// PeerSession tracks one replica's liveness and sync history, as seen by
// the master.
type PeerSession struct {
	PeerID            string
	LastSeenAt        *time.Time
	IsOnline          bool
	OnlineThreshold   time.Duration
	LastSyncAt        *time.Time
	LastSyncStatus    *SyncOutcome
	TotalSyncs        int64
}

// ErrPeerNotFound is returned when no PeerSession row exists for a peer id.
var ErrPeerNotFound = errors.New("peer session not found")

// PeerRepo persists PeerSession rows.
type PeerRepo struct{ db *DB }

func (db *DB) Peers() *PeerRepo { return &PeerRepo{db: db} }

const defaultOnlineThreshold = 300 * time.Second

// RecordActivity upserts a PeerSession, setting lastSeenAt = now and
// isOnline = true.
func (r *PeerRepo) RecordActivity(ctx context.Context, peerID string) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO peer_session (peer_id, last_seen_at, is_online, online_threshold_s)
		VALUES (?, CURRENT_TIMESTAMP, 1, ?)
		ON CONFLICT(peer_id) DO UPDATE SET last_seen_at = CURRENT_TIMESTAMP, is_online = 1`,
		peerID, int64(defaultOnlineThreshold.Seconds()))
	if err != nil {
		return fmt.Errorf("record peer activity: %w", err)
	}
	return nil
}

// UpdateSyncStatus advances lastSyncAt, lastSyncStatus, and totalSyncs (by
// count, default 1) for a peer.
func (r *PeerRepo) UpdateSyncStatus(ctx context.Context, peerID string, outcome SyncOutcome, count int64) error {
	if count <= 0 {
		count = 1
	}
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO peer_session (peer_id, last_sync_at, last_sync_status, total_syncs)
		VALUES (?, CURRENT_TIMESTAMP, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			last_sync_at = CURRENT_TIMESTAMP, last_sync_status = ?, total_syncs = total_syncs + ?`,
		peerID, outcome, count, outcome, count)
	if err != nil {
		return fmt.Errorf("update peer sync status: %w", err)
	}
	return nil
}

// GetStatus returns the peer's session, recomputing and persisting isOnline
// from lastSeenAt vs onlineThreshold.
func (r *PeerRepo) GetStatus(ctx context.Context, peerID string) (*PeerSession, error) {
	p, err := r.get(ctx, peerID)
	if err != nil {
		return nil, err
	}
	online := p.LastSeenAt != nil && time.Since(*p.LastSeenAt) < p.OnlineThreshold
	if online != p.IsOnline {
		if _, err := r.db.conn.ExecContext(ctx,
			`UPDATE peer_session SET is_online = ? WHERE peer_id = ?`, online, peerID); err != nil {
			return nil, fmt.Errorf("persist online transition: %w", err)
		}
		p.IsOnline = online
	}
	return p, nil
}

func (r *PeerRepo) get(ctx context.Context, peerID string) (*PeerSession, error) {
	row := r.db.conn.QueryRowContext(ctx, `
		SELECT peer_id, last_seen_at, is_online, online_threshold_s, last_sync_at, last_sync_status, total_syncs
		FROM peer_session WHERE peer_id = ?`, peerID)

	var p PeerSession
	var lastSeen, lastSync sql.NullTime
	var lastSyncStatus sql.NullString
	var thresholdS int64
	if err := row.Scan(&p.PeerID, &lastSeen, &p.IsOnline, &thresholdS, &lastSync, &lastSyncStatus, &p.TotalSyncs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPeerNotFound
		}
		return nil, fmt.Errorf("get peer session: %w", err)
	}
	p.OnlineThreshold = time.Duration(thresholdS) * time.Second
	if lastSeen.Valid {
		t := lastSeen.Time
		p.LastSeenAt = &t
	}
	if lastSync.Valid {
		t := lastSync.Time
		p.LastSyncAt = &t
	}
	if lastSyncStatus.Valid {
		o := SyncOutcome(lastSyncStatus.String)
		p.LastSyncStatus = &o
	}
	return &p, nil
}

// MarkOfflinePeers flips every session whose lastSeenAt is older than its
// onlineThreshold to isOnline = false, returning the count flipped. Run
// periodically by the peer-liveness janitor.
func (r *PeerRepo) MarkOfflinePeers(ctx context.Context) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE peer_session SET is_online = 0
		WHERE is_online = 1 AND last_seen_at IS NOT NULL
		  AND (unixepoch('now') - unixepoch(last_seen_at)) >= online_threshold_s`)
	if err != nil {
		return 0, fmt.Errorf("mark offline peers: %w", err)
	}
	return res.RowsAffected()
}

// ListAll returns every known peer session.
func (r *PeerRepo) ListAll(ctx context.Context) ([]*PeerSession, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT peer_id, last_seen_at, is_online, online_threshold_s, last_sync_at, last_sync_status, total_syncs
		FROM peer_session ORDER BY peer_id`)
	if err != nil {
		return nil, fmt.Errorf("list peer sessions: %w", err)
	}
	defer rows.Close()

	var out []*PeerSession
	for rows.Next() {
		var p PeerSession
		var lastSeen, lastSync sql.NullTime
		var lastSyncStatus sql.NullString
		var thresholdS int64
		if err := rows.Scan(&p.PeerID, &lastSeen, &p.IsOnline, &thresholdS, &lastSync, &lastSyncStatus, &p.TotalSyncs); err != nil {
			return nil, fmt.Errorf("scan peer session: %w", err)
		}
		p.OnlineThreshold = time.Duration(thresholdS) * time.Second
		if lastSeen.Valid {
			t := lastSeen.Time
			p.LastSeenAt = &t
		}
		if lastSync.Valid {
			t := lastSync.Time
			p.LastSyncAt = &t
		}
		if lastSyncStatus.Valid {
			o := SyncOutcome(lastSyncStatus.String)
			p.LastSyncStatus = &o
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package liveness

import (
	"context"
	"fmt"

	"github.com/tomtom215/cartographus-sync/internal/logging"
	"github.com/tomtom215/cartographus-sync/internal/metrics"
	"github.com/tomtom215/cartographus-sync/internal/store"
)

// PeerTracker runs on the master: one PeerSession row per replica,
// advanced by heartbeats and sync outcomes, swept periodically for
// replicas that have gone quiet.
type PeerTracker struct {
	repo *store.PeerRepo
}

// NewPeerTracker wraps db's PeerRepo.
func NewPeerTracker(db *store.DB) *PeerTracker {
	return &PeerTracker{repo: db.Peers()}
}

// RecordActivity marks peerID as having been seen just now. meta is
// accepted for callers that carry per-heartbeat diagnostic fields (client
// version, queue depth) but is only logged, not persisted — the reference
// peer_session table has no column for it.
func (t *PeerTracker) RecordActivity(ctx context.Context, peerID string, meta map[string]string) error {
	if len(meta) > 0 {
		logging.CtxDebug(ctx).Str("peerId", peerID).Interface("meta", meta).Msg("peer heartbeat")
	}
	if err := t.repo.RecordActivity(ctx, peerID); err != nil {
		return fmt.Errorf("record peer activity: %w", err)
	}
	return nil
}

// UpdateSyncStatus records the outcome of a peer's most recent sync pass.
func (t *PeerTracker) UpdateSyncStatus(ctx context.Context, peerID string, outcome store.SyncOutcome, count int64) error {
	return t.repo.UpdateSyncStatus(ctx, peerID, outcome, count)
}

// GetStatus returns a peer's current session, recomputing isOnline.
func (t *PeerTracker) GetStatus(ctx context.Context, peerID string) (*store.PeerSession, error) {
	return t.repo.GetStatus(ctx, peerID)
}

// ListPeers returns every known peer session, for the management HTTP
// surface's status endpoint.
func (t *PeerTracker) ListPeers(ctx context.Context) ([]*store.PeerSession, error) {
	return t.repo.ListAll(ctx)
}

// SweepOffline flips every peer whose lastSeenAt has aged past its
// onlineThreshold to offline, and refreshes the PeersOnline gauge. Run by
// the janitor on a 5-minute cadence.
func (t *PeerTracker) SweepOffline(ctx context.Context) (int64, error) {
	flipped, err := t.repo.MarkOfflinePeers(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep offline peers: %w", err)
	}
	peers, err := t.repo.ListAll(ctx)
	if err != nil {
		return flipped, fmt.Errorf("list peers for gauge refresh: %w", err)
	}
	var online int
	for _, p := range peers {
		if p.IsOnline {
			online++
		}
	}
	metrics.PeersOnline.Set(float64(online))
	return flipped, nil
}

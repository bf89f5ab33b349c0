// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-sync/internal/cms"
	"github.com/tomtom215/cartographus-sync/internal/store"
	"github.com/tomtom215/cartographus-sync/internal/syncengine"
	"github.com/tomtom215/cartographus-sync/internal/validation"
	"github.com/tomtom215/cartographus-sync/internal/wire"
)

// PeerStatusView is the master-side per-peer status reported by GET /sync/status.
type PeerStatusView struct {
	PeerID         string     `json:"peerId"`
	IsOnline       bool       `json:"isOnline"`
	LastSeenAt     *time.Time `json:"lastSeenAt,omitempty"`
	LastSyncAt     *time.Time `json:"lastSyncAt,omitempty"`
	LastSyncStatus string     `json:"lastSyncStatus,omitempty"`
}

// ConnectivityView is the replica-side connectivity snapshot reported by
// GET /sync/status.
type ConnectivityView struct {
	IsOnline             bool      `json:"isOnline"`
	LastChecked          time.Time `json:"lastChecked"`
	LastSuccess          time.Time `json:"lastSuccess,omitempty"`
	ConsecutiveFailures  int       `json:"consecutiveFailures"`
	ConsecutiveSuccesses int       `json:"consecutiveSuccesses"`
}

// StatusResponse is the body of GET /sync/status.
type StatusResponse struct {
	Mode             string             `json:"mode"`
	QueueSize        int                `json:"queueSize"`
	LastSync         *time.Time         `json:"lastSync,omitempty"`
	IsOnline         bool               `json:"isOnline"`
	PendingConflicts int                `json:"pendingConflicts"`
	Peers            []PeerStatusView   `json:"peers,omitempty"`
	Connectivity     *ConnectivityView  `json:"connectivity,omitempty"`
}

const statusCacheKey = "sync:status"

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if cached, ok := s.statusCache.Get(statusCacheKey); ok {
		rw.Success(cached)
		return
	}

	resp, err := s.buildStatusResponse(r.Context())
	if err != nil {
		rw.InternalError(err.Error())
		return
	}

	s.statusCache.Set(statusCacheKey, resp)
	rw.Success(resp)
}

func (s *Server) buildStatusResponse(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse

	queueSize := 0
	if s.deps.Queue != nil {
		n, err := s.deps.Queue.Depth(ctx)
		if err != nil {
			return resp, fmt.Errorf("queue depth: %w", err)
		}
		queueSize = n
	}

	pending, err := s.deps.DB.Conflicts().ListPending(ctx)
	if err != nil {
		return resp, fmt.Errorf("list pending conflicts: %w", err)
	}

	resp = StatusResponse{
		Mode:             string(s.deps.Mode),
		QueueSize:        queueSize,
		PendingConflicts: len(pending),
	}

	switch {
	case s.deps.Peers != nil:
		peers, err := s.deps.Peers.ListPeers(ctx)
		if err != nil {
			return resp, fmt.Errorf("list peers: %w", err)
		}
		for _, p := range peers {
			view := PeerStatusView{PeerID: p.PeerID, IsOnline: p.IsOnline, LastSeenAt: p.LastSeenAt, LastSyncAt: p.LastSyncAt}
			if p.LastSyncStatus != nil {
				view.LastSyncStatus = string(*p.LastSyncStatus)
			}
			if p.IsOnline {
				resp.IsOnline = true
			}
			if p.LastSyncAt != nil && (resp.LastSync == nil || p.LastSyncAt.After(*resp.LastSync)) {
				resp.LastSync = p.LastSyncAt
			}
			resp.Peers = append(resp.Peers, view)
		}
	case s.deps.Connectivity != nil:
		state := s.deps.Connectivity.State()
		resp.IsOnline = state.IsOnline
		if !state.LastSuccess.IsZero() {
			resp.LastSync = &state.LastSuccess
		}
		resp.Connectivity = &ConnectivityView{
			IsOnline:             state.IsOnline,
			LastChecked:          state.LastChecked,
			LastSuccess:          state.LastSuccess,
			ConsecutiveFailures:  state.ConsecutiveFailures,
			ConsecutiveSuccesses: state.ConsecutiveSuccesses,
		}
	}

	return resp, nil
}

// PushRequest is the body of POST /sync/push: a batch of changes from peerId
// applied against master state.
type PushRequest struct {
	PeerID  string             `json:"peerId" validate:"required"`
	Changes []wire.SyncMessage `json:"changes" validate:"required"`
}

// PushResponse is the body returned by POST /sync/push.
type PushResponse struct {
	Processed       int      `json:"processed"`
	Conflicts       int      `json:"conflicts"`
	UpdatedEntities []string `json:"updatedEntities"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx := syncengine.WithPeerOrigin(r.Context())
	rw := NewResponseWriter(w, r)

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		rw.BadRequest(verr.Error())
		return
	}

	beforePending, err := s.deps.DB.Conflicts().ListPending(ctx)
	if err != nil {
		rw.InternalError("list pending conflicts: " + err.Error())
		return
	}
	beforeCount := len(beforePending)

	resp := PushResponse{}
	for i := range req.Changes {
		msg := req.Changes[i]
		if msg.ShipID == "" {
			msg.ShipID = req.PeerID
		}
		if err := msg.Validate(); err != nil {
			rw.BadRequest("change " + strconv.Itoa(i) + ": " + err.Error())
			return
		}
		if err := s.deps.Resolver.Apply(ctx, &msg, syncengine.SourceRemote); err != nil {
			rw.InternalError("apply change " + msg.MessageID + ": " + err.Error())
			return
		}
		resp.Processed++
		resp.UpdatedEntities = append(resp.UpdatedEntities, msg.ContentID)
	}

	if s.deps.Peers != nil {
		if err := s.deps.Peers.RecordActivity(ctx, req.PeerID, nil); err != nil {
			rw.InternalError("record peer activity: " + err.Error())
			return
		}
		if err := s.deps.Peers.UpdateSyncStatus(ctx, req.PeerID, store.OutcomeSuccess, int64(resp.Processed)); err != nil {
			rw.InternalError("update peer sync status: " + err.Error())
			return
		}
	}

	afterPending, err := s.deps.DB.Conflicts().ListPending(ctx)
	if err != nil {
		rw.InternalError("list pending conflicts: " + err.Error())
		return
	}
	if diff := len(afterPending) - beforeCount; diff > 0 {
		resp.Conflicts = diff
	}

	if resp.Processed > 0 {
		s.statusCache.Delete(statusCacheKey)
	}

	rw.Success(resp)
}

// PullResponse is the body returned by GET /sync/pull.
type PullResponse struct {
	Changes []wire.SyncMessage `json:"changes"`
}

// handlePull serves the bootstrap-time fallback transport: everything
// modified after `since`, up to `limit` rows, across every content type;
// the requesting peer's own content-type list is not consulted. It is not
// the hot path — NATS JetStream delivers live changes —
// so it rebuilds envelopes from current CMS state rather than from a
// persisted message log.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rw := NewResponseWriter(w, r)

	sinceParam := r.URL.Query().Get("since")
	if sinceParam == "" {
		rw.BadRequest("since query parameter is required (RFC3339 timestamp)")
		return
	}
	since, err := time.Parse(time.RFC3339, sinceParam)
	if err != nil {
		rw.BadRequest("since must be an RFC3339 timestamp")
		return
	}

	limit := 500
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			rw.BadRequest("limit must be a positive integer")
			return
		}
		limit = n
	}

	peerID := r.URL.Query().Get("peer")

	rows, err := s.deps.DB.Metadata().ListModifiedSince(ctx, since, limit)
	if err != nil {
		rw.InternalError("list modified metadata: " + err.Error())
		return
	}

	resp := PullResponse{}
	for _, row := range rows {
		data, getErr := s.deps.Adapter.Get(ctx, row.ContentType, row.EntityID)
		op := wire.OpUpdate
		if getErr != nil {
			if !errors.Is(getErr, cms.ErrNotFound) {
				rw.InternalError("get entity " + row.EntityID + ": " + getErr.Error())
				return
			}
			op = wire.OpDelete
			data = nil
		}
		resp.Changes = append(resp.Changes, wire.SyncMessage{
			SchemaVersion: wire.SchemaVersion,
			MessageID:     row.ContentType + "-" + row.EntityID + "-" + strconv.FormatUint(row.SyncVersion, 10),
			ShipID:        s.shipIDFor(peerID),
			Timestamp:     row.UpdatedAt,
			Operation:     op,
			ContentType:   row.ContentType,
			ContentID:     row.EntityID,
			Version:       row.SyncVersion,
			Data:          data,
		})
	}

	rw.Success(resp)
}

func (s *Server) shipIDFor(requestingPeer string) string {
	if s.deps.ShipID != "" {
		return s.deps.ShipID
	}
	return requestingPeer
}

// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-sync/internal/store"
	"github.com/tomtom215/cartographus-sync/internal/validation"
)

// ConflictView is the JSON shape of a pending or resolved conflict.
type ConflictView struct {
	ID                int64      `json:"id"`
	ContentType       string     `json:"contentType"`
	EntityID          string     `json:"entityId"`
	ConflictingFields []string   `json:"conflictingFields,omitempty"`
	ConflictType      string     `json:"conflictType"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"createdAt"`
	ResolvedAt        *time.Time `json:"resolvedAt,omitempty"`
}

func conflictView(e *store.ConflictLogEntry) ConflictView {
	return ConflictView{
		ID:                e.ID,
		ContentType:       e.ContentType,
		EntityID:          e.EntityID,
		ConflictingFields: e.ConflictingFields,
		ConflictType:      string(e.ConflictType),
		Status:            string(e.Status),
		CreatedAt:         e.CreatedAt,
		ResolvedAt:        e.ResolvedAt,
	}
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.DB.Conflicts().ListPending(r.Context())
	if err != nil {
		NewResponseWriter(w, r).InternalError("list conflicts: " + err.Error())
		return
	}
	views := make([]ConflictView, 0, len(entries))
	for _, e := range entries {
		views = append(views, conflictView(e))
	}
	NewResponseWriter(w, r).Success(views)
}

// ResolveConflictRequest is the body of POST /sync/conflicts/{id}/resolve.
type ResolveConflictRequest struct {
	Resolution string          `json:"resolution" validate:"required,oneof=keep_local keep_remote merge"`
	MergedData json.RawMessage `json:"mergedData,omitempty"`
	ResolvedBy string          `json:"resolvedBy" validate:"required"`
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rw.BadRequest("id must be an integer")
		return
	}

	var req ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		rw.BadRequest(verr.Error())
		return
	}

	if err := s.deps.Resolver.ResolveConflict(r.Context(), id, store.Resolution(req.Resolution), req.MergedData, req.ResolvedBy); err != nil {
		rw.InternalError("resolve conflict: " + err.Error())
		return
	}
	rw.Success(map[string]any{"id": id, "resolved": true})
}

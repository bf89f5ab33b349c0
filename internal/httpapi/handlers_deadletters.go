// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/cartographus-sync/internal/store"
)

// DeadLetterView is the JSON shape of a quarantined message.
type DeadLetterView struct {
	ID         int64      `json:"id"`
	MessageID  string     `json:"messageId"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			rw.BadRequest("limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.deps.DB.DeadLetters().List(r.Context(), limit)
	if err != nil {
		rw.InternalError("list dead letters: " + err.Error())
		return
	}
	views := make([]DeadLetterView, 0, len(entries))
	for _, e := range entries {
		views = append(views, DeadLetterView{
			ID:         e.ID,
			MessageID:  e.MessageID,
			Reason:     e.Reason,
			CreatedAt:  e.CreatedAt,
			ResolvedAt: e.ResolvedAt,
		})
	}
	rw.Success(views)
}

func (s *Server) handleResolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rw.BadRequest("id must be an integer")
		return
	}

	if err := s.deps.DB.DeadLetters().Resolve(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrDeadLetterNotFound) {
			rw.NotFound("dead letter not found")
			return
		}
		rw.InternalError("resolve dead letter: " + err.Error())
		return
	}
	rw.Success(map[string]any{"id": id, "resolved": true})
}

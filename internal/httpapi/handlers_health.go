// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package httpapi

import "net/http"

func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "live"})
}

func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.deps.DB.Ping(ctx); err != nil {
		NewResponseWriter(w, r).ServiceUnavailable("store unreachable")
		return
	}
	NewResponseWriter(w, r).Success(map[string]string{"status": "ready"})
}

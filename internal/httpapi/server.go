// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/cartographus-sync/internal/cache"
	"github.com/tomtom215/cartographus-sync/internal/cms"
	"github.com/tomtom215/cartographus-sync/internal/config"
	"github.com/tomtom215/cartographus-sync/internal/liveness"
	appmiddleware "github.com/tomtom215/cartographus-sync/internal/middleware"
	"github.com/tomtom215/cartographus-sync/internal/store"
	"github.com/tomtom215/cartographus-sync/internal/syncengine"
)

// statusCacheTTL bounds how stale a GET /sync/status response may be. Short
// enough that a monitoring poller never sees data more than a couple of
// seconds old, long enough to absorb a poller hitting the endpoint every
// few hundred milliseconds without re-querying the peer table each time.
const statusCacheTTL = 2 * time.Second

// Deps wires the HTTP surface's collaborators. Peers is nil on a replica;
// Connectivity is nil on a master — each status handler reports whichever
// is present.
type Deps struct {
	Mode     config.Mode
	ShipID   string
	DB       *store.DB
	Adapter  cms.Adapter
	Resolver *syncengine.Resolver
	Queue    *store.QueueRepo

	Peers        *liveness.PeerTracker
	Connectivity *liveness.ConnectivityMonitor
}

// Server is the chi-routed HTTP management surface.
type Server struct {
	deps        Deps
	cfg         config.ServerConfig
	http        *http.Server
	statusCache *cache.Cache
}

// New builds a Server. Call Start to begin serving.
func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{deps: deps, cfg: cfg, statusCache: cache.New(statusCacheTTL)}
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// chiMiddleware adapts an http.HandlerFunc-wrapping middleware to chi's
// func(http.Handler) http.Handler shape.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chiMiddleware(appmiddleware.RequestID))
	r.Use(chiMiddleware(appmiddleware.PrometheusMetrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
	}))

	r.Get("/health/live", s.handleHealthLive)
	r.Get("/health/ready", s.handleHealthReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/sync", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.rateLimitReqs(), s.rateLimitWindow()))
		r.Use(chiMiddleware(appmiddleware.Compression))

		r.Get("/status", s.handleStatus)
		r.Get("/conflicts", s.handleListConflicts)
		r.Post("/conflicts/{id}/resolve", s.handleResolveConflict)
		r.Get("/dead-letters", s.handleListDeadLetters)
		r.Post("/dead-letters/{id}/resolve", s.handleResolveDeadLetter)

		r.Group(func(r chi.Router) {
			r.Use(s.requireMaster)
			r.Post("/push", s.handlePush)
			r.Get("/pull", s.handlePull)
		})
	})

	return r
}

func (s *Server) rateLimitReqs() int {
	if s.cfg.RateLimitReqs > 0 {
		return s.cfg.RateLimitReqs
	}
	return 120
}

func (s *Server) rateLimitWindow() time.Duration {
	if s.cfg.RateLimitWindow > 0 {
		return s.cfg.RateLimitWindow
	}
	return time.Minute
}

// requireMaster rejects push/pull on a replica, where there is no
// authoritative state to serve.
func (s *Server) requireMaster(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Mode != config.ModeMaster {
			NewResponseWriter(w, r).Forbidden("this endpoint is master-only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving and blocks until ctx is cancelled or ListenAndServe
// returns a non-Shutdown error.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("httpapi: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("httpapi: shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout > 0 {
		return s.cfg.ShutdownTimeout
	}
	return 10 * time.Second
}

// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

/*
Package middleware provides HTTP middleware components for the application.

This package implements infrastructure middleware for compression, request ID
tracking, and Prometheus metrics integration. These wrap chi's router via the
chiMiddleware adapter in internal/httpapi, which are func(http.Handler)
http.Handler underneath despite this package's http.HandlerFunc-wrapping
signature.

Key Components:

  - Compression: Gzip compression for responses, used on the /sync routes
  - Request ID: UUID-based request tracking for distributed tracing
  - Prometheus Metrics: HTTP request/response instrumentation

Usage Example - Compression:

	import "github.com/tomtom215/cartographus-sync/internal/middleware"

	r.Use(chiMiddleware(middleware.Compression))

	// Responses are gzip-compressed when the client sends
	// Accept-Encoding: gzip; WebSocket upgrades are left untouched.

Usage Example - Request ID:

	r.Use(chiMiddleware(middleware.RequestID))

	func handler(w http.ResponseWriter, r *http.Request) {
	    requestID := r.Context().Value(middleware.RequestIDKey).(string)
	    log.Printf("[%s] Processing request", requestID)
	}

Thread Safety:

All middleware components are thread-safe:
  - Compression pools gzip writers with sync.Pool
  - Request ID uses context.Context (immutable)
  - Prometheus metrics use atomic operations

See Also:

  - internal/httpapi: chi router wiring these onto routes
  - internal/metrics: Prometheus metrics definitions
*/
package middleware

// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

// Package httpapi exposes the sync daemon's management HTTP surface: status
// reporting, the push/pull fallback transport, and conflict/dead-letter
// operator actions. NATS JetStream is the hot path for change propagation;
// this surface exists for observability and for bootstrapping a replica
// that has no stream history yet.
package httpapi

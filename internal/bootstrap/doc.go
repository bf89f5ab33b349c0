// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

// Package bootstrap wires every component into a supervisor.SupervisorTree
// and owns the process lifetime: config load, store/ledger/adapter setup,
// bus connection, service registration, and ordered cleanup on shutdown.
//
// The tree's three layers map to concrete services built here:
//
//	data:      queue retry/prune loop
//	messaging: bus consumer, auto-push, janitor, and (replica only)
//	           connectivity monitor and heartbeat
//	api:       the management HTTP server
package bootstrap

// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

// Package liveness tracks whether the other side of a sync relationship
// is reachable: PeerTracker on the master (one row per replica, driven by
// heartbeats and successful applies) and ConnectivityMonitor on the
// replica (in-memory bus + optional HTTP probe state, driven by a ticker).
package liveness

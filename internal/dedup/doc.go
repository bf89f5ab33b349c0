// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

// Package dedup implements the ProcessedMessage ledger the bus consumer
// uses to guarantee exactly-once apply under at-least-once delivery. It is
// backed by BadgerDB so entries expire on their own via native TTL, with no
// separate pruning job needed.
package dedup

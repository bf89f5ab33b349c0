// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

/*
Package store is the sqlite-backed relational persistence layer for the
sync daemon: SyncMetadata, the replica outbound and master broadcast
queues, ConflictLog, PeerSession, and DeadLetter.

Schema changes are tracked as versioned migrations in a schema_migrations
table, applied in order and exactly once, the way the teacher's database
package bootstraps its own schema.
*/
package store

// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

/*
Package media mirrors uploaded files between the master's and a replica's
S3-compatible object stores so that content referencing media keeps
working after it crosses the bus. Mirror holds two minio-go clients
(master, local) and exposes the replica-receive path (SyncContentMedia),
the replica-push path (PrepareForPush), and the master-side reconciliation
of replica-provided file records (ProcessReplicaFileRecords).

URL rewriting and path extraction share a single bounded structural walker
(walk.go) so the depth limit and string-matching behavior are identical on
both sides of the mirror.
*/
package media

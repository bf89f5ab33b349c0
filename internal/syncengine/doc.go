// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

/*
Package syncengine holds the two pieces of business logic that sit between
the wire protocol and the CMS: Resolver (apply incoming changes, detect and
record conflicts, perform manual/auto conflict resolution) and Interceptor
(the CMS document-middleware hook that turns a local write into an outbound
sync message).
*/
package syncengine

// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

/*
Package cache provides thread-safe in-memory caching primitives used
throughout the sync engine: a TTL key-value cache for read-mostly HTTP
responses, and an exact-match LRU used as a deduplication fast path.

# Cache

Cache is a generic TTL map with lazy expiration on Get plus a background
cleanup goroutine, used by httpapi.Server to front GET /sync/status: the
handler aggregates several store queries into one response, which is
expensive to rebuild on every poll from a monitoring client but must never
stay stale past a couple of seconds. handlePush deletes the cached entry
immediately after it applies a change, so a push is reflected on the very
next status read regardless of TTL.

	c := cache.New(2 * time.Second)
	if cached, ok := c.Get("sync:status"); ok {
	    return cached
	}
	resp := buildStatusResponse(ctx)
	c.Set("sync:status", resp)

# ExactLRU

ExactLRU implements DeduplicationCache: an exact-match, TTL-bounded LRU with
zero false positives, used by internal/dedup.Ledger to short-circuit a
JetStream redelivery of a message it has already processed without a
BadgerDB read on every retry. Every true result is a genuine repeat; a
probabilistic filter cannot back this cache, since a false positive there
would mean silently dropping a message that was never actually applied.

	fast := cache.NewExactLRU(50_000, retention)
	if fast.Contains(messageID) {
	    return true, nil // already processed, skip the Badger read
	}

# Thread safety

Both types are safe for concurrent use: Cache uses sync.RWMutex, ExactLRU
delegates to the same locking in its backing LRUCache (lru.go).
*/
package cache

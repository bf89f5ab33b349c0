// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package dedup

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-sync/internal/cache"
	"github.com/tomtom215/cartographus-sync/internal/logging"
	"github.com/tomtom215/cartographus-sync/internal/metrics"
)

const keyPrefix = "msg:"

// fastCacheCapacity bounds the in-memory exact-match front for Seen, sized
// for a burst of JetStream redeliveries rather than the ledger's full
// retention window.
const fastCacheCapacity = 50_000

// ErrClosed is returned by Ledger methods after Close has been called.
var ErrClosed = errors.New("dedup ledger is closed")

// entry is the small record stored per processed messageId.
type entry struct {
	ProcessedAt time.Time `json:"processedAt"`
}

// Ledger is the BadgerDB-backed ProcessedMessage store, fronted by an
// in-memory exact-match cache so a burst of redeliveries for the same
// message doesn't round-trip through Badger on every retry.
type Ledger struct {
	db     *badger.DB
	ttl    time.Duration
	fast   *cache.ExactLRU
	closed bool
}

// Open opens (creating if absent) a BadgerDB ledger at dir, with entries
// expiring after retention (the spec's "prune after N days").
func Open(dir string, retention time.Duration) (*Ledger, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open dedup ledger: %w", err)
	}

	logging.Info().Str("dir", dir).Dur("retention", retention).Msg("dedup ledger opened")
	return &Ledger{db: db, ttl: retention, fast: cache.NewExactLRU(fastCacheCapacity, retention)}, nil
}

func (l *Ledger) key(messageID string) []byte {
	return []byte(keyPrefix + messageID)
}

// Seen reports whether messageID has already been recorded as processed.
func (l *Ledger) Seen(messageID string) (bool, error) {
	if l.closed {
		return false, ErrClosed
	}
	if l.fast.Contains(messageID) {
		metrics.DedupHitsTotal.Inc()
		return true, nil
	}
	var seen bool
	err := l.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(l.key(messageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			seen = false
			return nil
		}
		if err != nil {
			return err
		}
		seen = true
		return nil
	})
	if seen {
		metrics.DedupHitsTotal.Inc()
	}
	return seen, err
}

// Record marks messageID as processed, with the ledger's configured TTL.
// It is idempotent: recording an already-seen id is a no-op error-wise.
func (l *Ledger) Record(messageID string) error {
	if l.closed {
		return ErrClosed
	}
	data, err := json.Marshal(entry{ProcessedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal dedup entry: %w", err)
	}
	if err := l.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(l.key(messageID), data)
		if l.ttl > 0 {
			e = e.WithTTL(l.ttl)
		}
		return txn.SetEntry(e)
	}); err != nil {
		return err
	}
	l.fast.Record(messageID)
	return nil
}

// Prune forces a scan-and-delete of entries older than the ledger's
// retention. BadgerDB expires TTL'd keys on its own during compaction; this
// exists as a belt-and-suspenders sweep the janitor can call directly.
func (l *Ledger) Prune() (int, error) {
	if l.closed {
		return 0, ErrClosed
	}
	cutoff := time.Now().Add(-l.ttl)
	count := 0

	err := l.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var e entry
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				continue
			}
			if e.ProcessedAt.Before(cutoff) {
				key := make([]byte, len(item.Key()))
				copy(key, item.Key())
				stale = append(stale, key)
			}
		}
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Size returns the approximate number of tracked messageIds.
func (l *Ledger) Size() (int, error) {
	if l.closed {
		return 0, ErrClosed
	}
	count := 0
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close releases the underlying BadgerDB handle.
func (l *Ledger) Close() error {
	l.closed = true
	return l.db.Close()
}

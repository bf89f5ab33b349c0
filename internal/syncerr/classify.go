// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package syncerr

import "strings"

// Category buckets an opaque error for metrics and dead-letter listing
// when it did not already arrive wrapped as Retryable/Permanent (for
// example, an error surfaced by a third-party client library).
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNetwork
	CategoryTimeout
	CategoryValidation
	CategoryNotFound
	CategoryConflict
	CategoryStorage
)

func (c Category) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryTimeout:
		return "timeout"
	case CategoryValidation:
		return "validation"
	case CategoryNotFound:
		return "not_found"
	case CategoryConflict:
		return "conflict"
	case CategoryStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Classify buckets err by matching well-known substrings in its message.
// Structured errors (Retryable, Permanent, the sentinel vars in this
// package) should be checked with errors.Is/As first; this is a fallback
// for errors that cross a library boundary as a bare string.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "connection refused", "no route to host", "broken pipe", "eof"):
		return CategoryNetwork
	case containsAny(msg, "timeout", "deadline exceeded", "context deadline"):
		return CategoryTimeout
	case containsAny(msg, "validation", "invalid", "required field", "unknown content type"):
		return CategoryValidation
	case containsAny(msg, "not found", "no such", "does not exist"):
		return CategoryNotFound
	case containsAny(msg, "conflict", "version mismatch"):
		return CategoryConflict
	case containsAny(msg, "database", "sqlite", "badger", "disk", "storage"):
		return CategoryStorage
	default:
		return CategoryUnknown
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

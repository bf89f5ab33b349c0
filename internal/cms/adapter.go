// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package cms

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned by Adapter.Get when no entity exists for a key.
var ErrNotFound = errors.New("cms: entity not found")

// Operation identifies which write triggered a middleware hook. The string
// values match wire.Operation's so callers can convert with a plain cast.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Result is what a document-operation middleware hook receives after a
// write has already committed: enough to decide what to replicate without
// re-reading the store.
type Result struct {
	ContentType string
	EntityID    string
	Data        json.RawMessage
	// IsBulk marks a result describing more than one entity (a bulk
	// delete, for instance); hooks generally skip these except for the
	// single-entity case the caller normalizes before invoking them.
	IsBulk bool
}

// MiddlewareFunc is a document-operation hook registered via
// Adapter.RegisterMiddleware. It runs synchronously after the write it
// describes has already succeeded, and must never be able to fail that
// write — implementations are expected to recover their own panics.
type MiddlewareFunc func(ctx context.Context, op Operation, result Result)

// Adapter is the contract the sync daemon uses to read and write content on
// the host CMS. A production embedding implements this against the real
// CMS's document store; Store below is a self-contained sqlite reference
// implementation used standalone and in tests.
type Adapter interface {
	// Get returns the current payload for (contentType, entityID), or
	// ErrNotFound if it does not exist.
	Get(ctx context.Context, contentType, entityID string) (json.RawMessage, error)

	// Create inserts a new entity with the given payload.
	Create(ctx context.Context, contentType, entityID string, data json.RawMessage) error

	// Update overwrites an existing entity's payload.
	Update(ctx context.Context, contentType, entityID string, data json.RawMessage) error

	// Delete removes an entity. Deleting an absent entity is not an error.
	Delete(ctx context.Context, contentType, entityID string) error

	// KnownContentType reports whether contentType is recognized by this
	// CMS instance's configured content-type allow-list.
	KnownContentType(contentType string) bool

	// RegisterMiddleware attaches hook to run after every successful
	// Create/Update/Delete. Hooks run in registration order.
	RegisterMiddleware(hook MiddlewareFunc)
}

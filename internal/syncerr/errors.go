// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

// Package syncerr defines the two error families the sync daemon
// dispatches on: Retryable (transient, should be retried with backoff)
// and Permanent (will never succeed, goes straight to the dead-letter
// store).
package syncerr

import (
	"errors"
	"fmt"
)

// Retryable wraps an error that is expected to succeed on a later
// attempt: a network blip, a full outbound buffer, a locked row.
type Retryable struct {
	Op  string
	Err error
}

func (e *Retryable) Error() string {
	return fmt.Sprintf("%s: %v (retryable)", e.Op, e.Err)
}

func (e *Retryable) Unwrap() error { return e.Err }

// Permanent wraps an error that will never succeed on retry: a schema
// violation, an unknown content type, a target that no longer exists.
type Permanent struct {
	Op  string
	Err error
}

func (e *Permanent) Error() string {
	return fmt.Sprintf("%s: %v (permanent)", e.Op, e.Err)
}

func (e *Permanent) Unwrap() error { return e.Err }

// NewRetryable wraps err as a Retryable error scoped to op.
func NewRetryable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Retryable{Op: op, Err: err}
}

// NewPermanent wraps err as a Permanent error scoped to op.
func NewPermanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Op: op, Err: err}
}

// IsRetryable reports whether err (or any error it wraps) is Retryable.
func IsRetryable(err error) bool {
	var r *Retryable
	return errors.As(err, &r)
}

// IsPermanent reports whether err (or any error it wraps) is Permanent.
func IsPermanent(err error) bool {
	var p *Permanent
	return errors.As(err, &p)
}

// ErrUnknownContentType is returned by the resolver when a SyncMessage
// names a content type the local config does not recognize.
var ErrUnknownContentType = errors.New("unknown content type")

// ErrTargetNotFound names an update or delete whose entity does not exist
// locally. Apply does not return it: it logs and drops an update for an
// absent entity, and a delete of an absent entity only purges its metadata.
var ErrTargetNotFound = errors.New("sync target not found")

// ErrConflict names a direct or structural conflict. Apply does not return
// it: it records the conflict, logs it and returns nil without applying.
var ErrConflict = errors.New("sync conflict detected")

// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

// Package debounce provides a small timer-based debouncer, the same
// buffer-then-flush-on-a-timer shape as the teacher's audit logger
// (FlushInterval), but reset on every Trigger instead of firing on a fixed
// tick: a burst of local CMS writes collapses into one push.
package debounce

import (
	"sync"
	"time"
)

// Debouncer calls fn at most once per Wait period after the most recent
// Trigger call, coalescing a burst of Trigger calls into a single fn call.
type Debouncer struct {
	wait time.Duration
	fn   func()

	mu    sync.Mutex
	timer *time.Timer
}

// New builds a Debouncer that runs fn wait after the last Trigger call.
func New(wait time.Duration, fn func()) *Debouncer {
	return &Debouncer{wait: wait, fn: fn}
}

// Trigger (re)starts the debounce window. Safe for concurrent use.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.fn)
}

// Stop cancels any pending fire. It does not prevent future Trigger calls
// from scheduling a new one.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

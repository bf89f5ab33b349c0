// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

// Package cms defines the adapter contract the sync daemon uses to read
// and write content on the host CMS, plus a sqlite-backed reference
// implementation for standalone operation and tests.
package cms

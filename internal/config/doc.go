// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

/*
Package config provides centralized configuration management for the sync
daemon via koanf's layered providers.

# Configuration Sources

Configuration is loaded from, in increasing order of precedence:

  - built-in struct defaults
  - an optional YAML config file (CONFIG_PATH env var, or one of
    DefaultConfigPaths)
  - environment variables

# Configuration Structure

	Config
	├── Mode, ShipID, ContentTypes
	├── BusConfig      — NATS JetStream connection + circuit breaker tuning
	├── SyncConfig     — scheduling, batching, retry, conflict strategy
	├── MediaConfig    — master/local S3-compatible object store clients
	├── StoreConfig    — sqlite metadata path, badger dedup ledger dir
	├── ServerConfig   — management HTTP surface
	└── LoggingConfig  — zerolog level/format/caller

# Usage

	cfg, err := config.LoadWithKoanf()
	if err != nil {
	    log.Fatal(err)
	}

See koanf.go for the full set of recognized environment variables.
*/
package config

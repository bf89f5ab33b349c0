// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

// Package main is the entry point for syncd, the offline-capable
// replication daemon that keeps a fleet of disconnected CMS replicas
// eventually consistent with a master instance over NATS JetStream.
//
// # Application Architecture
//
// The daemon initializes in the following order:
//
//  1. Configuration: koanf, layered defaults -> YAML file -> env vars
//  2. Stores: sqlite sync metadata, the reference CMS adapter, the
//     Badger-backed dedup ledger
//  3. Bus: embedded or external NATS, JetStream stream, producer, consumer
//  4. Supervisor tree: every background service registered under its
//     data/messaging/api layer
//  5. HTTP server: management and fallback-sync surface
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: the root context is
// canceled, every supervised service is given its configured shutdown
// timeout to stop, and component cleanup (store/ledger/bus close) runs
// last.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/cartographus-sync/internal/bootstrap"
	"github.com/tomtom215/cartographus-sync/internal/config"
	"github.com/tomtom215/cartographus-sync/internal/logging"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize syncd")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Str("mode", string(cfg.Mode)).Str("shipId", cfg.ShipID).Msg("syncd starting")

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("syncd exited with error")
		os.Exit(1)
	}

	logging.Info().Msg("syncd stopped gracefully")
}

// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

/*
Package metrics provides Prometheus metrics collection and export for the
sync daemon.

# Overview

The package exposes metrics for:
  - bus publish/consume throughput and breaker state
  - apply/conflict-resolution outcomes
  - dedup hit rate
  - durable queue and dead-letter depth
  - peer liveness
  - media mirror object copy counts
  - management HTTP request latency and throughput

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8870/metrics

All metrics are registered via promauto against the default registry, so a
standard promhttp.Handler() serves them without additional wiring.
*/
package metrics

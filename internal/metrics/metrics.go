// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the sync daemon: bus throughput, conflict and
// dedup outcomes, queue/DLQ depth, media mirror activity, and the
// management HTTP surface.

var (
	BusPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_bus_publish_total",
			Help: "Total number of bus publish attempts",
		},
		[]string{"topic", "outcome"}, // outcome: ok, error, breaker_open
	)

	BusPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_bus_publish_duration_seconds",
			Help:    "Duration of bus publish calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	BusConsumeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_bus_consume_total",
			Help: "Total number of messages consumed from the bus",
		},
		[]string{"topic", "outcome"}, // outcome: applied, conflict, dead_lettered, duplicate
	)

	BusConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_bus_connected",
			Help: "1 if the bus producer circuit breaker is closed and connected, else 0",
		},
	)

	ApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_apply_duration_seconds",
			Help:    "Duration of resolver Apply calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_conflicts_total",
			Help: "Total number of detected conflicts by kind",
		},
		[]string{"kind"}, // direct, structural
	)

	DedupHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_dedup_hits_total",
			Help: "Total number of messages dropped because they were already processed",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Current number of pending rows in a durable queue",
		},
		[]string{"queue"}, // replica_outbound, master_outbound
	)

	DeadLetterSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_dead_letter_size",
			Help: "Current number of unresolved dead-lettered messages",
		},
	)

	PeersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_peers_online",
			Help: "Current number of replicas considered online by the master",
		},
	)

	MediaObjectsCopied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_media_objects_copied_total",
			Help: "Total number of media objects copied between master and replica stores",
		},
		[]string{"direction", "outcome"}, // direction: push, pull
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_http_requests_total",
			Help: "Total number of management HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_http_request_duration_seconds",
			Help:    "Duration of management HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordBusPublish records the outcome of one bus publish attempt.
func RecordBusPublish(topic, outcome string, duration time.Duration) {
	BusPublishTotal.WithLabelValues(topic, outcome).Inc()
	BusPublishDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// RecordApply records the duration of one resolver Apply call.
func RecordApply(duration time.Duration) {
	ApplyDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records one management HTTP request.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

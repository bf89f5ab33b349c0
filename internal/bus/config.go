// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package bus

import "time"

// ProducerConfig configures a Producer's NATS connection and circuit
// breaker.
type ProducerConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int

	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
}

// DefaultProducerConfig returns production defaults for a Producer
// connecting to url.
func DefaultProducerConfig(url string) ProducerConfig {
	return ProducerConfig{
		URL:                url,
		MaxReconnects:      -1,
		ReconnectWait:      2 * time.Second,
		ReconnectBuffer:    8 << 20,
		BreakerMaxRequests: 5,
		BreakerInterval:    60 * time.Second,
		BreakerTimeout:     30 * time.Second,
	}
}

// ConsumerConfig configures a Consumer's durable JetStream subscription.
type ConsumerConfig struct {
	URL              string
	StreamName       string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	MaxDeliver       int
	MaxAckPending    int
	CloseTimeout     time.Duration
	MaxReconnects    int
	ReconnectWait    time.Duration
}

// DefaultConsumerConfig returns production defaults for a Consumer bound to
// streamName, with durableName identifying this consumer's position.
func DefaultConsumerConfig(url, streamName, durableName string) ConsumerConfig {
	return ConsumerConfig{
		URL:              url,
		StreamName:       streamName,
		DurableName:      durableName,
		QueueGroup:       durableName,
		SubscribersCount: 1, // preserve per-entity ordering; the queue already serializes per key
		AckWaitTimeout:   30 * time.Second,
		MaxDeliver:       5,
		MaxAckPending:    1000,
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
	}
}

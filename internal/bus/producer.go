// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/cartographus-sync/internal/logging"
	"github.com/tomtom215/cartographus-sync/internal/metrics"
	"github.com/tomtom215/cartographus-sync/internal/wire"
)

// Producer publishes SyncMessage envelopes to the bus behind a circuit
// breaker, and tracks its own connected/disconnected state non-blockingly
// for isConnected().
type Producer struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[any]
	connected atomic.Bool

	mu     sync.RWMutex
	closed bool
}

// NewCircuitBreaker builds the breaker guarding Producer.Publish calls.
func NewCircuitBreaker(cfg ProducerConfig) *gobreaker.CircuitBreaker[any] {
	settings := gobreaker.Settings{
		Name:        "bus-producer",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return gobreaker.NewCircuitBreaker[any](settings)
}

// NewProducer connects a Watermill JetStream publisher at cfg.URL, with
// message-ID tracking enabled for NATS-side dedup as a second line of
// defense behind the dedup ledger.
func NewProducer(cfg ProducerConfig, logger watermill.LoggerAdapter) (*Producer, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	p := &Producer{breaker: NewCircuitBreaker(cfg)}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			p.connected.Store(false)
			if err != nil {
				logging.Warn().Err(err).Msg("bus producer disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			p.connected.Store(true)
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("bus producer reconnected")
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create bus publisher: %w", err)
	}
	p.publisher = pub
	p.connected.Store(true)
	return p, nil
}

// IsConnected reflects the last known connection state, non-blockingly.
func (p *Producer) IsConnected() bool { return p.connected.Load() }

// SendToShips publishes msg to shipTopic.
func (p *Producer) SendToShips(ctx context.Context, shipTopic string, msg *wire.SyncMessage) error {
	return p.publish(ctx, shipTopic, msg)
}

// SendToMaster publishes msg to masterTopic.
func (p *Producer) SendToMaster(ctx context.Context, masterTopic string, msg *wire.SyncMessage) error {
	return p.publish(ctx, masterTopic, msg)
}

func (p *Producer) publish(ctx context.Context, topic string, msg *wire.SyncMessage) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("bus producer is closed")
	}
	p.mu.RUnlock()

	payload, err := wire.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal sync message: %w", err)
	}

	wmMsg := message.NewMessage(uuid.NewString(), payload)
	wmMsg.Metadata.Set(natsgo.MsgIdHdr, msg.MessageID)

	start := time.Now()
	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.publisher.Publish(topic, wmMsg)
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if p.breaker.State() == gobreaker.StateOpen {
			outcome = "breaker_open"
		}
	}
	metrics.RecordBusPublish(topic, outcome, time.Since(start))
	return err
}

// SendHeartbeat publishes a small liveness message on topic, keyed by
// peerID.
func (p *Producer) SendHeartbeat(ctx context.Context, topic, peerID string) error {
	wmMsg := message.NewMessage(uuid.NewString(), []byte(`{"type":"heartbeat"}`))
	wmMsg.Metadata.Set("peerId", peerID)
	wmMsg.Metadata.Set("type", "heartbeat")

	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.publisher.Publish(topic, wmMsg)
	})
	return err
}

// Close gracefully shuts down the producer.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

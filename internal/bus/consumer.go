// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package bus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/cartographus-sync/internal/logging"
	"github.com/tomtom215/cartographus-sync/internal/wire"
)

// Consumer is a durable JetStream subscriber bound to one of the two sync
// topics.
type Consumer struct {
	subscriber message.Subscriber
}

// NewConsumer creates a durable JetStream subscriber bound to cfg.StreamName.
func NewConsumer(cfg ConsumerConfig, logger watermill.LoggerAdapter) (*Consumer, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("bus consumer disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("bus consumer reconnected")
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(cfg.MaxDeliver),
		natsgo.MaxAckPending(cfg.MaxAckPending),
		natsgo.AckWait(cfg.AckWaitTimeout),
		natsgo.DeliverNew(),
	}
	autoProvision := true
	if cfg.StreamName != "" {
		subOpts = append(subOpts, natsgo.BindStream(cfg.StreamName))
		autoProvision = false
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:    autoProvision,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create bus subscriber: %w", err)
	}
	return &Consumer{subscriber: sub}, nil
}

// HandlerFunc processes one decoded SyncMessage. A nil error acks the
// underlying bus message; a non-nil error nacks it for JetStream
// redelivery.
type HandlerFunc func(ctx context.Context, msg *wire.SyncMessage) error

// Run subscribes to topic and dispatches decoded envelopes to handler until
// ctx is cancelled. Envelopes that fail to decode are acked and dropped —
// they can never be processed by any version of this handler.
func (c *Consumer) Run(ctx context.Context, topic string, handler HandlerFunc) error {
	messages, err := c.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-messages:
			if !ok {
				return nil
			}
			c.handle(ctx, topic, m, handler)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, topic string, m *message.Message, handler HandlerFunc) {
	syncMsg, err := wire.Unmarshal(m.Payload)
	if err != nil {
		logging.Warn().Err(err).Str("topic", topic).Msg("dropping malformed sync envelope")
		m.Ack()
		return
	}

	if err := handler(ctx, syncMsg); err != nil {
		logging.Error().Err(err).Str("topic", topic).Str("messageId", syncMsg.MessageID).
			Msg("sync message handling failed")
		m.Nack()
		return
	}
	m.Ack()
}

// Close gracefully shuts down the consumer.
func (c *Consumer) Close() error {
	return c.subscriber.Close()
}

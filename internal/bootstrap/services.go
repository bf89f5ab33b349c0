// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package bootstrap

import (
	"context"
	"time"

	"github.com/tomtom215/cartographus-sync/internal/config"
	"github.com/tomtom215/cartographus-sync/internal/logging"
	"github.com/tomtom215/cartographus-sync/internal/metrics"
	"github.com/tomtom215/cartographus-sync/internal/store"
	"github.com/tomtom215/cartographus-sync/internal/syncengine"
	"github.com/tomtom215/cartographus-sync/internal/syncerr"
	"github.com/tomtom215/cartographus-sync/internal/wire"

	"github.com/goccy/go-json"
)

// funcService adapts a bare Serve-shaped function to suture.Service, for
// the services below that are simple ticker loops with no state of their
// own worth a dedicated type.
type funcService struct {
	name string
	fn   func(ctx context.Context) error
}

func (s *funcService) Serve(ctx context.Context) error { return s.fn(ctx) }
func (s *funcService) String() string                   { return s.name }

// tick runs fn on every interval tick until ctx is cancelled, logging but
// not propagating fn's errors — a failing pass should not crash and
// restart the whole loop, it should just try again next tick.
func tick(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context)) error {
	logging.Info().Str("service", name).Msg("starting")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("service", name).Msg("stopping")
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// newQueueRetryService periodically retries failed outbound queue entries
// below the retry cap and prunes delivered rows past retention.
func newQueueRetryService(queue *store.QueueRepo, maxRetries int, retention time.Duration) *funcService {
	return &funcService{
		name: "queue-retry",
		fn: func(ctx context.Context) error {
			return tick(ctx, "queue-retry", 30*time.Second, func(ctx context.Context) {
				if n, err := queue.RetryFailed(ctx, maxRetries); err != nil {
					logging.Warn().Err(err).Msg("queue retry pass failed")
				} else if n > 0 {
					logging.Info().Int64("count", n).Msg("requeued failed outbound entries")
				}
				if _, err := queue.Prune(ctx, retention); err != nil {
					logging.Warn().Err(err).Msg("queue prune pass failed")
				}
			})
		},
	}
}

// busConsumerService runs the bus consumer's receive loop, dispatching
// decoded envelopes through the dedup ledger and resolver.
type busConsumerService struct {
	app *App
}

func newBusConsumerService(app *App) *busConsumerService { return &busConsumerService{app: app} }

func (s *busConsumerService) String() string { return "bus-consumer" }

func (s *busConsumerService) Serve(ctx context.Context) error {
	logging.Info().Str("topic", s.app.consumeTopic).Msg("starting bus consumer")
	err := s.app.consumer.Run(ctx, s.app.consumeTopic, s.handle)
	if ctx.Err() != nil {
		logging.Info().Msg("bus consumer stopped")
		return nil
	}
	return err
}

func (s *busConsumerService) handle(ctx context.Context, msg *wire.SyncMessage) error {
	if s.app.peers != nil {
		if err := s.app.peers.RecordActivity(ctx, msg.ShipID, nil); err != nil {
			logging.Warn().Err(err).Str("shipId", msg.ShipID).Msg("failed to record peer activity")
		}
	}

	seen, err := s.app.ledger.Seen(msg.MessageID)
	if err != nil {
		return err
	}
	if seen {
		metrics.BusConsumeTotal.WithLabelValues(s.app.consumeTopic, "duplicate").Inc()
		return nil
	}

	applyErr := s.app.resolver.Apply(syncengine.WithPeerOrigin(ctx), msg, syncengine.SourceRemote)
	switch {
	case applyErr == nil:
		metrics.BusConsumeTotal.WithLabelValues(s.app.consumeTopic, "applied").Inc()
	case syncerr.IsPermanent(applyErr):
		metrics.BusConsumeTotal.WithLabelValues(s.app.consumeTopic, "dead_lettered").Inc()
		payload, _ := wire.Marshal(msg)
		if _, dlErr := s.app.db.DeadLetters().Add(ctx, msg.MessageID, payload, applyErr.Error()); dlErr != nil {
			logging.Error().Err(dlErr).Str("messageId", msg.MessageID).Msg("failed to dead-letter message")
			return dlErr
		}
	default:
		// Retryable, or an unclassified error: let JetStream redeliver.
		return applyErr
	}

	if err := s.app.ledger.Record(msg.MessageID); err != nil {
		logging.Warn().Err(err).Str("messageId", msg.MessageID).Msg("failed to record dedup entry")
	}
	return nil
}

// newConnectivityService wraps ConnectivityMonitor.StartMonitoring, which
// is already suture.Service-shaped.
func newConnectivityService(app *App) *funcService {
	return &funcService{
		name: "connectivity-monitor",
		fn: func(ctx context.Context) error {
			return app.conn.StartMonitoring(ctx, app.cfg.Sync.ConnectivityProbe)
		},
	}
}

// newHeartbeatService periodically publishes a liveness ping on the
// replica's send topic. The master's bus consumer cannot decode it as a
// SyncMessage, logs a warning and acks it; this keeps the producer's connection
// warm and gives operators a steady beat in the bus's own metrics even
// before the first real sync message.
func newHeartbeatService(app *App) *funcService {
	return &funcService{
		name: "heartbeat",
		fn: func(ctx context.Context) error {
			return tick(ctx, "heartbeat", app.cfg.Sync.HeartbeatInterval, func(ctx context.Context) {
				if err := app.producer.SendHeartbeat(ctx, app.sendTopic, app.cfg.ShipID); err != nil {
					logging.Warn().Err(err).Msg("heartbeat publish failed")
				}
			})
		},
	}
}

// newAutoPushService drains the outbound queue on a ticker. Local CMS
// writes do not pass through this service: the push debouncer built in New
// calls pushPending on its own timer, PushDebounce after the last write.
func newAutoPushService(app *App) *funcService {
	return &funcService{
		name: "auto-push",
		fn: func(ctx context.Context) error {
			return runAutoPush(ctx, app)
		},
	}
}

func runAutoPush(ctx context.Context, app *App) error {
	logging.Info().Msg("starting auto-push")
	ticker := time.NewTicker(app.cfg.Sync.AutoPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("stopping auto-push")
			return nil
		case <-ticker.C:
			pushPending(ctx, app)
		}
	}
}

func pushPending(ctx context.Context, app *App) {
	queue := app.db.Queue(outboundQueue(app.cfg.Mode))
	entries, err := queue.GetPending(ctx, app.cfg.Sync.BatchSize)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to read pending outbound entries")
		return
	}

	for _, e := range entries {
		data := json.RawMessage(e.Data)
		var fileRecords []wire.FileRecord
		if app.cfg.Mode != config.ModeMaster && app.pushMedia != nil {
			rewritten, records, err := app.pushMedia.PrepareForPush(ctx, data)
			if err != nil {
				logging.Warn().Err(err).Int64("id", e.ID).Msg("failed to prepare media for push")
			} else {
				data = rewritten
				fileRecords = records
			}
		}

		msg := wire.NewMessage(e.ShipID, e.Operation, e.ContentType, e.ContentID, e.LocalVersion, data)
		msg.Locale = e.Locale
		msg.FileRecords = fileRecords

		var sendErr error
		if app.cfg.Mode == config.ModeMaster {
			sendErr = app.producer.SendToShips(ctx, app.sendTopic, msg)
		} else {
			sendErr = app.producer.SendToMaster(ctx, app.sendTopic, msg)
		}

		if sendErr != nil {
			metrics.BusPublishTotal.WithLabelValues(app.sendTopic, "error").Inc()
			if err := queue.MarkFailed(ctx, e.ID, sendErr, app.cfg.Sync.MaxRetries); err != nil {
				logging.Warn().Err(err).Int64("id", e.ID).Msg("failed to mark outbound entry failed")
			}
			continue
		}
		if err := queue.MarkSynced(ctx, e.ID); err != nil {
			logging.Warn().Err(err).Int64("id", e.ID).Msg("failed to mark outbound entry synced")
		}
	}
}

// newJanitorService runs periodic housekeeping shared by both modes: dedup
// ledger pruning, the dead-letter gauge refresh, and (master only) the
// peer offline sweep.
func newJanitorService(app *App) *funcService {
	return &funcService{
		name: "janitor",
		fn: func(ctx context.Context) error {
			return tick(ctx, "janitor", app.cfg.Sync.JanitorInterval, func(ctx context.Context) {
				runJanitor(ctx, app)
			})
		},
	}
}

func runJanitor(ctx context.Context, app *App) {
	if app.peers != nil {
		if n, err := app.peers.SweepOffline(ctx); err != nil {
			logging.Warn().Err(err).Msg("peer offline sweep failed")
		} else if n > 0 {
			logging.Info().Int64("count", n).Msg("swept offline peers")
		}
	}

	if n, err := app.ledger.Prune(); err != nil {
		logging.Warn().Err(err).Msg("dedup ledger prune failed")
	} else if n > 0 {
		logging.Info().Int("count", n).Msg("pruned dedup ledger entries")
	}

	if n, err := app.db.DeadLetters().Prune(ctx, app.cfg.Sync.QueueRetention); err != nil {
		logging.Warn().Err(err).Msg("dead letter prune failed")
	} else if n > 0 {
		logging.Info().Int64("count", n).Msg("pruned resolved dead letters")
	}

	if n, err := app.db.DeadLetters().Count(ctx); err != nil {
		logging.Warn().Err(err).Msg("dead letter count refresh failed")
	} else {
		metrics.DeadLetterSize.Set(float64(n))
	}
}

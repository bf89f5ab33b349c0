// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartographus-sync/internal/bus"
	"github.com/tomtom215/cartographus-sync/internal/cms"
	"github.com/tomtom215/cartographus-sync/internal/config"
	"github.com/tomtom215/cartographus-sync/internal/debounce"
	"github.com/tomtom215/cartographus-sync/internal/dedup"
	"github.com/tomtom215/cartographus-sync/internal/httpapi"
	"github.com/tomtom215/cartographus-sync/internal/liveness"
	"github.com/tomtom215/cartographus-sync/internal/logging"
	"github.com/tomtom215/cartographus-sync/internal/media"
	"github.com/tomtom215/cartographus-sync/internal/store"
	"github.com/tomtom215/cartographus-sync/internal/supervisor"
	"github.com/tomtom215/cartographus-sync/internal/syncengine"
	"github.com/tomtom215/cartographus-sync/internal/wire"
)

// App holds every long-lived component of a running syncd process and the
// supervisor tree coordinating their lifecycles.
type App struct {
	cfg *config.Config

	db       *store.DB
	adapter  cms.Adapter
	ledger   *dedup.Ledger
	resolver *syncengine.Resolver
	producer *bus.Producer
	consumer *bus.Consumer
	embedded *bus.EmbeddedServer
	peers    *liveness.PeerTracker
	conn     *liveness.ConnectivityMonitor
	httpSrv  *httpapi.Server

	tree         *supervisor.SupervisorTree
	cleanups     []func() error
	consumeTopic string
	sendTopic    string

	interceptor  *syncengine.Interceptor
	pushDebounce *debounce.Debouncer
	pushMedia    mediaPreparer
}

// mediaPreparer is the outbound half of media mirroring pushPending needs
// (§4.K PrepareForPush, §8 scenario S5): satisfied by *media.Syncer, and by
// a fake in tests.
type mediaPreparer interface {
	PrepareForPush(ctx context.Context, data json.RawMessage) (json.RawMessage, []wire.FileRecord, error)
}

// New builds every component from cfg and wires it into a supervisor tree,
// but starts none of the supervised services. It does start the embedded
// NATS server when one is configured, and connects the bus producer and
// consumer. Call Run to start the services.
func New(cfg *config.Config) (*App, error) {
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})

	a := &App{cfg: cfg}

	db, err := store.New(cfg.Store.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sync store: %w", err)
	}
	a.db = db
	a.registerCleanup(db.Close)

	cmsStore, err := cms.Open(cfg.Store.CMSPath, cfg.ContentTypes)
	if err != nil {
		return nil, fmt.Errorf("open cms adapter: %w", err)
	}
	a.adapter = cmsStore
	a.registerCleanup(cmsStore.Close)

	ledger, err := dedup.Open(cfg.Store.BadgerDir, cfg.Sync.DedupRetention)
	if err != nil {
		return nil, fmt.Errorf("open dedup ledger: %w", err)
	}
	a.ledger = ledger
	a.registerCleanup(ledger.Close)

	mediaSyncer, err := a.buildMediaSyncer(cfg)
	if err != nil {
		return nil, err
	}
	var resolverMedia syncengine.MediaSyncer
	if mediaSyncer != nil {
		resolverMedia = mediaSyncer
		a.pushMedia = mediaSyncer
	}

	strategy := syncengine.ConflictStrategy(cfg.Sync.ConflictStrategy)
	a.resolver = syncengine.NewResolver(db, a.adapter, resolverMedia, strategy)

	if err := a.buildBus(cfg); err != nil {
		return nil, err
	}

	a.pushDebounce = debounce.New(cfg.Sync.PushDebounce, func() { pushPending(context.Background(), a) })
	a.registerCleanup(func() error { a.pushDebounce.Stop(); return nil })

	a.interceptor = syncengine.NewInterceptor(db, syncengine.InterceptorConfig{
		Mode:          syncengine.Mode(cfg.Mode),
		ShipID:        cfg.ShipID,
		ContentTypes:  cfg.ContentTypes,
		Pusher:        a.producer,
		ShipTopic:     a.sendTopic,
		DebouncedPush: a.pushDebounce.Trigger,
	})
	a.adapter.RegisterMiddleware(func(ctx context.Context, op cms.Operation, res cms.Result) {
		a.interceptor.Intercept(ctx, syncengine.OpResult{
			Operation:   wire.Operation(op),
			ContentType: res.ContentType,
			DocumentID:  res.EntityID,
			Data:        res.Data,
			IsBulk:      res.IsBulk,
		})
	})

	switch cfg.Mode {
	case config.ModeMaster:
		a.peers = liveness.NewPeerTracker(db)
	case config.ModeReplica:
		a.conn = liveness.New(a.producer, cfg.Media.Master.HealthURL)
		stabilize := cfg.Sync.ReconnectStabilize
		a.conn.OnReconnect(func(ctx context.Context) {
			go func() {
				select {
				case <-time.After(stabilize):
					pushPending(ctx, a)
				case <-ctx.Done():
				}
			}()
		})
	}

	a.httpSrv = httpapi.New(cfg.Server, httpapi.Deps{
		Mode:         cfg.Mode,
		ShipID:       cfg.ShipID,
		DB:           db,
		Adapter:      a.adapter,
		Resolver:     a.resolver,
		Queue:        db.Queue(outboundQueue(cfg.Mode)),
		Peers:        a.peers,
		Connectivity: a.conn,
	})

	if err := a.buildSupervisorTree(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// Run starts the supervisor tree and blocks until ctx is cancelled, then
// runs every registered cleanup in registration order.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	err := a.tree.Serve(ctx)
	if unstopped, _ := a.tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop within shutdown timeout")
		}
	}
	return err
}

// Close runs every registered cleanup in registration order, which is the
// order components were built (the sync store first, the bus consumer and
// push debouncer last).
func (a *App) Close() {
	for _, fn := range a.cleanups {
		if err := fn(); err != nil {
			logging.Warn().Err(err).Msg("cleanup error during shutdown")
		}
	}
}

func (a *App) registerCleanup(fn func() error) {
	a.cleanups = append(a.cleanups, fn)
}

func outboundQueue(mode config.Mode) store.Queue {
	if mode == config.ModeMaster {
		return store.QueueMasterBroadcast
	}
	return store.QueueReplicaOutbound
}

func (a *App) buildMediaSyncer(cfg *config.Config) (*media.Syncer, error) {
	if cfg.Media.Master.Endpoint == "" && cfg.Media.Local.Endpoint == "" {
		return nil, nil
	}
	mirror, err := media.New(cfg.Media)
	if err != nil {
		return nil, fmt.Errorf("build media mirror: %w", err)
	}
	if err := mirror.EnsureLocalBucket(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure local media bucket: %w", err)
	}
	return media.NewSyncer(mirror, a.adapter), nil
}

func (a *App) buildBus(cfg *config.Config) error {
	busURL := cfg.Bus.URL
	if cfg.Bus.EmbeddedServer {
		srv, err := bus.NewEmbeddedServer(bus.EmbeddedServerConfig{Host: "127.0.0.1", Port: 4222, StoreDir: cfg.Bus.StoreDir})
		if err != nil {
			return fmt.Errorf("start embedded NATS server: %w", err)
		}
		a.embedded = srv
		busURL = srv.ClientURL()
		a.registerCleanup(func() error { return srv.Shutdown(context.Background()) })
	}

	if err := ensureStream(busURL, cfg); err != nil {
		return fmt.Errorf("ensure jetstream stream: %w", err)
	}

	producerCfg := bus.ProducerConfig{
		URL:                busURL,
		MaxReconnects:      cfg.Bus.MaxReconnects,
		ReconnectWait:      cfg.Bus.ReconnectWait,
		ReconnectBuffer:    8 << 20,
		BreakerMaxRequests: cfg.Bus.BreakerMaxRequests,
		BreakerInterval:    cfg.Bus.BreakerInterval,
		BreakerTimeout:     cfg.Bus.BreakerTimeout,
	}
	producer, err := retryConnect("bus producer", func() (*bus.Producer, error) {
		return bus.NewProducer(producerCfg, nil)
	})
	if err != nil {
		return err
	}
	a.producer = producer
	a.registerCleanup(producer.Close)

	var consumeTopic, durable string
	if cfg.Mode == config.ModeMaster {
		// The master consumes what ships publish, and broadcasts back on
		// the master topic.
		consumeTopic, durable = cfg.Bus.ShipTopic, "master-inbound"
		a.sendTopic = cfg.Bus.MasterTopic
	} else {
		consumeTopic, durable = cfg.Bus.MasterTopic, "ship-"+cfg.ShipID
		a.sendTopic = cfg.Bus.ShipTopic
	}
	consumerCfg := bus.DefaultConsumerConfig(busURL, streamName, durable)
	consumerCfg.AckWaitTimeout = cfg.Bus.AckWait
	consumerCfg.MaxDeliver = cfg.Bus.MaxDeliver
	consumerCfg.MaxAckPending = cfg.Bus.MaxAckPending
	consumerCfg.MaxReconnects = cfg.Bus.MaxReconnects
	consumerCfg.ReconnectWait = cfg.Bus.ReconnectWait

	consumer, err := retryConnect("bus consumer", func() (*bus.Consumer, error) {
		return bus.NewConsumer(consumerCfg, nil)
	})
	if err != nil {
		return err
	}
	a.consumer = consumer
	a.registerCleanup(consumer.Close)
	a.consumeTopic = consumeTopic
	return nil
}

const streamName = "CARTOGRAPHUS_SYNC"

func ensureStream(url string, cfg *config.Config) error {
	nc, err := natsgo.Connect(url, natsgo.RetryOnFailedConnect(true), natsgo.MaxReconnects(3))
	if err != nil {
		return fmt.Errorf("connect for stream init: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create jetstream context: %w", err)
	}

	init, err := bus.NewStreamInitializer(js, bus.DefaultStreamConfig(cfg.Bus.MasterTopic, cfg.Bus.ShipTopic, cfg.Bus.StreamRetentionDays))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Bus.ConnectTimeout)
	defer cancel()
	_, err = init.EnsureStream(ctx)
	return err
}

// retryConnect attempts fn up to 5 times, sleeping 500ms longer after each
// failed attempt (500ms, 1s, ... 2.5s), and returns the last error once the
// fifth attempt fails; nothing keeps retrying in the background after that.
// It covers the
// startup-only window when the bus may not be reachable yet (e.g. an
// embedded NATS server still finishing its own startup, or a sibling
// container not yet scheduled).
func retryConnect[T any](what string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= 5; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		logging.Warn().Err(err).Str("component", what).Int("attempt", attempt).Msg("connect attempt failed, retrying")
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}
	return zero, fmt.Errorf("%s: %w", what, lastErr)
}

func (a *App) buildSupervisorTree(cfg *config.Config) error {
	tree, err := supervisor.NewSupervisorTree(slog.Default(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("build supervisor tree: %w", err)
	}
	a.tree = tree

	a.tree.AddDataService(newQueueRetryService(a.db.Queue(outboundQueue(cfg.Mode)), cfg.Sync.MaxRetries, cfg.Sync.QueueRetention))

	a.tree.AddMessagingService(newBusConsumerService(a))
	a.tree.AddMessagingService(newJanitorService(a))
	a.tree.AddMessagingService(newAutoPushService(a))

	if cfg.Mode == config.ModeReplica {
		// The master has no connectivity monitor or outbound heartbeat of
		// its own; peer liveness is driven entirely by inbound traffic
		// from replicas, recorded by the bus consumer service. Both modes
		// drain their own outbound queue via newAutoPushService above:
		// the replica's to the master, the master's broadcast queue to
		// ships.
		a.tree.AddMessagingService(newConnectivityService(a))
		a.tree.AddMessagingService(newHeartbeatService(a))
	}

	a.tree.AddAPIService(&funcService{name: "http-server", fn: a.httpSrv.Start})
	return nil
}

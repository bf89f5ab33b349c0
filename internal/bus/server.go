// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer wraps an in-process NATS server with JetStream enabled, for
// deployments that don't want to stand up a separate NATS instance.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// EmbeddedServerConfig configures the embedded NATS server.
type EmbeddedServerConfig struct {
	Host     string
	Port     int
	StoreDir string
}

// NewEmbeddedServer starts an embedded NATS+JetStream server and blocks
// until it is ready for connections or 30 seconds elapse.
func NewEmbeddedServer(cfg EmbeddedServerConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "cartographus-sync",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		DontListen: false,
		MaxPayload: 8 * 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	ns.ConfigureLogger()

	go ns.Start()

	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready within timeout")
	}

	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL is the URL producers and consumers connect to.
func (s *EmbeddedServer) ClientURL() string { return s.clientURL }

// IsRunning reports whether the server is up.
func (s *EmbeddedServer) IsRunning() bool { return s.server.Running() }

// Shutdown stops the server, waiting for in-flight work or ctx cancellation.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.server.Shutdown()
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.server.WaitForShutdown()
		return nil
	}
}

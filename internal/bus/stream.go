// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfig describes the JetStream stream backing the two sync topics.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	Replicas        int
	DuplicateWindow time.Duration
}

// DefaultStreamConfig returns the stream covering both master-updates and
// ship-updates subjects, retained for retentionDays.
func DefaultStreamConfig(masterTopic, shipTopic string, retentionDays int) StreamConfig {
	return StreamConfig{
		Name:            "CARTOGRAPHUS_SYNC",
		Subjects:        []string{masterTopic, shipTopic},
		MaxAge:          time.Duration(retentionDays) * 24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
	}
}

// StreamInitializer ensures the JetStream stream exists before producers
// and consumers attach to it. EnsureStream is idempotent.
type StreamInitializer struct {
	js     jetstream.JetStream
	config StreamConfig
}

// NewStreamInitializer builds an initializer for the given JetStream
// context and stream config.
func NewStreamInitializer(js jetstream.JetStream, cfg StreamConfig) (*StreamInitializer, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context required")
	}
	return &StreamInitializer{js: js, config: cfg}, nil
}

// EnsureStream creates the stream if absent, or updates it to match the
// current configuration if it already exists.
func (s *StreamInitializer) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:        s.config.Name,
		Subjects:    s.config.Subjects,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      s.config.MaxAge,
		Duplicates:  s.config.DuplicateWindow,
		Replicas:    s.config.Replicas,
		Storage:     jetstream.FileStorage,
		AllowDirect: true,
		Discard:     jetstream.DiscardOld,
	}

	_, err := s.js.Stream(ctx, s.config.Name)
	switch {
	case err == nil:
		stream, err := s.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", s.config.Name, err)
		}
		return stream, nil
	case errors.Is(err, jetstream.ErrStreamNotFound):
		stream, err := s.js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", s.config.Name, err)
		}
		return stream, nil
	default:
		return nil, fmt.Errorf("check stream %s: %w", s.config.Name, err)
	}
}

// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package liveness

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/cartographus-sync/internal/logging"
)

// BusChecker reports the current connectedness of the bus producer.
type BusChecker interface {
	IsConnected() bool
}

// State is a snapshot of ConnectivityMonitor's view of the world.
type State struct {
	IsOnline             bool
	LastChecked          time.Time
	LastSuccess          time.Time
	LastFailure          time.Time
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// ReconnectFunc is invoked on a false-to-true online transition.
type ReconnectFunc func(ctx context.Context)

// ConnectivityMonitor tracks whether a replica can currently reach its
// master, via the bus producer's own connected state plus an optional
// HTTP health probe against the media master endpoint.
type ConnectivityMonitor struct {
	bus        BusChecker
	healthURL  string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[any]
	limiter    *rate.Limiter

	mu       sync.Mutex
	state    State
	onReconn []ReconnectFunc
}

// New builds a ConnectivityMonitor. healthURL may be empty, in which case
// only the bus's own connected state is checked.
func New(bus BusChecker, healthURL string) *ConnectivityMonitor {
	return &ConnectivityMonitor{
		bus:        bus,
		healthURL:  healthURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "connectivity-probe",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// OnReconnect registers a callback fired after a false-to-true online
// transition, outside the monitor's own lock.
func (m *ConnectivityMonitor) OnReconnect(fn ReconnectFunc) {
	m.mu.Lock()
	m.onReconn = append(m.onReconn, fn)
	m.mu.Unlock()
}

// State returns the monitor's last-known state.
func (m *ConnectivityMonitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CheckConnectivity probes the bus and, if configured, the HTTP health
// endpoint, then updates state and fires reconnect callbacks on a
// false-to-true transition. Calls are rate-limited so a burst of manual
// checks from the HTTP surface can't starve the scheduled probe.
func (m *ConnectivityMonitor) CheckConnectivity(ctx context.Context) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	online := m.bus.IsConnected()
	var probeErr error
	if online && m.healthURL != "" {
		probeErr = m.probeHTTP(ctx)
		online = probeErr == nil
	}

	m.mu.Lock()
	wasOnline := m.state.IsOnline
	now := time.Now()
	m.state.LastChecked = now
	m.state.IsOnline = online
	if online {
		m.state.LastSuccess = now
		m.state.ConsecutiveSuccesses++
		m.state.ConsecutiveFailures = 0
	} else {
		m.state.LastFailure = now
		m.state.ConsecutiveFailures++
		m.state.ConsecutiveSuccesses = 0
	}
	callbacks := append([]ReconnectFunc(nil), m.onReconn...)
	m.mu.Unlock()

	if online && !wasOnline {
		logging.Info().Msg("connectivity monitor: reconnected")
		for _, fn := range callbacks {
			fn(ctx)
		}
	}
	if !online && probeErr != nil {
		return fmt.Errorf("connectivity probe: %w", probeErr)
	}
	return nil
}

func (m *ConnectivityMonitor) probeHTTP(ctx context.Context) error {
	_, err := m.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := m.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("health probe %s: status %d", m.healthURL, resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

// StartMonitoring runs CheckConnectivity on a ticker until ctx is
// cancelled. Intended to be wrapped as a suture.Service by the bootstrap
// layer.
func (m *ConnectivityMonitor) StartMonitoring(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.CheckConnectivity(ctx); err != nil {
				logging.Warn().Err(err).Msg("connectivity monitor: probe failed")
			}
		}
	}
}

// WaitForConnectivity blocks, polling at checkInterval, until the monitor
// reports online or timeout elapses.
func (m *ConnectivityMonitor) WaitForConnectivity(ctx context.Context, timeout, checkInterval time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	if m.State().IsOnline {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = m.CheckConnectivity(ctx)
			if m.State().IsOnline {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("wait for connectivity: timed out after %s", timeout)
			}
		}
	}
}

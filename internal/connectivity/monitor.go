// Package connectivity tracks whether the record store is reachable and
// announces online/offline transitions.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/civicfix-service/internal/observability"
)

// Pinger checks the upstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes a Pinger on an interval.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	online    atomic.Bool
	probed    atomic.Bool
	announced atomic.Bool

	mu     sync.Mutex
	subs   map[int]chan bool
	nextID int
}

// NewMonitor creates a Monitor. The state is offline until the first probe.
func NewMonitor(pinger Pinger, interval, timeout time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		pinger:   pinger,
		interval: interval,
		timeout:  timeout,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		subs:     make(map[int]chan bool),
	}
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Subscribe returns a channel receiving the new state on every transition.
// Slow subscribers only see the latest state. Call cancel to unsubscribe.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			m.Probe(ctx)
		}
	}
}

// Probe pings once and records the outcome.
func (m *Monitor) Probe(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.pinger.Ping(pingCtx)
	if err != nil && ctx.Err() != nil {
		return m.Online()
	}
	if err != nil {
		m.logger.Debug("connectivity probe failed", "error", err)
	}
	m.probed.Store(true)
	m.Set(err == nil)
	return err == nil
}

// Set records a state and notifies subscribers if it changed. The first
// call always notifies.
func (m *Monitor) Set(online bool) {
	prev := m.online.Swap(online)
	first := !m.announced.Swap(true)
	if prev == online && !first {
		return
	}

	if online {
		m.metrics.ConnectivityOnline.Set(1)
		m.logger.Info("record store reachable")
	} else {
		m.metrics.ConnectivityOnline.Set(0)
		m.logger.Warn("record store unreachable, submissions will be queued offline")
	}
	m.broadcast(online)
}

// CheckReadiness fails until the first probe has completed.
func (m *Monitor) CheckReadiness(_ context.Context) error {
	if !m.probed.Load() {
		return errors.New("connectivity not probed yet")
	}
	return nil
}

func (m *Monitor) broadcast(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- online:
			continue
		default:
		}
		// Replace the stale value with the latest one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- online:
		default:
		}
	}
}

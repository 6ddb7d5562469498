package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/civicfix-service/internal/observability"
)

type fakePinger struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *fakePinger) Ping(context.Context) error {
	f.calls.Add(1)
	if f.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func newMonitor(p Pinger, clock clockwork.Clock) *Monitor {
	return NewMonitor(p, 10*time.Second, time.Second, clock,
		slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

func receive(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no transition received")
		return false
	}
}

func TestMonitor_NotReadyBeforeFirstProbe(t *testing.T) {
	m := newMonitor(&fakePinger{}, clockwork.NewFakeClock())

	require.Error(t, m.CheckReadiness(context.Background()))
	assert.False(t, m.Online())

	assert.True(t, m.Probe(context.Background()))
	require.NoError(t, m.CheckReadiness(context.Background()))
	assert.True(t, m.Online())
}

func TestMonitor_SetBroadcastsOnlyChanges(t *testing.T) {
	m := newMonitor(&fakePinger{}, clockwork.NewFakeClock())
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Set(true)
	assert.True(t, receive(t, ch))

	m.Set(true)
	select {
	case v := <-ch:
		t.Fatalf("unexpected transition %v", v)
	default:
	}

	m.Set(false)
	assert.False(t, receive(t, ch))
}

func TestMonitor_FirstOfflineProbeAnnounces(t *testing.T) {
	p := &fakePinger{}
	p.fail.Store(true)
	m := newMonitor(p, clockwork.NewFakeClock())
	ch, cancel := m.Subscribe()
	defer cancel()

	assert.False(t, m.Probe(context.Background()))
	assert.False(t, receive(t, ch))
}

func TestMonitor_SlowSubscriberSeesLatest(t *testing.T) {
	m := newMonitor(&fakePinger{}, clockwork.NewFakeClock())
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Set(true)
	m.Set(false)
	m.Set(true)

	assert.True(t, receive(t, ch))
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra transition %v", v)
	default:
	}
}

func TestMonitor_RunProbesOnTicker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := &fakePinger{}
	m := newMonitor(p, clock)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.True(t, receive(t, ch))
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	p.fail.Store(true)
	clock.Advance(10 * time.Second)
	assert.False(t, receive(t, ch))

	p.fail.Store(false)
	clock.Advance(10 * time.Second)
	assert.True(t, receive(t, ch))

	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, p.calls.Load(), int32(3))
}

func TestMonitor_UnsubscribeClosesChannel(t *testing.T) {
	m := newMonitor(&fakePinger{}, clockwork.NewFakeClock())
	ch, cancel := m.Subscribe()

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

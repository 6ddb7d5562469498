// Package events publishes domain events without ever blocking or failing
// the operation that raised them.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/observability"
)

// Sink delivers events to the outside world.
type Sink interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// Emitter buffers events and publishes them from a background loop.
type Emitter struct {
	sink    Sink
	ch      chan domain.Event
	logger  *slog.Logger
	metrics *observability.Metrics

	publishTimeout time.Duration
	maxAttempts    int
	backoff        time.Duration
}

// NewEmitter creates an Emitter with room for buffer pending events. A nil
// sink makes Emit a no-op.
func NewEmitter(sink Sink, buffer int, logger *slog.Logger, metrics *observability.Metrics) *Emitter {
	return &Emitter{
		sink:           sink,
		ch:             make(chan domain.Event, buffer),
		logger:         logger,
		metrics:        metrics,
		publishTimeout: 5 * time.Second,
		maxAttempts:    3,
		backoff:        200 * time.Millisecond,
	}
}

// Emit queues an event. It never blocks: when the buffer is full the event is
// dropped and counted.
func (e *Emitter) Emit(_ context.Context, name domain.EventName, params map[string]any) {
	if e == nil || e.sink == nil {
		return
	}

	ev := domain.Event{Name: name, Params: NormalizeParams(params), OccurredAt: domain.Now()}
	select {
	case e.ch <- ev:
		e.metrics.EventsEmitted.WithLabelValues(string(name)).Inc()
	default:
		e.metrics.EventsDropped.Inc()
		e.logger.Warn("event buffer full, dropping event", "event", name)
	}
}

// Run publishes buffered events until ctx is done, then flushes what is
// left using a short detached deadline.
func (e *Emitter) Run(ctx context.Context) error {
	if e.sink == nil {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			e.flush()
			return nil
		case ev := <-e.ch:
			e.publish(ctx, ev)
		}
	}
}

func (e *Emitter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), e.publishTimeout)
	defer cancel()

	for {
		select {
		case ev := <-e.ch:
			e.publishOnce(ctx, ev)
		default:
			return
		}
	}
}

// publish retries with exponential backoff, then gives up on the event.
func (e *Emitter) publish(ctx context.Context, ev domain.Event) {
	backoff := e.backoff
	for attempt := 1; ; attempt++ {
		err := e.publishOnce(ctx, ev)
		if err == nil {
			return
		}
		if attempt >= e.maxAttempts || !sleepWithContext(ctx, backoff) {
			e.logger.Warn("event publish failed, dropping event",
				"event", ev.Name,
				"attempts", attempt,
				"error", err,
			)
			return
		}
		backoff = nextBackoff(backoff, 5*time.Second)
	}
}

func (e *Emitter) publishOnce(ctx context.Context, ev domain.Event) error {
	pubCtx, cancel := context.WithTimeout(ctx, e.publishTimeout)
	defer cancel()

	if err := e.sink.Publish(pubCtx, []domain.Event{ev}); err != nil {
		e.metrics.EventPublishErrors.Inc()
		return fmt.Errorf("publish %s: %w", ev.Name, err)
	}
	return nil
}

// NormalizeParams drops nil values, maps booleans to 1 or 0, and keeps
// strings and numbers. Anything else is formatted as a string.
func NormalizeParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		switch val := v.(type) {
		case nil:
		case bool:
			if val {
				out[k] = 1
			} else {
				out[k] = 0
			}
		case string, int, int32, int64, float32, float64, uint, uint32, uint64:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

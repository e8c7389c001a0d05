// ABOUTME: Unbounded multi-producer single-consumer event bus fanning out to persistence and harness.
// ABOUTME: Adapted from agent.EventEmitter (teacher), generalized from drop-on-full pub/sub to retrying delivery.

package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Persister is the subset of the State Store the bus needs: durable,
// per-session-ordered append of events.
type Persister interface {
	InsertEvent(ctx context.Context, sessionID string, eventType string, payload []byte) error
}

// HarnessNotifier is the subset of the Harness the bus needs: pure
// observation of every event, never blocking persistence.
type HarnessNotifier interface {
	OnEvent(ctx context.Context, sessionID string, event Event)
}

// retry policy for persistence failures: base 50ms, factor 2, max 5
// attempts, cap 2s, per spec.md §4.1.
const (
	retryBase    = 50 * time.Millisecond
	retryFactor  = 2
	retryMax     = 5
	retryCap     = 2 * time.Second
	shutdownWait = 5 * time.Second
)

// Bus delivers every emitted event exactly once to the Persister and the
// Harness, preserving per-session emission order. It never blocks the
// producer: the internal queue grows without bound under backpressure.
type Bus struct {
	store   Persister
	harness HarnessNotifier
	logger  *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool

	done chan struct{}
}

// New creates a Bus wired to the given store and harness, and starts its
// background consumer goroutine.
func New(store Persister, harness HarnessNotifier, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		store:   store,
		harness: harness,
		logger:  logger.With("component", "kernel.bus"),
		done:    make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.consume()
	return b
}

// Emit appends an event to the queue. Non-blocking and never fails for
// backpressure, per spec.md §4.1.
func (b *Bus) Emit(sessionID string, kind EventKind, data map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, NewEvent(sessionID, kind, data))
	b.cond.Signal()
}

// consume is the single background consumer. For each event it persists
// then notifies the harness, in that order, preserving per-session
// ordering across both sinks.
func (b *Bus) consume() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 && b.closed {
			b.mu.Unlock()
			return
		}
		evt := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.deliver(evt)
	}
}

func (b *Bus) deliver(evt Event) {
	ctx := context.Background()
	if err := b.persistWithRetry(ctx, evt); err != nil {
		b.logger.Error("persist failed after retries", "session_id", evt.SessionID, "kind", evt.Kind, "error", err)
		errPayload, _ := Event{
			Kind:      EventError,
			SessionID: evt.SessionID,
			Timestamp: time.Now(),
			Data:      map[string]any{"stage": "persist", "message": err.Error()},
		}.Payload()
		// Best-effort: a single attempt, no further retry, errors swallowed.
		_ = b.store.InsertEvent(ctx, evt.SessionID, string(EventError), errPayload)
	}

	if b.harness != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("harness on_event panicked", "session_id", evt.SessionID, "recover", r)
				}
			}()
			b.harness.OnEvent(ctx, evt.SessionID, evt)
		}()
	}
}

func (b *Bus) persistWithRetry(ctx context.Context, evt Event) error {
	payload, err := evt.Payload()
	if err != nil {
		return err
	}

	var lastErr error
	delay := retryBase
	for attempt := 0; attempt < retryMax; attempt++ {
		lastErr = b.store.InsertEvent(ctx, evt.SessionID, string(evt.Kind), payload)
		if lastErr == nil {
			return nil
		}
		if attempt == retryMax-1 {
			break
		}
		time.Sleep(delay)
		delay *= retryFactor
		if delay > retryCap {
			delay = retryCap
		}
	}
	return lastErr
}

// PersistNow persists a single event synchronously, applying the same
// retry policy as the background consumer, and bypasses the queue
// entirely. Callers that need to know immediately whether persistence
// succeeded (see kernel.RunnerConfig.FailTurnOnPersistError) use this
// instead of Emit; it does not notify the harness.
func (b *Bus) PersistNow(ctx context.Context, sessionID string, kind EventKind, data map[string]any) error {
	return b.persistWithRetry(ctx, NewEvent(sessionID, kind, data))
}

// Shutdown closes the sender, drains remaining events, and waits for the
// consumer to exit, up to the given deadline (default 5s). Beyond the
// deadline, loss is logged.
func (b *Bus) Shutdown(deadline time.Duration) {
	if deadline <= 0 {
		deadline = shutdownWait
	}
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()

	select {
	case <-b.done:
	case <-time.After(deadline):
		b.logger.Error("bus shutdown deadline exceeded, remaining events dropped")
	}
}

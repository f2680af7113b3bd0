package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"gpio-node/internal/domain"
)

const defaultQueueSize = 256

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

type envelope struct {
	ctx   context.Context
	event domain.Event
}

// Bus is an in-process, goroutine-safe event bus. Events are delivered in
// publish order by a single dispatcher goroutine, so subscribers observe pin
// changes in the order they hit the hardware. Publish never blocks: when the
// queue is full the event is dropped and logged.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger

	queue   chan envelope
	done    chan struct{}
	closeMu sync.RWMutex // guards sends on queue against Close
	closed  bool
	dropped atomic.Uint64
}

// New creates an event bus and starts its dispatcher. A queueSize <= 0
// selects the default.
func New(logger *slog.Logger, queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	b := &Bus{
		typed:  make(map[domain.EventType][]subscription),
		logger: logger,
		queue:  make(chan envelope, queueSize),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish enqueues an event for delivery.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- envelope{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		n := b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event", "event", string(event.Type), "dropped_total", n)
	}
}

// Dropped returns the number of events dropped because the queue was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) run() {
	defer close(b.done)
	for env := range b.queue {
		b.mu.RLock()
		typed := make([]subscription, len(b.typed[env.event.Type]))
		copy(typed, b.typed[env.event.Type])
		allSubs := make([]subscription, len(b.allSubs))
		copy(allSubs, b.allSubs)
		b.mu.RUnlock()

		for _, sub := range typed {
			b.dispatch(env, sub)
		}
		for _, sub := range allSubs {
			b.dispatch(env, sub)
		}
	}
}

func (b *Bus) dispatch(env envelope, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(env.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(env.ctx, env.event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == id {
				b.typed[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.allSubs {
			if s.id == id {
				b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
				return
			}
		}
	}
}

// Close stops accepting events, delivers everything already queued and waits
// for the dispatcher to exit. Close is idempotent.
func (b *Bus) Close() {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	close(b.queue)
	b.closeMu.Unlock()
	<-b.done
}

var _ domain.EventBus = (*Bus)(nil)

package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gpio-node/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.Default(), 0)
}

func newEvent(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now()}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventPinChanged, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventPinChanged {
			got.Add(1)
		}
	})

	bus.Publish(context.Background(), newEvent(domain.EventPinChanged))
	bus.Publish(context.Background(), newEvent(domain.EventActionFired))
	bus.Close() // drain
	if got.Load() != 1 {
		t.Fatalf("expected 1, got %d", got.Load())
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventPinChanged))
	bus.Publish(context.Background(), newEvent(domain.EventActionScheduled))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2, got %d", got.Load())
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	unsub := bus.Subscribe(domain.EventPinChanged, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})
	unsub()

	bus.Publish(context.Background(), newEvent(domain.EventPinChanged))
	bus.Close()

	if got.Load() != 0 {
		t.Fatalf("expected no delivery after unsub, got %d", got.Load())
	}
}

func TestDeliveryOrder(t *testing.T) {
	bus := newTestBus()

	base := time.Now()
	var mu sync.Mutex
	var seen []time.Duration
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		mu.Lock()
		seen = append(seen, e.Timestamp.Sub(base))
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		bus.Publish(context.Background(), domain.Event{
			Type:      domain.EventPinChanged,
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		})
	}
	bus.Close()

	if len(seen) != 50 {
		t.Fatalf("expected 50 events, got %d", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("event %d delivered out of order", i)
		}
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := New(slog.Default(), 200)

	var got atomic.Int32
	bus.Subscribe(domain.EventPinChanged, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventPinChanged))
		}()
	}
	wg.Wait()
	bus.Close()

	if got.Load() != 100 {
		t.Fatalf("expected 100, got %d", got.Load())
	}
}

func TestQueueFullDrops(t *testing.T) {
	bus := New(slog.Default(), 1)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(domain.EventPinChanged, func(_ context.Context, _ domain.Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	bus.Publish(context.Background(), newEvent(domain.EventPinChanged))
	<-started // dispatcher is blocked in the handler

	bus.Publish(context.Background(), newEvent(domain.EventPinChanged)) // fills the queue
	bus.Publish(context.Background(), newEvent(domain.EventPinChanged)) // dropped

	if bus.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", bus.Dropped())
	}
	close(release)
	bus.Close()
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	// First subscriber panics
	bus.Subscribe(domain.EventPinChanged, func(_ context.Context, _ domain.Event) {
		panic("boom")
	})
	// Second subscriber should still fire
	bus.Subscribe(domain.EventPinChanged, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventPinChanged))
	bus.Close()

	if got.Load() != 1 {
		t.Fatalf("expected 1 (second handler), got %d", got.Load())
	}
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventPinChanged, func(_ context.Context, _ domain.Event) {
		time.Sleep(50 * time.Millisecond)
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventPinChanged))
	bus.Close() // should block until the handler finishes

	if got.Load() != 1 {
		t.Fatalf("expected handler to have run, got %d", got.Load())
	}

	// After close, new publishes should be no-ops
	bus.Publish(context.Background(), newEvent(domain.EventPinChanged))
	bus.Close()
	if got.Load() != 1 {
		t.Fatalf("expected no delivery after close, got %d", got.Load())
	}
}

func TestHandlerContextSurvivesCancel(t *testing.T) {
	bus := newTestBus()

	errc := make(chan error, 1)
	bus.Subscribe(domain.EventPinChanged, func(ctx context.Context, _ domain.Event) {
		errc <- ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, newEvent(domain.EventPinChanged))
	cancel()
	bus.Close()

	if err := <-errc; err != nil {
		t.Fatalf("handler saw cancelled context: %v", err)
	}
}

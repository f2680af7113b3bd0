package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"gpio-node/internal/domain"
)

var loopbackOrigins = []string{
	"localhost",
	"localhost:*",
	"127.0.0.1",
	"127.0.0.1:*",
	"[::1]",
	"[::1]:*",
}

// streamClient is one /ws subscriber. Events are queued and written by the
// client's own goroutine; a full queue drops the event.
type streamClient struct {
	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *streamClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// eventStream forwards bus events to websocket clients as JSON text frames.
type eventStream struct {
	bus     domain.EventBus
	origins []string
	metrics *Metrics
	logger  *slog.Logger

	clients sync.Map // uint64 -> *streamClient
	nextID  atomic.Uint64

	mu      sync.Mutex
	unsub   func()
	stopped bool
}

func newEventStream(bus domain.EventBus, origins []string, metrics *Metrics, logger *slog.Logger) *eventStream {
	if len(origins) == 0 {
		origins = loopbackOrigins
	}
	return &eventStream{bus: bus, origins: origins, metrics: metrics, logger: logger}
}

// start subscribes to the bus. Calling it twice is a no-op.
func (e *eventStream) start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsub != nil || e.stopped {
		return
	}
	e.unsub = e.bus.SubscribeAll(e.forward)
}

func (e *eventStream) forward(_ context.Context, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	e.clients.Range(func(_, value any) bool {
		c := value.(*streamClient)
		select {
		case c.sendCh <- data:
			e.metrics.EventsSent.Add(1)
		default:
			e.metrics.EventsDropped.Add(1)
		}
		return true
	})
}

// stop unsubscribes and disconnects every client.
func (e *eventStream) stop() {
	e.mu.Lock()
	e.stopped = true
	unsub := e.unsub
	e.unsub = nil
	e.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	e.clients.Range(func(key, value any) bool {
		value.(*streamClient).close()
		e.clients.Delete(key)
		return true
	})
}

func (e *eventStream) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: e.origins})
	if err != nil {
		e.logger.Warn("websocket accept failed", "error", err)
		return
	}

	id := e.nextID.Add(1)
	c := &streamClient{
		sendCh: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	e.clients.Store(id, c)
	e.metrics.StreamClients.Add(1)
	e.logger.Info("stream client connected", "conn_id", id, "remote", r.RemoteAddr)

	// Clients never send; CloseRead discards input and cancels ctx on close.
	ctx := ws.CloseRead(r.Context())
	status := e.writeLoop(ctx, ws, c)

	c.close()
	e.clients.Delete(id)
	e.metrics.StreamClients.Add(-1)
	ws.Close(status, "")
	e.logger.Info("stream client disconnected", "conn_id", id)
}

func (e *eventStream) writeLoop(ctx context.Context, ws *websocket.Conn, c *streamClient) websocket.StatusCode {
	for {
		select {
		case <-ctx.Done():
			return websocket.StatusNormalClosure
		case <-c.done:
			return websocket.StatusGoingAway
		case data := <-c.sendCh:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return websocket.StatusInternalError
			}
		}
	}
}

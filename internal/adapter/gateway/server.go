package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"gpio-node/internal/domain"
	"gpio-node/internal/infra/middleware"
)

// Handler executes one decoded API request.
type Handler interface {
	Handle(ctx context.Context, req domain.Request) domain.Result
}

// Options configures the HTTP surface.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	SecurityHeaders bool
	// RateLimit enables per-client limiting when non-nil.
	RateLimit *middleware.RateLimitConfig

	// EventStream exposes the event bus at GET /ws.
	EventStream bool
	// OriginPatterns are the browser origins allowed on /ws.
	// Empty allows loopback origins only.
	OriginPatterns []string

	// Metrics exposes Prometheus text counters at GET /metrics.
	Metrics bool
}

// Server is the node's HTTP gateway. API requests are handled one at a time
// and every response closes the connection.
type Server struct {
	handler Handler
	bus     domain.EventBus
	opts    Options
	logger  *slog.Logger
	metrics *Metrics
	started time.Time

	reqMu sync.Mutex // one API request in flight

	stream *eventStream

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a gateway. bus may be nil when neither the event stream
// nor request events are wanted.
func NewServer(handler Handler, bus domain.EventBus, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		handler: handler,
		bus:     bus,
		opts:    opts,
		logger:  logger,
		metrics: &Metrics{},
		started: time.Now(),
	}
	if opts.EventStream && bus != nil {
		s.stream = newEventStream(bus, opts.OriginPatterns, s.metrics, logger)
	}
	return s
}

// Metrics returns the server's counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler builds the full middleware chain. ctx bounds background work such
// as rate limiter pruning.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	if s.stream != nil {
		s.stream.start()
		mux.HandleFunc("/ws", s.stream.serve)
	}
	if s.opts.Metrics {
		mux.HandleFunc("/metrics", metricsHandler(s.metrics, s.started))
	}
	mux.HandleFunc("/", s.serveAPI)

	var h http.Handler = mux
	if s.opts.RateLimit != nil {
		h = middleware.RateLimit(ctx, *s.opts.RateLimit)(h)
	}
	if s.opts.SecurityHeaders {
		h = middleware.SecurityHeaders(h)
	}
	h = middleware.Recover(s.logger)(s.countPanics(h))
	return closeConnection(h)
}

// Start listens on opts.Addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{
		Handler:      s.Handler(ctx),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}
	srv.SetKeepAlivesEnabled(false)

	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("gateway started", "addr", listener.Addr().String(),
		"event_stream", s.stream != nil, "metrics", s.opts.Metrics)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes stream clients and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.stream != nil {
		s.stream.stop()
	}

	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// BoundAddr returns the address the server bound to. Empty before Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// closeConnection marks every plain HTTP response as the last on its
// connection. Websocket upgrades replace the header themselves.
func closeConnection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.metrics.Panics.Add(1)
				panic(rec)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

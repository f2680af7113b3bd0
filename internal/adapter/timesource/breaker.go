package timesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"gpio-node/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 5 * time.Minute
)

// BreakerConfig configures the circuit breaker around a time source.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout time.Duration `yaml:"timeout"`
}

// BreakerSource wraps a TimeSource so that a dead server fails fast during
// periodic resyncs instead of burning the full retry budget every time.
type BreakerSource struct {
	inner   domain.TimeSource
	breaker *gobreaker.CircuitBreaker[time.Time]
}

// NewBreaker wraps inner with a circuit breaker.
func NewBreaker(inner domain.TimeSource, cfg BreakerConfig, logger *slog.Logger) *BreakerSource {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}

	cb := gobreaker.NewCircuitBreaker[time.Time](gobreaker.Settings{
		Name:        "timesource:" + inner.Name(),
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &BreakerSource{inner: inner, breaker: cb}
}

func (b *BreakerSource) Name() string { return b.inner.Name() }

// Fetch routes the call through the breaker.
func (b *BreakerSource) Fetch(ctx context.Context) (time.Time, error) {
	t, err := b.breaker.Execute(func() (time.Time, error) {
		return b.inner.Fetch(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return time.Time{}, domain.NewDomainError("BreakerSource.Fetch",
			fmt.Errorf("%w: %w", domain.ErrTimeSourceUnavailable, err), b.inner.Name())
	}
	return t, err
}

// State returns the current breaker state for monitoring.
func (b *BreakerSource) State() gobreaker.State { return b.breaker.State() }

var _ domain.TimeSource = (*BreakerSource)(nil)

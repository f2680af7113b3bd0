// Package timesync sets the device clock from a network time source.
package timesync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gpio-node/internal/domain"
	"gpio-node/internal/infra/tracer"
)

// Config controls the retry budget and the zone applied to fetched time.
type Config struct {
	Attempts       int
	Backoff        time.Duration
	TimezoneOffset time.Duration
}

// DefaultConfig returns three attempts two seconds apart at UTC+8.
func DefaultConfig() Config {
	return Config{
		Attempts:       3,
		Backoff:        2 * time.Second,
		TimezoneOffset: 8 * time.Hour,
	}
}

// Syncer fetches network time and applies it to the clock.
type Syncer struct {
	cfg    Config
	source domain.TimeSource
	clock  domain.Clock
	bus    domain.EventBus
	logger *slog.Logger

	mu       sync.Mutex // one sync at a time
	lastSync time.Time
}

// New creates a syncer. A non-positive Attempts is treated as one.
func New(cfg Config, source domain.TimeSource, clock domain.Clock, logger *slog.Logger) *Syncer {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	return &Syncer{cfg: cfg, source: source, clock: clock, logger: logger}
}

// SetEventBus attaches a bus for clock.synced and clock.sync_failed events.
func (s *Syncer) SetEventBus(bus domain.EventBus) { s.bus = bus }

// Sync fetches the time, shifts it into the local zone and sets the clock.
// It returns the applied wall time, or ErrTimeSyncFailed once every attempt
// has failed. The clock is untouched on failure.
func (s *Syncer) Sync(ctx context.Context) (_ time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := tracer.StartSpan(ctx, "timesync.sync", tracer.StringAttr("timesync.source", s.source.Name()))
	defer func() { tracer.End(span, err) }()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		fetched, err := s.source.Fetch(ctx)
		if err == nil {
			local := fetched.Add(s.cfg.TimezoneOffset)
			if err := s.clock.Set(local); err != nil {
				return time.Time{}, domain.NewDomainError("Syncer.Sync", err, "set clock")
			}
			s.lastSync = local
			s.logger.Info("clock synced",
				"source", s.source.Name(),
				"localtime", domain.FormatWallClock(local),
				"attempts", attempt,
			)
			s.publish(domain.EventClockSynced, domain.ClockPayload{
				Source:    s.source.Name(),
				Unix:      local.Unix(),
				LocalTime: domain.FormatWallClock(local),
				Attempts:  attempt,
			})
			return local, nil
		}

		lastErr = err
		s.logger.Warn("time fetch failed", "source", s.source.Name(), "attempt", attempt, "error", err)
		if attempt == s.cfg.Attempts {
			break
		}
		if err := sleep(ctx, s.cfg.Backoff); err != nil {
			lastErr = err
			break
		}
	}

	s.publish(domain.EventClockSyncFailed, domain.ClockPayload{
		Source:   s.source.Name(),
		Attempts: s.cfg.Attempts,
		Error:    lastErr.Error(),
	})
	return time.Time{}, domain.NewDomainError("Syncer.Sync",
		fmt.Errorf("%w: %w", domain.ErrTimeSyncFailed, lastErr), s.source.Name())
}

// LastSync returns the wall time applied by the last successful sync.
func (s *Syncer) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

func (s *Syncer) publish(t domain.EventType, p domain.ClockPayload) {
	if s.bus != nil {
		s.bus.Publish(context.Background(), domain.NewEvent(t, p))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

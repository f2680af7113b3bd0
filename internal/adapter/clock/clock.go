// Package clock provides the device wall clock.
package clock

import (
	"sync"
	"time"

	"gpio-node/internal/domain"
)

// OffsetClock is a software real-time clock. It keeps an offset from the host
// monotonic clock, so setting it never touches the system time.
type OffsetClock struct {
	mu     sync.RWMutex
	offset time.Duration
	now    func() time.Time
}

// NewOffset returns a clock that reads the host time until it is set.
func NewOffset() *OffsetClock {
	return &OffsetClock{now: time.Now}
}

// Now returns the current wall time.
func (c *OffsetClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Add(c.offset)
}

// Set moves the clock to t. Subsequent reads advance from t at host speed.
// A t too far from the host time for a Duration offset is rejected with
// ErrValidation and leaves the clock unchanged.
func (c *OffsetClock) Set(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	offset := t.Sub(now)
	if !now.Add(offset).Equal(t) {
		return domain.NewDomainError("OffsetClock.Set", domain.ErrValidation,
			"time out of range: "+t.UTC().Format(time.RFC3339))
	}
	c.offset = offset
	return nil
}

// Offset returns the current skew from the host clock.
func (c *OffsetClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

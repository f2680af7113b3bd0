package domain

import (
	"context"
	"time"
)

// WallClockLayout is the layout used when echoing the wall clock to clients.
const WallClockLayout = "2006-01-02 15:04:05"

// Clock is the device real-time clock. The stored value is the local wall
// time expressed as a Unix instant; it carries no zone of its own.
type Clock interface {
	Now() time.Time
	Set(t time.Time) error
}

// TimeSource fetches the current UTC time from the network.
type TimeSource interface {
	Name() string
	Fetch(ctx context.Context) (time.Time, error)
}

// FormatWallClock renders t the way the API echoes wall-clock values.
func FormatWallClock(t time.Time) string {
	return t.UTC().Format(WallClockLayout)
}

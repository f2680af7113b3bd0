// Package timesource fetches network time.
package timesource

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"

	"gpio-node/internal/domain"
)

// DefaultNTPHost is the server queried when none is configured.
const DefaultNTPHost = "ntp.ntsc.ac.cn"

const defaultNTPTimeout = 5 * time.Second

// NTPSource queries a single NTP server.
type NTPSource struct {
	host    string
	timeout time.Duration
	query   func(host string, opt ntp.QueryOptions) (*ntp.Response, error)
	now     func() time.Time
}

// NewNTP returns an NTP time source. Zero values select the defaults.
func NewNTP(host string, timeout time.Duration) *NTPSource {
	if host == "" {
		host = DefaultNTPHost
	}
	if timeout <= 0 {
		timeout = defaultNTPTimeout
	}
	return &NTPSource{host: host, timeout: timeout, query: ntp.QueryWithOptions, now: time.Now}
}

func (s *NTPSource) Name() string { return "ntp:" + s.host }

// Fetch returns the current UTC time as reported by the server.
func (s *NTPSource) Fetch(ctx context.Context) (time.Time, error) {
	timeout := s.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return time.Time{}, ctx.Err()
	}

	resp, err := s.query(s.host, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return time.Time{}, domain.NewDomainError("NTPSource.Fetch",
			fmt.Errorf("%w: %w", domain.ErrTimeSourceUnavailable, err), s.host)
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, domain.NewDomainError("NTPSource.Fetch",
			fmt.Errorf("%w: %w", domain.ErrTimeSourceUnavailable, err), s.host)
	}
	return s.now().Add(resp.ClockOffset).UTC(), nil
}

var _ domain.TimeSource = (*NTPSource)(nil)

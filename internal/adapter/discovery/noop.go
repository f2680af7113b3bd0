//go:build !mdns

package discovery

import (
	"context"
	"log/slog"
)

// Enabled reports whether mDNS support is compiled in.
const Enabled = false

// MDNS is a stand-in used when the binary is built without mdns.
type MDNS struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *MDNS {
	return &MDNS{logger: logger}
}

// Advertise logs once and waits for ctx.
func (m *MDNS) Advertise(ctx context.Context, ad Advertisement) error {
	m.logger.Info("mdns not compiled in; not advertising", "instance", ad.Instance)
	<-ctx.Done()
	return nil
}

// Scan finds nothing.
func (m *MDNS) Scan(context.Context, string) ([]Peer, error) {
	return nil, nil
}

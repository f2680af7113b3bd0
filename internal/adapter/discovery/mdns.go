//go:build mdns

package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/grandcat/zeroconf"
)

// Enabled reports whether mDNS support is compiled in.
const Enabled = true

// MDNS advertises and browses DNS-SD records with zeroconf.
type MDNS struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *MDNS {
	return &MDNS{logger: logger}
}

// Advertise registers the node and blocks until ctx is cancelled.
func (m *MDNS) Advertise(ctx context.Context, ad Advertisement) error {
	ad = ad.withDefaults()
	server, err := zeroconf.Register(ad.Instance, ad.Service, ad.Domain, ad.Port, TXTRecords(ad.TXT), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	m.logger.Info("mdns advertising", "instance", ad.Instance, "service", ad.Service, "port", ad.Port)
	<-ctx.Done()
	server.Shutdown()
	return nil
}

// Scan browses for service until ctx is done or the scan window closes.
func (m *MDNS) Scan(ctx context.Context, service string) ([]Peer, error) {
	if service == "" {
		service = DefaultService
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		peers []Peer
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			p := entryToPeer(entry)
			peers = append(peers, p)
			m.logger.Debug("mdns found peer", "instance", p.Instance, "address", p.Address)
		}
	}()

	if err := resolver.Browse(scanCtx, service, DefaultDomain, entries); err != nil {
		cancel()
		wg.Wait()
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-scanCtx.Done()
	wg.Wait()
	return peers, nil
}

func entryToPeer(entry *zeroconf.ServiceEntry) Peer {
	var address string
	if len(entry.AddrIPv4) > 0 {
		address = fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port)
	} else if len(entry.AddrIPv6) > 0 {
		address = fmt.Sprintf("[%s]:%d", entry.AddrIPv6[0], entry.Port)
	}
	return Peer{
		Instance: entry.ServiceRecord.Instance,
		Address:  address,
		TXT:      parseTXTRecords(entry.Text),
	}
}

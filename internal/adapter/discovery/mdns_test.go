//go:build mdns

package discovery

import (
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

func TestEntryToPeer(t *testing.T) {
	entry := zeroconf.NewServiceEntry("bench", DefaultService, DefaultDomain)
	entry.Port = 8080
	entry.Text = []string{"node=bench", "pins=2,4,5"}
	entry.AddrIPv4 = append(entry.AddrIPv4, []byte{192, 168, 4, 1})

	p := entryToPeer(entry)
	assert.Equal(t, "bench", p.Instance)
	assert.Equal(t, "192.168.4.1:8080", p.Address)
	assert.Equal(t, "2,4,5", p.TXT["pins"])
}

func TestEntryToPeerIPv6(t *testing.T) {
	entry := zeroconf.NewServiceEntry("bench", DefaultService, DefaultDomain)
	entry.Port = 8080
	entry.AddrIPv6 = append(entry.AddrIPv6, []byte{0xfe, 0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})

	assert.Equal(t, "[fe80::1]:8080", entryToPeer(entry).Address)
}

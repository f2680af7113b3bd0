// Package discovery advertises the node on the local network and finds
// other nodes. The mDNS implementation is compiled in with the "mdns" build
// tag; without it every operation is a no-op.
package discovery

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultService = "_gpio-node._tcp"
	DefaultDomain  = "local."
	scanTimeout    = 5 * time.Second
)

// Advertisement describes this node's service record.
type Advertisement struct {
	Instance string
	Service  string
	Domain   string
	Port     int
	TXT      map[string]string
}

// Peer is a node found on the network.
type Peer struct {
	Instance string            `json:"instance"`
	Address  string            `json:"address"`
	TXT      map[string]string `json:"txt,omitempty"`
}

func (a Advertisement) withDefaults() Advertisement {
	if a.Service == "" {
		a.Service = DefaultService
	}
	if a.Domain == "" {
		a.Domain = DefaultDomain
	}
	return a
}

// TXTRecords renders metadata as sorted key=value records.
func TXTRecords(meta map[string]string) []string {
	txt := make([]string, 0, len(meta))
	for k, v := range meta {
		txt = append(txt, k+"="+v)
	}
	sort.Strings(txt)
	return txt
}

func parseTXTRecords(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, t := range txt {
		if k, v, ok := strings.Cut(t, "="); ok {
			m[k] = v
		}
	}
	return m
}

// PortOf extracts the TCP port from a listen address such as ":8080".
func PortOf(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", portStr)
	}
	return port, nil
}

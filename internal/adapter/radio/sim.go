// Package radio drives the wireless interface.
package radio

import (
	"context"
	"sync"
)

// SimRadio is a simulated radio. The station associates after a configurable
// number of polls; a negative count means it never does.
type SimRadio struct {
	mu           sync.Mutex
	connectAfter int
	polls        int
	connecting   bool
	connected    bool
	apActive     bool
	apStarts     int
	ssid         string
}

// NewSim returns a simulated radio whose station reports connected on the
// connectAfter-th poll.
func NewSim(connectAfter int) *SimRadio {
	return &SimRadio{connectAfter: connectAfter}
}

func (r *SimRadio) ConnectStation(_ context.Context, ssid, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ssid = ssid
	r.connecting = true
	r.polls = 0
	return nil
}

func (r *SimRadio) StationConnected(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connecting {
		return r.connected, nil
	}
	r.polls++
	if r.connectAfter >= 0 && r.polls >= r.connectAfter {
		r.connected = true
	}
	return r.connected, nil
}

func (r *SimRadio) DisconnectStation(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connecting = false
	r.connected = false
	return nil
}

func (r *SimRadio) StartAP(_ context.Context, ssid, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apActive = true
	r.apStarts++
	r.ssid = ssid
	return nil
}

func (r *SimRadio) StopAP(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apActive = false
	return nil
}

// Polls returns how many times StationConnected was polled since the last
// ConnectStation.
func (r *SimRadio) Polls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls
}

// APStarts returns how many times StartAP was called.
func (r *SimRadio) APStarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apStarts
}

// APActive reports whether the access point is up.
func (r *SimRadio) APActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apActive
}

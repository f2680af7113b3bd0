package domain

import "context"

// ConnectivityMode is the network mode selected at boot.
type ConnectivityMode string

const (
	ModeUnknown     ConnectivityMode = ""
	ModeStation     ConnectivityMode = "station"
	ModeAccessPoint ConnectivityMode = "ap"
)

// ConnState is a state of the connectivity state machine.
type ConnState string

const (
	StateIdle              ConnState = "idle"
	StateConnectingStation ConnState = "connecting_station"
	StateConnected         ConnState = "connected"
	StateStationFailed     ConnState = "station_failed"
	StateStartingAP        ConnState = "starting_ap"
	StateAPActive          ConnState = "ap_active"
)

// Terminal reports whether the state machine stops in s.
func (s ConnState) Terminal() bool {
	return s == StateConnected || s == StateAPActive
}

// Radio drives the wireless interface.
type Radio interface {
	// ConnectStation initiates (but does not wait for) a station association.
	ConnectStation(ctx context.Context, ssid, passphrase string) error
	// StationConnected polls the association state.
	StationConnected(ctx context.Context) (bool, error)
	// DisconnectStation abandons a pending or established association.
	DisconnectStation(ctx context.Context) error
	// StartAP brings up the local access point.
	StartAP(ctx context.Context, ssid, passphrase string) error
	// StopAP tears the local access point down.
	StopAP(ctx context.Context) error
}

// Indicator is the status LED.
type Indicator interface {
	On() error
	Off() error
	Toggle() error
}

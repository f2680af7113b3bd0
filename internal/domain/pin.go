package domain

import "fmt"

// PinID identifies a controllable GPIO pin by its board number.
type PinID int

func (p PinID) String() string { return fmt.Sprintf("GPIO%d", int(p)) }

// Level is a digital pin level.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

// Invert returns the opposite level.
func (l Level) Invert() Level { return 1 - l }

// Valid reports whether l is 0 or 1.
func (l Level) Valid() bool { return l == Low || l == High }

// Duty bounds for PWM-capable pins.
const (
	DutyMin = 0
	DutyMax = 1023
)

// PinCapability describes what a pin can do. Fixed at startup.
type PinCapability int

const (
	CapDigitalOnly PinCapability = iota
	CapDigitalAndPWM
)

func (c PinCapability) String() string {
	switch c {
	case CapDigitalAndPWM:
		return "digital+pwm"
	default:
		return "digital"
	}
}

// HasPWM reports whether the capability includes PWM output.
func (c PinCapability) HasPWM() bool { return c == CapDigitalAndPWM }

// PinState is the cached state of one pin. Duty is meaningful only when
// Capability.HasPWM() is true.
type PinState struct {
	Pin        PinID         `json:"pin"`
	Capability PinCapability `json:"-"`
	Level      Level         `json:"state"`
	Duty       int           `json:"pwm,omitempty"`
}

// PinDriver is the physical pin capability. Implementations are not required
// to be safe for concurrent use; the pin registry serializes all calls.
type PinDriver interface {
	SetDigital(pin PinID, level Level) error
	ReadDigital(pin PinID) (Level, error)
	SetPWMDuty(pin PinID, duty int) error
	ReadPWMDuty(pin PinID) (int, error)
}

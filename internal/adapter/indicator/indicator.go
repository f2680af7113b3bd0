// Package indicator drives the status LED.
package indicator

import "gpio-node/internal/domain"

// pinWriter is the slice of the pin registry the indicator needs. Going
// through the registry keeps the LED pin's cached level in step with the
// hardware when the LED shares a pin with the API.
type pinWriter interface {
	SetLevel(pin domain.PinID, level domain.Level) (domain.PinState, error)
	Flip(pin domain.PinID) (domain.Level, error)
}

// PinIndicator is an LED wired to a GPIO pin.
type PinIndicator struct {
	pins      pinWriter
	pin       domain.PinID
	activeLow bool
}

// NewPin returns an indicator on pin. With activeLow set, "on" drives the
// pin low.
func NewPin(pins pinWriter, pin domain.PinID, activeLow bool) *PinIndicator {
	return &PinIndicator{pins: pins, pin: pin, activeLow: activeLow}
}

func (p *PinIndicator) On() error  { return p.set(true) }
func (p *PinIndicator) Off() error { return p.set(false) }

func (p *PinIndicator) Toggle() error {
	_, err := p.pins.Flip(p.pin)
	return err
}

func (p *PinIndicator) set(lit bool) error {
	level := domain.Low
	if lit != p.activeLow {
		level = domain.High
	}
	_, err := p.pins.SetLevel(p.pin, level)
	return err
}

// Nop is an indicator for boards without a status LED.
type Nop struct{}

func (Nop) On() error     { return nil }
func (Nop) Off() error    { return nil }
func (Nop) Toggle() error { return nil }

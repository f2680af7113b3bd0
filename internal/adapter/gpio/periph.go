//go:build edge

package gpio

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"gpio-node/internal/domain"
)

// PeriphDriver implements domain.PinDriver on real hardware using periph.io.
type PeriphDriver struct {
	mu      sync.Mutex
	pins    map[domain.PinID]gpio.PinIO // cached pin handles
	duties  map[domain.PinID]int        // periph cannot read PWM duty back
	pwmFreq physic.Frequency
}

// NewPeriphDriver initializes periph.io and returns a hardware driver.
// pwmHz is the PWM carrier frequency; 0 selects 500 Hz.
func NewPeriphDriver(pwmHz int) (*PeriphDriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	if pwmHz <= 0 {
		pwmHz = 500
	}
	return &PeriphDriver{
		pins:    make(map[domain.PinID]gpio.PinIO),
		duties:  make(map[domain.PinID]int),
		pwmFreq: physic.Frequency(pwmHz) * physic.Hertz,
	}, nil
}

// resolve looks up a GPIO line by number, caching the handle.
func (d *PeriphDriver) resolve(pin domain.PinID) (gpio.PinIO, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pins[pin]; ok {
		return p, nil
	}
	p := gpioreg.ByName(pin.String())
	if p == nil {
		return nil, fmt.Errorf("pin %d (%s) not found in hardware", pin, pin)
	}
	d.pins[pin] = p
	return p, nil
}

func (d *PeriphDriver) SetDigital(pin domain.PinID, level domain.Level) error {
	p, err := d.resolve(pin)
	if err != nil {
		return err
	}
	return p.Out(toPeriphLevel(level))
}

// ReadDigital samples the output latch. The line is not switched to input so
// a driven output keeps its level.
func (d *PeriphDriver) ReadDigital(pin domain.PinID) (domain.Level, error) {
	p, err := d.resolve(pin)
	if err != nil {
		return 0, err
	}
	if p.Read() == gpio.High {
		return domain.High, nil
	}
	return domain.Low, nil
}

func (d *PeriphDriver) SetPWMDuty(pin domain.PinID, duty int) error {
	p, err := d.resolve(pin)
	if err != nil {
		return err
	}
	if err := p.PWM(scaleDuty(duty), d.pwmFreq); err != nil {
		return fmt.Errorf("pwm %s: %w", pin, err)
	}
	d.mu.Lock()
	d.duties[pin] = duty
	d.mu.Unlock()
	return nil
}

func (d *PeriphDriver) ReadPWMDuty(pin domain.PinID) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	duty, ok := d.duties[pin]
	if !ok {
		return 0, fmt.Errorf("pin %d has no pwm output", pin)
	}
	return duty, nil
}

func toPeriphLevel(l domain.Level) gpio.Level {
	if l == domain.High {
		return gpio.High
	}
	return gpio.Low
}

// scaleDuty maps [0, DutyMax] onto periph's [0, gpio.DutyMax].
func scaleDuty(duty int) gpio.Duty {
	return gpio.Duty(int64(duty) * int64(gpio.DutyMax) / domain.DutyMax)
}

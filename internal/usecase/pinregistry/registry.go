package pinregistry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gpio-node/internal/domain"
)

// PinSpec declares one pin at startup.
type PinSpec struct {
	ID         domain.PinID
	Capability domain.PinCapability
	Initial    domain.Level
}

// Registry owns the cached state of every configured pin. All physical pin
// access goes through it so the cached and physical values never diverge.
type Registry struct {
	mu     sync.Mutex
	driver domain.PinDriver
	pins   map[domain.PinID]*domain.PinState
	bus    domain.EventBus
	logger *slog.Logger
}

// New drives every pin to its initial level and returns the registry.
func New(driver domain.PinDriver, specs []PinSpec, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		driver: driver,
		pins:   make(map[domain.PinID]*domain.PinState, len(specs)),
		logger: logger,
	}
	for _, spec := range specs {
		if _, dup := r.pins[spec.ID]; dup {
			return nil, fmt.Errorf("pinregistry: duplicate pin %s", spec.ID)
		}
		if !spec.Initial.Valid() {
			return nil, fmt.Errorf("pinregistry: %s initial level %d must be 0 or 1", spec.ID, spec.Initial)
		}
		if err := driver.SetDigital(spec.ID, spec.Initial); err != nil {
			return nil, fmt.Errorf("pinregistry: init %s: %w", spec.ID, err)
		}
		r.pins[spec.ID] = &domain.PinState{
			Pin:        spec.ID,
			Capability: spec.Capability,
			Level:      spec.Initial,
		}
	}
	return r, nil
}

// SetEventBus attaches a bus for pin.changed events. Must be called before
// the registry is shared.
func (r *Registry) SetEventBus(bus domain.EventBus) { r.bus = bus }

// Has reports whether pin is registered.
func (r *Registry) Has(pin domain.PinID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pins[pin]
	return ok
}

// Capability returns the capability of pin.
func (r *Registry) Capability(pin domain.PinID) (domain.PinCapability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.lookup("Registry.Capability", pin)
	if err != nil {
		return 0, err
	}
	return st.Capability, nil
}

// SetLevel drives pin to level and returns the new state.
func (r *Registry) SetLevel(pin domain.PinID, level domain.Level) (domain.PinState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.lookup("Registry.SetLevel", pin)
	if err != nil {
		return domain.PinState{}, err
	}
	if !level.Valid() {
		return domain.PinState{}, domain.NewDomainError("Registry.SetLevel", domain.ErrValidation,
			fmt.Sprintf("state must be 0 or 1, got %d", level))
	}
	if err := r.writeLevel("Registry.SetLevel", st, level); err != nil {
		return domain.PinState{}, err
	}
	return *st, nil
}

// Level returns the current level of pin.
func (r *Registry) Level(pin domain.PinID) (domain.Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.lookup("Registry.Level", pin)
	if err != nil {
		return 0, err
	}
	return st.Level, nil
}

// SetPWM applies duty clamped to [DutyMin, DutyMax] and returns the applied
// value. Out-of-range values are clamped, not rejected.
func (r *Registry) SetPWM(pin domain.PinID, duty int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.lookupPWM("Registry.SetPWM", pin)
	if err != nil {
		return 0, err
	}
	applied := clampDuty(duty)
	if err := r.driver.SetPWMDuty(pin, applied); err != nil {
		return 0, domain.NewDomainError("Registry.SetPWM", fmt.Errorf("%w: %w", domain.ErrDriver, err), pin.String())
	}
	st.Duty = applied
	r.logger.Info("pin pwm set", "pin", int(pin), "duty", applied, "requested", duty)
	r.publish(*st)
	return applied, nil
}

// PWM returns the current duty of pin.
func (r *Registry) PWM(pin domain.PinID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, err := r.lookupPWM("Registry.PWM", pin)
	if err != nil {
		return 0, err
	}
	return st.Duty, nil
}

// Flip inverts the level of pin and returns the new level.
func (r *Registry) Flip(pin domain.PinID) (domain.Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.lookup("Registry.Flip", pin)
	if err != nil {
		return 0, err
	}
	if err := r.writeLevel("Registry.Flip", st, st.Level.Invert()); err != nil {
		return 0, err
	}
	return st.Level, nil
}

// Pins returns a snapshot of every pin ordered by id.
func (r *Registry) Pins() []domain.PinState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PinState, 0, len(r.pins))
	for _, st := range r.pins {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pin < out[j].Pin })
	return out
}

// writeLevel performs exactly one physical write and updates the cache only
// when the driver accepted it. Caller holds r.mu.
func (r *Registry) writeLevel(op string, st *domain.PinState, level domain.Level) error {
	if err := r.driver.SetDigital(st.Pin, level); err != nil {
		return domain.NewDomainError(op, fmt.Errorf("%w: %w", domain.ErrDriver, err), st.Pin.String())
	}
	st.Level = level
	r.logger.Debug("pin level set", "pin", int(st.Pin), "state", int(level))
	r.publish(*st)
	return nil
}

func (r *Registry) lookup(op string, pin domain.PinID) (*domain.PinState, error) {
	st, ok := r.pins[pin]
	if !ok {
		return nil, domain.NewDomainError(op, domain.ErrUnknownPin, pin.String())
	}
	return st, nil
}

func (r *Registry) lookupPWM(op string, pin domain.PinID) (*domain.PinState, error) {
	st, err := r.lookup(op, pin)
	if err != nil {
		return nil, err
	}
	if !st.Capability.HasPWM() {
		return nil, domain.NewDomainError(op, domain.ErrUnsupportedCapability,
			fmt.Sprintf("%s does not support PWM", pin))
	}
	return st, nil
}

func (r *Registry) publish(st domain.PinState) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(context.Background(), domain.NewEvent(domain.EventPinChanged, st))
}

func clampDuty(duty int) int {
	return max(domain.DutyMin, min(domain.DutyMax, duty))
}

// Package actions holds pending timed pin flips and fires them when due.
package actions

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"gpio-node/internal/domain"
)

// Validation messages echoed to API clients.
const (
	MsgTimingNotPositive = "Timing must be greater than 0"
	MsgTimestampInPast   = "Timestamp must be in the future"
)

// PinFlipper is the slice of the pin registry the engine drives.
type PinFlipper interface {
	Has(pin domain.PinID) bool
	Flip(pin domain.PinID) (domain.Level, error)
}

// Engine keeps at most one pending action per pin. Scheduling a second
// action for a pin replaces the first.
type Engine struct {
	mu      sync.Mutex
	pins    PinFlipper
	pending map[domain.PinID]domain.ScheduledAction
	entropy io.Reader // monotonic; guarded by mu
	bus     domain.EventBus
	logger  *slog.Logger
}

// New creates an empty engine.
func New(pins PinFlipper, logger *slog.Logger) *Engine {
	return &Engine{
		pins:    pins,
		pending: make(map[domain.PinID]domain.ScheduledAction),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		logger:  logger,
	}
}

// SetEventBus attaches a bus for action events.
func (e *Engine) SetEventBus(bus domain.EventBus) { e.bus = bus }

// Schedule registers a flip of pin. For ActionTimingRelative, requested is
// a delay in seconds from now; for ActionDelayAbsolute it is a Unix
// timestamp. The fire time must be strictly after now.
func (e *Engine) Schedule(pin domain.PinID, kind domain.ActionKind, requested int64, now time.Time) (domain.ScheduledAction, error) {
	var fireAt time.Time
	var msg string
	switch kind {
	case domain.ActionTimingRelative:
		if requested <= 0 {
			return domain.ScheduledAction{}, domain.NewDomainError("Engine.Schedule", domain.ErrValidation,
				MsgTimingNotPositive)
		}
		if requested > math.MaxInt64/int64(time.Second) {
			return domain.ScheduledAction{}, domain.NewDomainError("Engine.Schedule", domain.ErrValidation,
				"Timing is too large")
		}
		fireAt = now.Add(time.Duration(requested) * time.Second)
		msg = MsgTimingNotPositive
	case domain.ActionDelayAbsolute:
		fireAt = time.Unix(requested, 0)
		msg = MsgTimestampInPast
	default:
		return domain.ScheduledAction{}, domain.NewDomainError("Engine.Schedule", domain.ErrValidation,
			"unknown action kind "+string(kind))
	}
	if !fireAt.After(now) {
		return domain.ScheduledAction{}, domain.NewDomainError("Engine.Schedule", domain.ErrValidation, msg)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.pins.Has(pin) {
		return domain.ScheduledAction{}, domain.NewDomainError("Engine.Schedule", domain.ErrUnknownPin, pin.String())
	}

	action := domain.ScheduledAction{
		ID:        ulid.MustNew(ulid.Timestamp(now), e.entropy).String(),
		Pin:       pin,
		Kind:      kind,
		Requested: requested,
		FireAt:    fireAt,
		Effect:    domain.EffectFlip,
		CreatedAt: now,
	}
	if prev, ok := e.pending[pin]; ok {
		e.logger.Info("scheduled action replaced", "pin", int(pin), "replaced_id", prev.ID, "id", action.ID)
		e.publish(domain.EventActionReplaced, prev)
	}
	e.pending[pin] = action

	e.logger.Info("action scheduled",
		"id", action.ID,
		"pin", int(pin),
		"kind", string(kind),
		"requested", requested,
		"fire_at", fireAt.Unix(),
	)
	e.publish(domain.EventActionScheduled, action)
	return action, nil
}

// Sweep fires every action due at now and removes it. A flip that fails is
// logged and dropped; it is never retried.
func (e *Engine) Sweep(now time.Time) []domain.Fired {
	e.mu.Lock()
	defer e.mu.Unlock()

	due := make([]domain.ScheduledAction, 0, len(e.pending))
	for _, a := range e.pending {
		if a.Due(now) {
			due = append(due, a)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].FireAt.Equal(due[j].FireAt) {
			return due[i].FireAt.Before(due[j].FireAt)
		}
		return due[i].Pin < due[j].Pin
	})

	fired := make([]domain.Fired, 0, len(due))
	for _, a := range due {
		delete(e.pending, a.Pin)
		level, err := e.pins.Flip(a.Pin)
		if err != nil {
			e.logger.Error("scheduled flip failed", "id", a.ID, "pin", int(a.Pin), "error", err)
			e.publish(domain.EventActionFailed, a)
			continue
		}
		f := domain.Fired{ActionID: a.ID, Pin: a.Pin, Level: level}
		e.logger.Info("scheduled action fired", "id", a.ID, "pin", int(a.Pin), "state", int(level))
		e.publish(domain.EventActionFired, f)
		fired = append(fired, f)
	}
	return fired
}

// Pending returns a snapshot of all pending actions ordered by fire time.
func (e *Engine) Pending() []domain.ScheduledAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.ScheduledAction, 0, len(e.pending))
	for _, a := range e.pending {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// PendingFor returns the pending action for pin, if any.
func (e *Engine) PendingFor(pin domain.PinID) (domain.ScheduledAction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.pending[pin]
	return a, ok
}

// publish is called with e.mu held; the bus only enqueues.
func (e *Engine) publish(t domain.EventType, payload any) {
	if e.bus != nil {
		e.bus.Publish(context.Background(), domain.NewEvent(t, payload))
	}
}

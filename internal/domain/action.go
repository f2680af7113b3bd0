package domain

import "time"

// ActionKind selects how a scheduled action's fire time is derived.
type ActionKind string

const (
	// ActionTimingRelative fires a number of seconds after creation.
	ActionTimingRelative ActionKind = "timing"
	// ActionDelayAbsolute fires at a caller supplied Unix timestamp.
	ActionDelayAbsolute ActionKind = "delay"
)

// Effect is what a scheduled action does when it fires.
type Effect string

// EffectFlip inverts the pin level. It is the only supported effect.
const EffectFlip Effect = "flip"

// ScheduledAction is a pending pin effect. At most one is pending per pin.
type ScheduledAction struct {
	ID        string     `json:"id"`
	Pin       PinID      `json:"pin"`
	Kind      ActionKind `json:"kind"`
	Requested int64      `json:"requested"`
	FireAt    time.Time  `json:"fire_at"`
	Effect    Effect     `json:"effect"`
	CreatedAt time.Time  `json:"created_at"`
}

// Due reports whether the action should fire at now.
func (a ScheduledAction) Due(now time.Time) bool {
	return !a.FireAt.After(now)
}

// Fired is one result of a sweep.
type Fired struct {
	ActionID string `json:"action_id"`
	Pin      PinID  `json:"pin"`
	Level    Level  `json:"state"`
}

// Package router turns decoded API requests into pin, schedule and clock
// operations. It returns structured results and never writes to the wire.
package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gpio-node/internal/domain"
)

// Messages echoed to API clients.
const (
	MsgInvalidPath       = "Invalid path"
	MsgInvalidParameters = "Invalid parameters"
	MsgInvalidLocalTime  = "Invalid path or parameters"
)

// Op is a routed operation.
type Op int

const (
	OpNotFound Op = iota
	OpReadDigital
	OpWriteDigital
	OpReadPWM
	OpWritePWM
	OpScheduleRelative
	OpScheduleAbsolute
	OpSetWallClock
)

var opNames = map[Op]string{
	OpNotFound:         "not_found",
	OpReadDigital:      "read_digital",
	OpWriteDigital:     "write_digital",
	OpReadPWM:          "read_pwm",
	OpWritePWM:         "write_pwm",
	OpScheduleRelative: "schedule_relative",
	OpScheduleAbsolute: "schedule_absolute",
	OpSetWallClock:     "set_wall_clock",
}

func (o Op) String() string { return opNames[o] }

// Command is a parsed request.
type Command struct {
	Op    Op
	Pin   domain.PinID
	Value int64
}

// Pins is the pin registry surface the router drives.
type Pins interface {
	Has(pin domain.PinID) bool
	Capability(pin domain.PinID) (domain.PinCapability, error)
	SetLevel(pin domain.PinID, level domain.Level) (domain.PinState, error)
	Level(pin domain.PinID) (domain.Level, error)
	SetPWM(pin domain.PinID, duty int) (int, error)
	PWM(pin domain.PinID) (int, error)
}

// Scheduler accepts timed flips.
type Scheduler interface {
	Schedule(pin domain.PinID, kind domain.ActionKind, requested int64, now time.Time) (domain.ScheduledAction, error)
}

// Router dispatches requests.
type Router struct {
	pins   Pins
	engine Scheduler
	clock  domain.Clock
	bus    domain.EventBus
	logger *slog.Logger
}

// New creates a router.
func New(pins Pins, engine Scheduler, clock domain.Clock, logger *slog.Logger) *Router {
	return &Router{pins: pins, engine: engine, clock: clock, logger: logger}
}

// SetEventBus attaches a bus for clock.set events.
func (r *Router) SetEventBus(bus domain.EventBus) { r.bus = bus }

// Parse resolves req into a command. Unknown paths, including pins outside
// the registry, yield OpNotFound with a nil error. Malformed parameters yield
// a validation error.
func (r *Router) Parse(req domain.Request) (Command, error) {
	if req.Path == "/" {
		q, err := ParseQuery(req.RawQuery)
		if err != nil {
			return Command{}, err
		}
		if !q.Has("localtime") {
			return Command{Op: OpNotFound}, nil
		}
		ts, err := q.Int("localtime")
		if err != nil {
			return Command{}, err
		}
		if ts <= 0 {
			return Command{}, invalid(MsgInvalidLocalTime)
		}
		return Command{Op: OpSetWallClock, Value: ts}, nil
	}

	pin, ok := parsePinPath(req.Path)
	if !ok || !r.pins.Has(pin) {
		return Command{Op: OpNotFound}, nil
	}

	q, err := ParseQuery(req.RawQuery)
	if err != nil {
		return Command{}, err
	}

	switch {
	case q.Has("state"):
		if q["state"] == "" {
			return Command{Op: OpReadDigital, Pin: pin}, nil
		}
		v, err := q.Int("state")
		if err != nil {
			return Command{}, err
		}
		if v != 0 && v != 1 {
			return Command{}, invalid("state must be 0 or 1")
		}
		return Command{Op: OpWriteDigital, Pin: pin, Value: v}, nil

	case q.Has("pwm"):
		capability, err := r.pins.Capability(pin)
		if err != nil {
			return Command{}, err
		}
		if !capability.HasPWM() {
			return Command{}, domain.NewDomainError("router.parse", domain.ErrUnsupportedCapability,
				pin.String()+" does not support PWM")
		}
		if q["pwm"] == "" {
			return Command{Op: OpReadPWM, Pin: pin}, nil
		}
		v, err := q.Int("pwm")
		if err != nil {
			return Command{}, err
		}
		return Command{Op: OpWritePWM, Pin: pin, Value: v}, nil

	case q.Has("timing"):
		v, err := q.Int("timing")
		if err != nil {
			return Command{}, err
		}
		return Command{Op: OpScheduleRelative, Pin: pin, Value: v}, nil

	case q.Has("delay"):
		v, err := q.Int("delay")
		if err != nil {
			return Command{}, err
		}
		return Command{Op: OpScheduleAbsolute, Pin: pin, Value: v}, nil

	case len(q) == 0:
		return Command{Op: OpReadDigital, Pin: pin}, nil
	}
	return Command{}, invalid(MsgInvalidParameters)
}

// Handle parses and executes req.
func (r *Router) Handle(ctx context.Context, req domain.Request) domain.Result {
	cmd, err := r.Parse(req)
	if err != nil {
		return r.failure(req, err)
	}
	res, err := r.execute(ctx, cmd)
	if err != nil {
		return r.failure(req, err)
	}
	r.logger.Debug("request handled", "path", req.Path, "op", cmd.Op.String(), "pin", int(cmd.Pin))
	return res
}

func (r *Router) execute(ctx context.Context, cmd Command) (domain.Result, error) {
	res := domain.Success()
	switch cmd.Op {
	case OpNotFound:
		return domain.Failure(http.StatusNotFound, MsgInvalidPath), nil

	case OpReadDigital:
		lvl, err := r.pins.Level(cmd.Pin)
		if err != nil {
			return res, err
		}
		res.State = &lvl

	case OpWriteDigital:
		st, err := r.pins.SetLevel(cmd.Pin, domain.Level(cmd.Value))
		if err != nil {
			return res, err
		}
		res.State = &st.Level

	case OpReadPWM:
		duty, err := r.pins.PWM(cmd.Pin)
		if err != nil {
			return res, err
		}
		res.PWM = &duty

	case OpWritePWM:
		duty, err := r.pins.SetPWM(cmd.Pin, clampInt(cmd.Value))
		if err != nil {
			return res, err
		}
		res.PWM = &duty

	case OpScheduleRelative:
		if _, err := r.engine.Schedule(cmd.Pin, domain.ActionTimingRelative, cmd.Value, r.clock.Now()); err != nil {
			return res, err
		}
		res.Timing = &cmd.Value

	case OpScheduleAbsolute:
		if _, err := r.engine.Schedule(cmd.Pin, domain.ActionDelayAbsolute, cmd.Value, r.clock.Now()); err != nil {
			return res, err
		}
		res.Delay = &cmd.Value

	case OpSetWallClock:
		t := time.Unix(cmd.Value, 0)
		if err := r.clock.Set(t); err != nil {
			if errors.Is(err, domain.ErrValidation) {
				r.logger.Debug("wall clock rejected", "localtime", cmd.Value, "error", err)
				return res, invalid(MsgInvalidLocalTime)
			}
			return res, err
		}
		res.LocalTime = domain.FormatWallClock(t)
		r.logger.Info("wall clock set", "localtime", res.LocalTime)
		if r.bus != nil {
			r.bus.Publish(ctx, domain.NewEvent(domain.EventClockSet, domain.ClockPayload{
				Source:    "api",
				Unix:      cmd.Value,
				LocalTime: res.LocalTime,
			}))
		}
	}
	return res, nil
}

func (r *Router) failure(req domain.Request, err error) domain.Result {
	status := StatusFor(err)
	msg := domain.DetailOf(err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", "path", req.Path, "query", req.RawQuery, "error", err)
	} else {
		r.logger.Debug("request rejected", "path", req.Path, "query", req.RawQuery, "code", string(domain.ErrorCodeOf(err)), "message", msg)
	}
	return domain.Failure(status, msg)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnsupportedCapability):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownPin), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// clampInt narrows v to int without overflow; the registry clamps to the
// duty range.
func clampInt(v int64) int {
	const lim = 1 << 30
	return int(max(-lim, min(lim, v)))
}

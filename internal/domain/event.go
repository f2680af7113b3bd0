package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventPinChanged        EventType = "pin.changed"
	EventActionScheduled   EventType = "action.scheduled"
	EventActionReplaced    EventType = "action.replaced"
	EventActionFired       EventType = "action.fired"
	EventActionFailed      EventType = "action.failed"
	EventConnectivityState EventType = "connectivity.state"
	EventClockSet          EventType = "clock.set"
	EventClockSynced       EventType = "clock.synced"
	EventClockSyncFailed   EventType = "clock.sync_failed"
	EventRequestHandled    EventType = "request.handled"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event with a JSON-encoded payload. A payload that fails
// to marshal is dropped; the event is still delivered.
func NewEvent(t EventType, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now()}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// EventHandler processes an event.
type EventHandler func(ctx context.Context, event Event)

// EventBus publishes and subscribes to events.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
	Close()
}

// ConnectivityPayload is the payload of EventConnectivityState.
type ConnectivityPayload struct {
	From ConnState        `json:"from"`
	To   ConnState        `json:"to"`
	Mode ConnectivityMode `json:"mode,omitempty"`
}

// ClockPayload is the payload of the clock events.
type ClockPayload struct {
	Source    string `json:"source"`
	Unix      int64  `json:"unix,omitempty"`
	LocalTime string `json:"localtime,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RequestPayload is the payload of EventRequestHandled.
type RequestPayload struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	Query      string `json:"query,omitempty"`
	HTTPStatus int    `json:"http_status"`
	Message    string `json:"message,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

package auth

import (
	"context"
	"time"
)

// EventType names an authentication operation.
type EventType string

const (
	EventRegister EventType = "register"
	EventLogin    EventType = "login"
	EventRefresh  EventType = "refresh"
	EventLogout   EventType = "logout"
)

// Outcome is how an operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// AuthEvent describes one completed authentication operation.
// It never carries credentials or tokens.
type AuthEvent struct {
	Type    EventType
	Outcome Outcome
	UserID  int64
	RoleID  int64
	At      time.Time
}

// EventSink receives auth events. Implementations must not block the caller
// for long and must be safe for concurrent use.
type EventSink interface {
	RecordAuthEvent(ctx context.Context, e AuthEvent)
}

// NopEventSink discards events.
type NopEventSink struct{}

// RecordAuthEvent implements EventSink.
func (NopEventSink) RecordAuthEvent(context.Context, AuthEvent) {}

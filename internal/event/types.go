package event

import "time"

// Wildcard is the event type matched by SubscribeAll handlers.
const Wildcard = "*"

// Event types published on a session bus.
const (
	TypeLifecycleChanged = "lifecycle.changed"
	TypeSocketChanged    = "socket.changed"
	TypeDisconnectedHint = "socket.disconnected_hint"
	TypeQRCode           = "pairing.qr_code"
	TypeReconnected      = "pairing.reconnected"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "lifecycle.changed").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for events defined in this package.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string, at time.Time) baseEvent {
	return baseEvent{eventType: eventType, timestamp: at}
}

// QRCodeEvent is emitted each time the pairing procedure displays a new QR code.
type QRCodeEvent struct {
	baseEvent
	Code    string
	Attempt int
}

// NewQRCodeEvent creates a QRCodeEvent observed at the given time.
func NewQRCodeEvent(code string, attempt int, at time.Time) QRCodeEvent {
	return QRCodeEvent{
		baseEvent: newBaseEvent(TypeQRCode, at),
		Code:      code,
		Attempt:   attempt,
	}
}

// ReconnectedEvent is emitted after a reconnect attempt re-established the session.
type ReconnectedEvent struct {
	baseEvent
	StartedAt time.Time
}

// Duration returns how long the pairing procedure took.
func (e ReconnectedEvent) Duration() time.Duration {
	return e.Timestamp().Sub(e.StartedAt)
}

// NewReconnectedEvent creates a ReconnectedEvent for an attempt that
// started at startedAt and finished at finishedAt.
func NewReconnectedEvent(startedAt, finishedAt time.Time) ReconnectedEvent {
	return ReconnectedEvent{
		baseEvent: newBaseEvent(TypeReconnected, finishedAt),
		StartedAt: startedAt,
	}
}

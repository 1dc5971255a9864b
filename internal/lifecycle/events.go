package lifecycle

import (
	"time"

	"github.com/Iron-Ham/webpair/internal/event"
	"github.com/Iron-Ham/webpair/internal/probe"
)

// TransitionEvent reports an accepted change of lifecycle state.
type TransitionEvent struct {
	From       State
	To         State
	ObservedAt time.Time
	Detail     string
}

func (e TransitionEvent) EventType() string    { return event.TypeLifecycleChanged }
func (e TransitionEvent) Timestamp() time.Time { return e.ObservedAt }

// SocketTransitionEvent reports an accepted change of socket-level state.
type SocketTransitionEvent struct {
	TransitionEvent
	Socket probe.SocketState
	Stream probe.SocketStream
}

func (e SocketTransitionEvent) EventType() string { return event.TypeSocketChanged }

// DisconnectedHint is raised when the stream detaches while the QR screen is
// showing. It is advisory and does not change any state.
type DisconnectedHint struct {
	ObservedAt  time.Time
	Observation probe.Observation
}

func (h DisconnectedHint) EventType() string    { return event.TypeDisconnectedHint }
func (h DisconnectedHint) Timestamp() time.Time { return h.ObservedAt }

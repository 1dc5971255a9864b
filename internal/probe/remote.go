package probe

import "context"

// Remote is the capability surface a host exposes for one remote client.
// Implementations must be safe for concurrent use.
type Remote interface {
	// Observe reads the current interface state.
	Observe(ctx context.Context) (Observation, error)

	// Messages returns the raw message stream. The channel is closed when
	// the remote goes away.
	Messages() <-chan RawMessageEvent

	// Pair runs the pairing procedure, calling onQR each time a new code is
	// displayed. It returns true once the session is re-established.
	Pair(ctx context.Context, onQR func(code string, attempt int)) (bool, error)
}

// Notifier is implemented by remotes that can push change ticks instead of
// waiting for the next poll.
type Notifier interface {
	Changes() <-chan struct{}
}

// ReloadSignaler is implemented by remotes whose host announces an
// imminent reload of the client.
type ReloadSignaler interface {
	Reloads() <-chan struct{}
}

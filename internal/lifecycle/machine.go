package lifecycle

import (
	"context"
	"sync"

	"github.com/Iron-Ham/webpair/internal/clock"
	"github.com/Iron-Ham/webpair/internal/errors"
	"github.com/Iron-Ham/webpair/internal/event"
	"github.com/Iron-Ham/webpair/internal/logging"
	"github.com/Iron-Ham/webpair/internal/metrics"
	"github.com/Iron-Ham/webpair/internal/probe"
)

// Options configures a Machine. All fields are optional.
type Options struct {
	Bus     *event.Bus
	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *metrics.Session
}

// Machine holds the current lifecycle and socket states of one session.
//
// State is only ever changed by Observe. Observe serializes on a dispatch
// lock taken before the state lock, and publishes after the state lock is
// released, so subscribers see transitions in the order they were accepted
// and may read Current or Socket while another Observe waits.
// Handlers run on the observing goroutine and must not call Observe or Poll.
type Machine struct {
	mu         sync.Mutex
	dispatchMu sync.Mutex

	current    State
	socket     State
	hintActive bool

	bus     *event.Bus
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Session
}

// NewMachine creates a Machine in the Init state.
func NewMachine(opts Options) *Machine {
	m := &Machine{
		current: Init,
		socket:  Init,
		bus:     opts.Bus,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if m.logger == nil {
		m.logger = logging.NopLogger()
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.bus == nil {
		m.bus = event.NewBus(event.WithLogger(m.logger))
	}
	m.metrics.SetState(int(Init))
	return m
}

// Current returns the lifecycle state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Socket returns the socket-level state.
func (m *Machine) Socket() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socket
}

// Observe feeds one observation into the machine. It returns the lifecycle
// transition it caused, if any. Socket transitions and disconnected hints
// are published but not returned.
func (m *Machine) Observe(obs probe.Observation) (TransitionEvent, bool) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	now := m.clock.Now()

	var pending []event.Event
	var transition TransitionEvent
	changed := false

	if target := Classify(obs); target != m.current {
		transition = TransitionEvent{From: m.current, To: target, ObservedAt: now, Detail: obs.String()}
		m.current = target
		changed = true
		pending = append(pending, transition)
	}

	if socket := ClassifySocket(obs); socket != m.socket {
		pending = append(pending, SocketTransitionEvent{
			TransitionEvent: TransitionEvent{From: m.socket, To: socket, ObservedAt: now, Detail: obs.SocketState.String()},
			Socket:          obs.SocketState,
			Stream:          obs.SocketStream,
		})
		m.socket = socket
	}

	// Raised when the condition becomes true, not on every tick it holds.
	hint := obs.Mode == probe.ModeQR && obs.SocketStream == probe.StreamDisconnected
	if hint && !m.hintActive {
		pending = append(pending, DisconnectedHint{ObservedAt: now, Observation: obs})
	}
	m.hintActive = hint
	m.mu.Unlock()

	for _, ev := range pending {
		m.record(ev)
		m.bus.Publish(ev)
	}
	return transition, changed
}

func (m *Machine) record(ev event.Event) {
	switch e := ev.(type) {
	case TransitionEvent:
		m.logger.Info("lifecycle transition", "from", e.From.String(), "to", e.To.String(), "detail", e.Detail)
		m.metrics.Transition("lifecycle", e.To.String())
		m.metrics.SetState(int(e.To))
	case SocketTransitionEvent:
		m.logger.Debug("socket transition", "from", e.From.String(), "to", e.To.String(), "socket", e.Socket.String())
		m.metrics.Transition("socket", e.To.String())
	case DisconnectedHint:
		m.logger.Warn("stream disconnected on QR screen")
		m.metrics.DisconnectedHint()
	}
}

// Poll reads one observation from remote and feeds it to Observe. A failed
// read is logged and returned as a *errors.ProbeError; the current state is
// left untouched.
func (m *Machine) Poll(ctx context.Context, remote probe.Remote) error {
	obs, err := remote.Observe(ctx)
	if err != nil {
		perr := errors.NewProbeError("observe", err)
		m.logger.Warn("probe read failed", "error", perr.Error())
		m.metrics.ProbeFailure()
		return perr
	}
	m.Observe(obs)
	return nil
}

// Subscribe registers fn for lifecycle transitions.
func (m *Machine) Subscribe(fn func(TransitionEvent)) string {
	return m.bus.Subscribe(event.TypeLifecycleChanged, func(e event.Event) {
		if ev, ok := e.(TransitionEvent); ok {
			fn(ev)
		}
	})
}

// SubscribeSocket registers fn for socket-level transitions.
func (m *Machine) SubscribeSocket(fn func(SocketTransitionEvent)) string {
	return m.bus.Subscribe(event.TypeSocketChanged, func(e event.Event) {
		if ev, ok := e.(SocketTransitionEvent); ok {
			fn(ev)
		}
	})
}

// SubscribeHints registers fn for disconnected hints.
func (m *Machine) SubscribeHints(fn func(DisconnectedHint)) string {
	return m.bus.Subscribe(event.TypeDisconnectedHint, func(e event.Event) {
		if ev, ok := e.(DisconnectedHint); ok {
			fn(ev)
		}
	})
}

// Unsubscribe removes a subscription created by any Subscribe method.
func (m *Machine) Unsubscribe(id string) bool {
	return m.bus.Unsubscribe(id)
}

// Package session composes the lifecycle machine, the reconnect controller
// and the message buffer into one session driven by a probe.Remote.
//
// A Session owns every piece of mutable state it uses. Several sessions can
// run in the same process without sharing subscribers, buffers or metrics.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/webpair/internal/clock"
	"github.com/Iron-Ham/webpair/internal/errors"
	"github.com/Iron-Ham/webpair/internal/event"
	"github.com/Iron-Ham/webpair/internal/lifecycle"
	"github.com/Iron-Ham/webpair/internal/logging"
	"github.com/Iron-Ham/webpair/internal/metrics"
	"github.com/Iron-Ham/webpair/internal/msgbuf"
	"github.com/Iron-Ham/webpair/internal/probe"
	"github.com/Iron-Ham/webpair/internal/reconnect"
	"github.com/Iron-Ham/webpair/internal/store"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultPollInterval    = time.Second
	DefaultMaxProbeBackoff = 30 * time.Second
)

// Options configures a Session. All fields are optional.
type Options struct {
	// ID identifies the session in logs and metrics. A random UUID is used
	// when empty.
	ID string

	PollInterval    time.Duration
	MaxProbeBackoff time.Duration
	Debounce        time.Duration
	PairingTimeout  time.Duration

	Store      store.Store
	Clock      clock.Clock
	Logger     *logging.Logger
	Registerer prometheus.Registerer
}

// Session is one automated messaging session.
type Session struct {
	id     string
	remote probe.Remote

	bus       *event.Bus
	machine   *lifecycle.Machine
	reconnect *reconnect.Controller
	buffer    *msgbuf.Buffer
	metrics   *metrics.Session

	pollInterval time.Duration
	maxBackoff   time.Duration
	clock        clock.Clock
	logger       *logging.Logger

	mu           sync.Mutex
	started      bool
	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
	loops        conc.WaitGroup

	// handlers counts subscriber callbacks currently running.
	handlers atomic.Int32
}

// New wires a Session around remote. The session does not touch the remote
// until Start is called.
func New(remote probe.Remote, opts Options) (*Session, error) {
	if remote == nil {
		return nil, fmt.Errorf("%w: remote is required", errors.ErrInvalidInput)
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithSession(id)
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	s := &Session{
		id:           id,
		remote:       remote,
		metrics:      metrics.NewSession(opts.Registerer, id),
		pollInterval: opts.PollInterval,
		maxBackoff:   opts.MaxProbeBackoff,
		clock:        clk,
		logger:       logger,
		done:         make(chan struct{}),
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.maxBackoff < s.pollInterval {
		s.maxBackoff = max(DefaultMaxProbeBackoff, s.pollInterval)
	}

	s.bus = event.NewBus(
		event.WithLogger(logger.WithComponent("bus")),
		event.WithFailureHook(func(*errors.HandlerError) { s.metrics.HandlerFailure("bus") }),
	)
	s.machine = lifecycle.NewMachine(lifecycle.Options{
		Bus:     s.bus,
		Clock:   clk,
		Logger:  logger.WithComponent("lifecycle"),
		Metrics: s.metrics,
	})

	ctrl, err := reconnect.New(reconnect.Options{
		Pair:      s.pair,
		SessionID: id,
		Timeout:   opts.PairingTimeout,
		Clock:     clk,
		Logger:    logger.WithComponent("reconnect"),
		Metrics:   s.metrics,
	})
	if err != nil {
		return nil, err
	}
	ctrl.SetOnReconnected(func(a reconnect.Attempt) {
		s.bus.Publish(event.NewReconnectedEvent(a.StartedAt, a.FinishedAt))
	})
	s.reconnect = ctrl
	s.machine.SubscribeSocket(func(ev lifecycle.SocketTransitionEvent) {
		ctrl.OnStateChange(ev.TransitionEvent)
	})

	s.buffer = msgbuf.New(msgbuf.Options{
		Debounce:  opts.Debounce,
		Clock:     clk,
		Store:     opts.Store,
		SessionID: id,
		Logger:    logger.WithComponent("msgbuf"),
		Metrics:   s.metrics,
	})

	return s, nil
}

// pair runs the remote's pairing procedure, relaying each QR code on the bus.
func (s *Session) pair(ctx context.Context) (bool, error) {
	return s.remote.Pair(ctx, func(code string, attempt int) {
		s.logger.Info("qr code displayed", "attempt", attempt)
		s.bus.Publish(event.NewQRCodeEvent(code, attempt, s.clock.Now()))
	})
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start begins polling the remote and consuming its message stream. The
// loops stop when ctx is cancelled or Shutdown is called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return errors.ErrShutdown
	default:
	}
	if s.started {
		return fmt.Errorf("session %s already started", s.id)
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.loops.Go(func() { s.pollLoop(ctx) })
	s.loops.Go(func() { s.messageLoop(ctx) })
	if rs, ok := s.remote.(probe.ReloadSignaler); ok {
		s.loops.Go(func() { s.reloadLoop(ctx, rs.Reloads()) })
	}

	s.logger.Info("session started", "poll_interval", s.pollInterval.String())
	return nil
}

// pollLoop reads the remote on every tick or push notification. Failed
// reads stretch the interval exponentially; a good read restores it.
func (s *Session) pollLoop(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.pollInterval
	bo.MaxInterval = s.maxBackoff
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0
	bo.Reset()

	var changes <-chan struct{}
	if n, ok := s.remote.(probe.Notifier); ok {
		changes = n.Changes()
	}

	interval := s.pollInterval
	for {
		if err := s.machine.Poll(ctx, s.remote); err != nil {
			if ctx.Err() != nil {
				return
			}
			interval = bo.NextBackOff()
			s.logger.Debug("probe backing off", "next", interval.String())
		} else {
			if interval != s.pollInterval {
				bo.Reset()
				interval = s.pollInterval
			}
			s.reconnect.Retry(s.machine.Socket())
		}

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(interval):
		case _, ok := <-changes:
			if !ok {
				changes = nil
			}
		}
	}
}

func (s *Session) messageLoop(ctx context.Context) {
	msgs := s.remote.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-msgs:
			if !ok {
				s.logger.Info("message stream closed")
				return
			}
			s.buffer.Ingest(ev)
		}
	}
}

func (s *Session) reloadLoop(ctx context.Context, reloads <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-reloads:
			if !ok {
				return
			}
			if err := s.ImminentReload(ctx); err != nil {
				s.logger.Warn("imminent reload handling failed", "error", err.Error())
			}
		}
	}
}

// Observe feeds an observation pushed by the host directly into the
// lifecycle machine.
func (s *Session) Observe(obs probe.Observation) (lifecycle.TransitionEvent, bool) {
	return s.machine.Observe(obs)
}

// Ingest feeds a raw message event pushed by the host into the buffer.
func (s *Session) Ingest(ev probe.RawMessageEvent) bool {
	return s.buffer.Ingest(ev)
}

// State returns the current lifecycle state.
func (s *Session) State() lifecycle.State { return s.machine.Current() }

// SocketState returns the current socket-level state.
func (s *Session) SocketState() lifecycle.State { return s.machine.Socket() }

// Pending returns the number of buffered, undelivered message events.
func (s *Session) Pending() int { return s.buffer.Pending() }

// ReconnectPending reports whether a reconnect attempt is in flight.
func (s *Session) ReconnectPending() bool { return s.reconnect.Pending() }

func (s *Session) isShutdown() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// OnLifecycleChange registers fn for lifecycle transitions.
func (s *Session) OnLifecycleChange(fn func(lifecycle.TransitionEvent)) string {
	if s.isShutdown() {
		return ""
	}
	return s.machine.Subscribe(func(ev lifecycle.TransitionEvent) {
		s.dispatch(func() { fn(ev) })
	})
}

// OnSocketChange registers fn for socket-level transitions.
func (s *Session) OnSocketChange(fn func(lifecycle.SocketTransitionEvent)) string {
	if s.isShutdown() {
		return ""
	}
	return s.machine.SubscribeSocket(func(ev lifecycle.SocketTransitionEvent) {
		s.dispatch(func() { fn(ev) })
	})
}

// OnDisconnectedHint registers fn for disconnected notices raised on the QR
// screen. Hints are advisory; a missed or repeated hint is not an error.
func (s *Session) OnDisconnectedHint(fn func(lifecycle.DisconnectedHint)) string {
	if s.isShutdown() {
		return ""
	}
	return s.machine.SubscribeHints(func(ev lifecycle.DisconnectedHint) {
		s.dispatch(func() { fn(ev) })
	})
}

// OnQRCode registers fn for every QR code displayed while pairing.
func (s *Session) OnQRCode(fn func(code string, attempt int)) string {
	if s.isShutdown() {
		return ""
	}
	return s.bus.Subscribe(event.TypeQRCode, func(e event.Event) {
		if qr, ok := e.(event.QRCodeEvent); ok {
			s.dispatch(func() { fn(qr.Code, qr.Attempt) })
		}
	})
}

// OnReconnected registers fn for successful reconnect attempts.
func (s *Session) OnReconnected(fn func(event.ReconnectedEvent)) string {
	if s.isShutdown() {
		return ""
	}
	return s.bus.Subscribe(event.TypeReconnected, func(e event.Event) {
		if ev, ok := e.(event.ReconnectedEvent); ok {
			s.dispatch(func() { fn(ev) })
		}
	})
}

// OnNewMessages registers handler for message batches. With removeAfterUse
// the handler receives a single delivery.
func (s *Session) OnNewMessages(handler msgbuf.Handler, removeAfterUse bool) string {
	return s.buffer.Subscribe(func(batch msgbuf.MessageBatch, err error) {
		s.dispatch(func() { handler(batch, err) })
	}, removeAfterUse)
}

// dispatch runs a subscriber callback. Shutdown called while any callback
// is running does not wait for the session loops, since one of them may be
// the goroutine running it.
func (s *Session) dispatch(fn func()) {
	s.handlers.Add(1)
	defer s.handlers.Add(-1)
	fn()
}

// Unsubscribe removes any subscription created by an On* method.
func (s *Session) Unsubscribe(id string) bool {
	if s.machine.Unsubscribe(id) {
		return true
	}
	return s.buffer.Unsubscribe(id)
}

// WaitForLogin blocks until the session reaches Connected, timeout
// elapses, ctx is cancelled or the session shuts down. It reports whether
// Connected was reached. A zero timeout waits without a deadline.
func (s *Session) WaitForLogin(ctx context.Context, timeout time.Duration) bool {
	connected := make(chan struct{})
	var once sync.Once
	id := s.machine.Subscribe(func(ev lifecycle.TransitionEvent) {
		if ev.To == lifecycle.Connected {
			once.Do(func() { close(connected) })
		}
	})
	defer s.machine.Unsubscribe(id)

	// Checked after subscribing so a transition in between is not missed.
	if s.machine.Current() == lifecycle.Connected {
		return true
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = s.clock.After(timeout)
	}

	select {
	case <-connected:
		return true
	case <-deadline:
		s.logger.Warn("timed out waiting for login", "timeout", timeout.String())
		return false
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

// ImminentReload persists undelivered messages and notifies message
// subscribers that the remote is about to reload.
func (s *Session) ImminentReload(ctx context.Context) error {
	return s.buffer.ImminentReload(ctx)
}

// Done is closed once Shutdown has run.
func (s *Session) Done() <-chan struct{} { return s.done }

// Shutdown stops the session loops, cancels the debounce timer and removes
// every subscription. A reconnect attempt in flight finishes in the
// background and its result is discarded. Shutdown is idempotent.
//
// Shutdown may be called from a subscriber callback. It then returns without
// waiting for the loops, which exit once the callback returns.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.reconnect.Close()
		s.buffer.Close()
		s.bus.Clear()
		if s.handlers.Load() == 0 {
			s.loops.Wait()
		}

		s.logger.Info("session shut down")
	})
}

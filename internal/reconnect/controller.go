// Package reconnect re-runs the pairing procedure when a session loses its
// pairing, allowing at most one attempt in flight at a time.
package reconnect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/webpair/internal/clock"
	"github.com/Iron-Ham/webpair/internal/errors"
	"github.com/Iron-Ham/webpair/internal/lifecycle"
	"github.com/Iron-Ham/webpair/internal/logging"
	"github.com/Iron-Ham/webpair/internal/metrics"
)

// Outcome is the result of a reconnect attempt.
type Outcome int

const (
	Pending Outcome = iota
	Success
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Attempt describes one run of the pairing procedure.
type Attempt struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	// Err is a *errors.PairingError when Outcome is Failed.
	Err error
}

// Duration returns how long the attempt ran.
func (a Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

// PairFunc runs the pairing procedure and reports whether the session was
// re-established.
type PairFunc func(ctx context.Context) (bool, error)

// Options configures a Controller. Pair is required.
type Options struct {
	Pair      PairFunc
	SessionID string
	// Timeout bounds each attempt. Zero means no bound.
	Timeout time.Duration
	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *metrics.Session
}

// Controller owns the pending-reconnect marker of one session.
type Controller struct {
	mu            sync.Mutex
	pending       bool
	closed        bool
	last          Attempt
	hasLast       bool
	onReconnected func(Attempt)

	pair      PairFunc
	sessionID string
	timeout   time.Duration
	clock     clock.Clock
	logger    *logging.Logger
	metrics   *metrics.Session
	wg        conc.WaitGroup
}

// New creates a Controller.
func New(opts Options) (*Controller, error) {
	if opts.Pair == nil {
		return nil, fmt.Errorf("%w: pairing procedure is required", errors.ErrInvalidInput)
	}
	c := &Controller{
		pair:      opts.Pair,
		sessionID: opts.SessionID,
		timeout:   opts.Timeout,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = logging.NopLogger()
	}
	return c, nil
}

// SetOnReconnected registers the hook run after a successful attempt.
// It replaces any previous hook; nil clears it.
func (c *Controller) SetOnReconnected(fn func(Attempt)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnected = fn
}

// OnStateChange starts an attempt when a socket-level transition reports
// that pairing was lost.
func (c *Controller) OnStateChange(ev lifecycle.TransitionEvent) {
	if !ev.To.NeedsPairing() {
		return
	}
	if _, started := c.AttemptReconnect(); !started {
		c.logger.Debug("reconnect already pending, trigger ignored", "to", ev.To.String())
	}
}

// Retry starts a new attempt when socket still reports lost pairing and the
// last attempt failed. A socket state that stays Unpaired produces no further
// transitions, so the session's poll loop calls Retry after each good read.
func (c *Controller) Retry(socket lifecycle.State) bool {
	if !socket.NeedsPairing() {
		return false
	}
	c.mu.Lock()
	failed := c.hasLast && c.last.Outcome == Failed
	c.mu.Unlock()
	if !failed {
		return false
	}
	_, started := c.AttemptReconnect()
	if started {
		c.logger.Info("pairing still lost, retrying reconnect", "socket", socket.String())
	}
	return started
}

// AttemptReconnect starts the pairing procedure in the background. It
// returns false without doing anything if an attempt is already pending or
// the controller is closed. The channel receives the finished attempt.
func (c *Controller) AttemptReconnect() (<-chan Attempt, bool) {
	c.mu.Lock()
	if c.closed || c.pending {
		c.mu.Unlock()
		return nil, false
	}
	c.pending = true
	started := c.clock.Now()
	c.mu.Unlock()

	c.logger.Info("reconnect attempt started")
	done := make(chan Attempt, 1)
	c.wg.Go(func() { c.run(started, done) })
	return done, true
}

func (c *Controller) run(started time.Time, done chan<- Attempt) {
	attempt := Attempt{StartedAt: started, Outcome: Failed}
	var closed bool
	var hook func(Attempt)

	// The pending marker is released on every path out of the procedure.
	defer func() {
		c.mu.Lock()
		c.pending = false
		c.last = attempt
		c.hasLast = true
		closed = c.closed
		hook = c.onReconnected
		c.mu.Unlock()

		done <- attempt
		close(done)
		c.finish(attempt, closed, hook)
	}()

	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var ok bool
	var err error
	var pc panics.Catcher
	pc.Try(func() { ok, err = c.pair(ctx) })
	if r := pc.Recovered(); r != nil {
		ok, err = false, r.AsError()
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = errors.NewTimeoutError("pairing", c.timeout).WithCause(err)
	}

	attempt.FinishedAt = c.clock.Now()
	if ok && err == nil {
		attempt.Outcome = Success
		return
	}
	attempt.Err = errors.NewPairingError(started, err).WithSessionID(c.sessionID)
}

func (c *Controller) finish(a Attempt, closed bool, hook func(Attempt)) {
	c.metrics.ReconnectFinished(a.Outcome.String(), a.Duration().Seconds())

	if closed {
		c.logger.Debug("reconnect finished after close, result discarded", "outcome", a.Outcome.String())
		return
	}
	if a.Outcome != Success {
		c.logger.Warn("reconnect attempt failed", "error", a.Err.Error(), "duration", a.Duration().String())
		return
	}

	c.logger.Info("reconnected", "duration", a.Duration().String())
	if hook == nil {
		return
	}
	var pc panics.Catcher
	pc.Try(func() { hook(a) })
	if r := pc.Recovered(); r != nil {
		c.logger.Error("onReconnected hook panicked", "panic", fmt.Sprint(r.Value))
		c.metrics.HandlerFailure("reconnect")
	}
}

// Pending reports whether an attempt is in flight.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// LastAttempt returns the most recently finished attempt.
func (c *Controller) LastAttempt() (Attempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}

// Close stops new attempts from starting. An attempt already in flight runs
// to completion but its onReconnected hook is not called.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Wait blocks until every started attempt has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

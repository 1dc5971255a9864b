package testutil

import (
	"context"
	"sync"

	"github.com/Iron-Ham/webpair/internal/probe"
)

// Step is one scripted response of ScriptedRemote.Observe.
type Step struct {
	Observation probe.Observation
	Err         error
}

// Obs builds a Step from raw tokens.
func Obs(mode, subState, stream, socketState string) Step {
	return Step{Observation: probe.ParseObservation(mode, subState, stream, socketState)}
}

// Fail builds a Step whose read fails with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// PairFunc is the pairing procedure used by ScriptedRemote.Pair.
type PairFunc func(ctx context.Context, onQR func(code string, attempt int)) (bool, error)

// ScriptedRemote is a probe.Remote that replays scripted observations.
// Once the script is exhausted Observe keeps returning the last good
// observation. It also implements probe.Notifier and probe.ReloadSignaler.
type ScriptedRemote struct {
	mu        sync.Mutex
	steps     []Step
	last      probe.Observation
	observed  int
	pairCalls int
	pair      PairFunc

	messages chan probe.RawMessageEvent
	changes  chan struct{}
	reloads  chan struct{}
	closed   bool
}

// NewScriptedRemote creates a remote that returns the given steps in order.
// Its default pairing procedure succeeds immediately.
func NewScriptedRemote(steps ...Step) *ScriptedRemote {
	return &ScriptedRemote{
		steps:    steps,
		messages: make(chan probe.RawMessageEvent, 64),
		changes:  make(chan struct{}, 1),
		reloads:  make(chan struct{}, 1),
		pair: func(context.Context, func(string, int)) (bool, error) {
			return true, nil
		},
	}
}

// Script appends steps to the pending script.
func (r *ScriptedRemote) Script(steps ...Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, steps...)
}

// Observe returns the next scripted step.
func (r *ScriptedRemote) Observe(ctx context.Context) (probe.Observation, error) {
	if err := ctx.Err(); err != nil {
		return probe.Observation{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.observed++
	if len(r.steps) == 0 {
		return r.last, nil
	}
	step := r.steps[0]
	r.steps = r.steps[1:]
	if step.Err != nil {
		return probe.Observation{}, step.Err
	}
	r.last = step.Observation
	return step.Observation, nil
}

// ObserveCalls returns how many times Observe has been called.
func (r *ScriptedRemote) ObserveCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observed
}

// Remaining returns the number of scripted steps not yet consumed.
func (r *ScriptedRemote) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}

// Messages returns the raw message stream.
func (r *ScriptedRemote) Messages() <-chan probe.RawMessageEvent {
	return r.messages
}

// Send pushes a raw message event onto the stream.
func (r *ScriptedRemote) Send(ev probe.RawMessageEvent) {
	r.messages <- ev
}

// Close closes the message stream. It is safe to call more than once.
func (r *ScriptedRemote) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.messages)
	}
}

// Changes implements probe.Notifier.
func (r *ScriptedRemote) Changes() <-chan struct{} {
	return r.changes
}

// Notify sends a change tick without blocking; ticks coalesce.
func (r *ScriptedRemote) Notify() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}

// Reloads implements probe.ReloadSignaler.
func (r *ScriptedRemote) Reloads() <-chan struct{} {
	return r.reloads
}

// SignalReload announces an imminent reload without blocking.
func (r *ScriptedRemote) SignalReload() {
	select {
	case r.reloads <- struct{}{}:
	default:
	}
}

// SetPair replaces the pairing procedure.
func (r *ScriptedRemote) SetPair(fn PairFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pair = fn
}

// Pair runs the configured pairing procedure.
func (r *ScriptedRemote) Pair(ctx context.Context, onQR func(code string, attempt int)) (bool, error) {
	r.mu.Lock()
	r.pairCalls++
	fn := r.pair
	r.mu.Unlock()
	return fn(ctx, onQR)
}

// PairCalls returns how many times Pair has been called.
func (r *ScriptedRemote) PairCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pairCalls
}

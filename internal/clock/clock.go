// Package clock abstracts the time operations used by the session core so
// that debounce windows, poll intervals and login timeouts can be driven
// deterministically in tests.
//
// Production code uses [Real]. Tests use [Fake] and move time forward with
// [FakeClock.Advance].
package clock

import "time"

// Clock is the subset of the time package the session core depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer cancels
	// the pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a cancellable one-shot callback created by AfterFunc.
type Timer struct {
	stop func() bool
}

// Stop prevents the timer from firing. It returns false if the timer has
// already fired or was stopped before.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/webpair/internal/clock"
	werrors "github.com/Iron-Ham/webpair/internal/errors"
	"github.com/Iron-Ham/webpair/internal/metrics"
	"github.com/Iron-Ham/webpair/internal/probe"
	scripted "github.com/Iron-Ham/webpair/internal/testutil"
)

func obs(mode, sub, stream, socket string) probe.Observation {
	return probe.ParseObservation(mode, sub, stream, socket)
}

func newTestMachine() (*Machine, *clock.FakeClock) {
	clk := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewMachine(Options{Clock: clk}), clk
}

func TestMachine_InitialState(t *testing.T) {
	m, _ := newTestMachine()
	assert.Equal(t, Init, m.Current())
	assert.Equal(t, Init, m.Socket())
}

func TestMachine_QRToConnectedScenario(t *testing.T) {
	m, _ := newTestMachine()

	var got []TransitionEvent
	m.Subscribe(func(ev TransitionEvent) { got = append(got, ev) })

	for _, o := range []probe.Observation{
		obs("QR", "OPENING", "", ""),
		obs("QR", "NORMAL", "", ""),
		obs("MAIN", "", "", ""),
	} {
		m.Observe(o)
	}

	require.Len(t, got, 3)
	assert.Equal(t, Init, got[0].From)
	assert.Equal(t, QrOpening, got[0].To)
	assert.Equal(t, QrOpening, got[1].From)
	assert.Equal(t, QrReady, got[1].To)
	assert.Equal(t, QrReady, got[2].From)
	assert.Equal(t, Connected, got[2].To)
	assert.Equal(t, Connected, m.Current())
}

func TestMachine_RepeatedObservationsAreSuppressed(t *testing.T) {
	m, _ := newTestMachine()

	calls := 0
	m.Subscribe(func(TransitionEvent) { calls++ })

	o := obs("QR", "NORMAL", "CONNECTED", "CONNECTED")
	ev, changed := m.Observe(o)
	assert.True(t, changed)
	assert.Equal(t, QrReady, ev.To)

	for range 10 {
		_, changed := m.Observe(o)
		assert.False(t, changed)
	}
	assert.Equal(t, 1, calls)
}

func TestMachine_CurrentMatchesLastTransition(t *testing.T) {
	m, _ := newTestMachine()

	sequence := []probe.Observation{
		obs("QR", "OPENING", "", ""),
		obs("QR", "OPENING", "", ""),
		obs("SYNCING", "PAIRING", "", ""),
		obs("", "", "", ""),
		obs("MAIN", "", "", ""),
		obs("MAIN", "", "", ""),
		obs("QR", "PAIRING", "", ""),
	}

	var last TransitionEvent
	m.Subscribe(func(ev TransitionEvent) { last = ev })
	for _, o := range sequence {
		m.Observe(o)
		assert.Equal(t, last.To, m.Current())
	}
	assert.Equal(t, QrLoading, m.Current())
}

func TestMachine_TransitionCarriesClockTime(t *testing.T) {
	m, clk := newTestMachine()
	clk.Advance(3 * time.Second)

	ev, changed := m.Observe(obs("MAIN", "", "", ""))
	require.True(t, changed)
	assert.Equal(t, clk.Now(), ev.ObservedAt)
	assert.Equal(t, ev.ObservedAt, ev.Timestamp())
	assert.NotEmpty(t, ev.Detail)
}

func TestMachine_SocketStreamIsIndependent(t *testing.T) {
	m, _ := newTestMachine()

	var lifecycle, socket []State
	m.Subscribe(func(ev TransitionEvent) { lifecycle = append(lifecycle, ev.To) })
	m.SubscribeSocket(func(ev SocketTransitionEvent) { socket = append(socket, ev.To) })

	m.Observe(obs("QR", "NORMAL", "CONNECTED", "CONNECTED"))
	m.Observe(obs("QR", "NORMAL", "CONNECTED", "UNPAIRED"))
	m.Observe(obs("QR", "NORMAL", "CONNECTED", "UNPAIRED"))

	assert.Equal(t, []State{QrReady}, lifecycle)
	assert.Equal(t, []State{Connected, Unpaired}, socket)
	assert.Equal(t, QrReady, m.Current())
	assert.Equal(t, Unpaired, m.Socket())
}

func TestMachine_SocketEventCarriesRawState(t *testing.T) {
	m, _ := newTestMachine()

	var got SocketTransitionEvent
	m.SubscribeSocket(func(ev SocketTransitionEvent) { got = ev })
	m.Observe(obs("QR", "NORMAL", "CONNECTED", "UNPAIRED_IDLE"))

	assert.Equal(t, UnpairedIdle, got.To)
	assert.Equal(t, probe.SocketUnpairedIdle, got.Socket)
	assert.Equal(t, probe.StreamConnected, got.Stream)
}

func TestMachine_DisconnectedHint(t *testing.T) {
	m, _ := newTestMachine()

	hints := 0
	m.SubscribeHints(func(DisconnectedHint) { hints++ })

	m.Observe(obs("QR", "NORMAL", "DISCONNECTED", ""))
	m.Observe(obs("QR", "NORMAL", "DISCONNECTED", ""))
	assert.Equal(t, 1, hints, "hint is raised once while the condition holds")

	m.Observe(obs("QR", "NORMAL", "CONNECTED", ""))
	m.Observe(obs("QR", "NORMAL", "DISCONNECTED", ""))
	assert.Equal(t, 2, hints, "hint is raised again after the condition clears")

	m.Observe(obs("MAIN", "", "DISCONNECTED", ""))
	assert.Equal(t, 2, hints, "no hint outside the QR screen")
	assert.Equal(t, Connected, m.Current(), "hints never change state")
}

func TestMachine_Unsubscribe(t *testing.T) {
	m, _ := newTestMachine()

	calls := 0
	id := m.Subscribe(func(TransitionEvent) { calls++ })
	require.True(t, m.Unsubscribe(id))
	assert.False(t, m.Unsubscribe(id))

	m.Observe(obs("MAIN", "", "", ""))
	assert.Equal(t, 0, calls)
}

func TestMachine_UnsubscribeFromHandler(t *testing.T) {
	m, _ := newTestMachine()

	calls := 0
	var id string
	id = m.Subscribe(func(TransitionEvent) {
		calls++
		m.Unsubscribe(id)
	})

	m.Observe(obs("QR", "OPENING", "", ""))
	m.Observe(obs("MAIN", "", "", ""))
	assert.Equal(t, 1, calls)
}

func TestMachine_PanickingSubscriberDoesNotStopOthers(t *testing.T) {
	m, _ := newTestMachine()

	m.Subscribe(func(TransitionEvent) { panic("boom") })
	delivered := false
	m.Subscribe(func(TransitionEvent) { delivered = true })

	assert.NotPanics(t, func() { m.Observe(obs("MAIN", "", "", "")) })
	assert.True(t, delivered)
	assert.Equal(t, Connected, m.Current())
}

func TestMachine_PollFailureKeepsState(t *testing.T) {
	boom := errors.New("page crashed")
	remote := scripted.NewScriptedRemote(
		scripted.Obs("MAIN", "", "CONNECTED", "CONNECTED"),
		scripted.Fail(boom),
	)
	m := NewMachine(Options{Metrics: metrics.NewSession(nil, "t")})
	ctx := context.Background()

	require.NoError(t, m.Poll(ctx, remote))
	assert.Equal(t, Connected, m.Current())

	err := m.Poll(ctx, remote)
	require.Error(t, err)
	assert.ErrorIs(t, err, werrors.ErrProbeRead)
	assert.ErrorIs(t, err, boom)
	assert.True(t, werrors.IsRetryable(err))
	assert.Equal(t, Connected, m.Current())

	require.NoError(t, m.Poll(ctx, remote))
	assert.Equal(t, Connected, m.Current())
}

func TestMachine_MetricsFollowTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMachine(Options{Metrics: metrics.NewSession(reg, "t")})

	m.Observe(obs("MAIN", "", "", ""))
	m.Observe(obs("MAIN", "", "", ""))

	// One state gauge plus a single lifecycle/Connected transition series.
	n, err := testutil.GatherAndCount(reg, "webpair_lifecycle_state", "webpair_lifecycle_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMachine_ConcurrentObserveKeepsOrder(t *testing.T) {
	m, _ := newTestMachine()

	var mu sync.Mutex
	var got []TransitionEvent
	m.Subscribe(func(ev TransitionEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	inputs := []probe.Observation{
		obs("QR", "OPENING", "", ""),
		obs("QR", "PAIRING", "", ""),
		obs("QR", "NORMAL", "", ""),
		obs("SYNCING", "NORMAL", "", ""),
		obs("MAIN", "", "", ""),
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			for j := range 50 {
				m.Observe(inputs[(i+j)%len(inputs)])
			}
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, Init, got[0].From)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].To, got[i].From, "transition %d breaks the chain", i)
	}
	assert.Equal(t, got[len(got)-1].To, m.Current())
}

func TestMachine_HandlerReadsStateWhileObserveWaits(t *testing.T) {
	m, _ := newTestMachine()

	entered := make(chan struct{})
	release := make(chan struct{})
	var seen []State
	var order []State
	m.Subscribe(func(ev TransitionEvent) {
		order = append(order, ev.To)
		if ev.To != QrOpening {
			return
		}
		close(entered)
		<-release
		seen = append(seen, m.Current(), m.Socket())
		id := m.Subscribe(func(TransitionEvent) {})
		m.Unsubscribe(id)
	})

	first := make(chan struct{})
	go func() {
		defer close(first)
		m.Observe(obs("QR", "OPENING", "", ""))
	}()
	<-entered

	second := make(chan struct{})
	go func() {
		defer close(second)
		m.Observe(obs("MAIN", "", "", ""))
	}()
	// Give the second Observe time to block behind the running delivery.
	time.Sleep(50 * time.Millisecond)
	close(release)

	for _, done := range []chan struct{}{first, second} {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Observe did not return while a handler read the machine")
		}
	}

	assert.Equal(t, []State{QrOpening, Init}, seen)
	assert.Equal(t, []State{QrOpening, Connected}, order)
	assert.Equal(t, Connected, m.Current())
}

func TestMachine_ConcurrentObserveWithReentrantHandlers(t *testing.T) {
	m, _ := newTestMachine()

	var mu sync.Mutex
	var reads int
	m.Subscribe(func(TransitionEvent) {
		_ = m.Current()
		id := m.SubscribeSocket(func(SocketTransitionEvent) {})
		m.Unsubscribe(id)
		mu.Lock()
		reads++
		mu.Unlock()
	})
	m.SubscribeSocket(func(SocketTransitionEvent) { _ = m.Socket() })

	inputs := []probe.Observation{
		obs("QR", "OPENING", "CONNECTED", "PAIRING"),
		obs("QR", "NORMAL", "DISCONNECTED", "UNPAIRED"),
		obs("MAIN", "", "CONNECTED", "CONNECTED"),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Go(func() {
				for j := range 50 {
					m.Observe(inputs[(i+j)%len(inputs)])
				}
			})
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent Observe with re-entrant handlers did not finish")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, reads)
}

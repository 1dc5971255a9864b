package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Counters(t *testing.T) {
	m := NewSession(nil, "s1")

	m.Transition("lifecycle", "Connected")
	m.Transition("lifecycle", "Connected")
	m.Transition("socket", "Unpaired")
	m.ProbeFailure()
	m.Ingested(true)
	m.Ingested(true)
	m.Ingested(false)
	m.Flushed(2)
	m.HandlerFailure("buffer")
	m.Reloaded(false)
	m.ReconnectFinished("success", 3)
	m.DisconnectedHint()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("lifecycle", "Connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("socket", "Unpaired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probeFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingested.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingested.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flushes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handlerFailures.WithLabelValues("buffer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hints))
}

func TestSession_Gauges(t *testing.T) {
	m := NewSession(nil, "s1")

	m.SetState(8)
	m.SetPending(5)
	m.SetPending(0)

	assert.Equal(t, 8.0, testutil.ToFloat64(m.state))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.pending))
}

func TestSession_NilIsNoop(t *testing.T) {
	var m *Session

	assert.NotPanics(t, func() {
		m.Transition("lifecycle", "Init")
		m.SetState(1)
		m.ProbeFailure()
		m.DisconnectedHint()
		m.ReconnectFinished("failed", 1)
		m.Ingested(true)
		m.SetPending(1)
		m.Flushed(1)
		m.HandlerFailure("bus")
		m.Reloaded(true)
	})
}

func TestSession_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewSession(reg, "a")
	b := NewSession(reg, "b")

	a.ProbeFailure()
	b.ProbeFailure()
	b.ProbeFailure()

	families, err := reg.Gather()
	require.NoError(t, err)

	var family *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "webpair_probe_read_failures_total" {
			family = f
		}
	}
	require.NotNil(t, family)

	bySession := make(map[string]float64)
	for _, metric := range family.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "session_id" {
				bySession[label.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, map[string]float64{"a": 1, "b": 2}, bySession)
}

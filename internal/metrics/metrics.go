// Package metrics exposes Prometheus instrumentation for a webpair session.
//
// A Session bundles every collector for one session, labelled with its ID
// through const labels so that several sessions can share a registry.
// All methods are safe to call on a nil *Session, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "webpair"

// Session holds the collectors for one session.
type Session struct {
	transitions       *prometheus.CounterVec
	state             prometheus.Gauge
	probeFailures     prometheus.Counter
	hints             prometheus.Counter
	reconnects        *prometheus.CounterVec
	reconnectDuration prometheus.Histogram
	ingested          *prometheus.CounterVec
	pending           prometheus.Gauge
	flushes           prometheus.Counter
	batchSize         prometheus.Histogram
	handlerFailures   *prometheus.CounterVec
	reloads           *prometheus.CounterVec
}

// NewSession registers the session collectors on reg. A nil reg uses a
// private registry, which keeps tests and embedded sessions isolated.
func NewSession(reg prometheus.Registerer, sessionID string) *Session {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	labels := prometheus.Labels{"session_id": sessionID}

	return &Session{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "lifecycle",
			Name:        "transitions_total",
			Help:        "Accepted state transitions by stream and target state.",
			ConstLabels: labels,
		}, []string{"stream", "to"}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "lifecycle",
			Name:        "state",
			Help:        "Ordinal of the current lifecycle state.",
			ConstLabels: labels,
		}),
		probeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "probe",
			Name:        "read_failures_total",
			Help:        "Failed reads of the remote interface.",
			ConstLabels: labels,
		}),
		hints: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "lifecycle",
			Name:        "disconnected_hints_total",
			Help:        "Disconnected notices raised while on the QR screen.",
			ConstLabels: labels,
		}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "reconnect",
			Name:        "attempts_total",
			Help:        "Finished reconnect attempts by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		reconnectDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "reconnect",
			Name:        "duration_seconds",
			Help:        "Time spent in the pairing procedure.",
			Buckets:     []float64{1, 5, 15, 30, 60, 120, 300},
			ConstLabels: labels,
		}),
		ingested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "messages",
			Name:        "ingested_total",
			Help:        "Raw message events seen, by whether they were buffered.",
			ConstLabels: labels,
		}, []string{"result"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "messages",
			Name:        "pending",
			Help:        "Events buffered but not yet delivered.",
			ConstLabels: labels,
		}),
		flushes: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "messages",
			Name:        "flushes_total",
			Help:        "Batches delivered to subscribers.",
			ConstLabels: labels,
		}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "messages",
			Name:        "batch_size",
			Help:        "Events per delivered batch.",
			Buckets:     prometheus.ExponentialBuckets(1, 2, 8),
			ConstLabels: labels,
		}),
		handlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "handler_failures_total",
			Help:        "Subscriber callbacks that panicked, by source.",
			ConstLabels: labels,
		}, []string{"source"}),
		reloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "messages",
			Name:        "reloads_total",
			Help:        "Imminent-reload signals handled, by persistence result.",
			ConstLabels: labels,
		}, []string{"result"}),
	}
}

// Transition records an accepted transition on the "lifecycle" or "socket" stream.
func (s *Session) Transition(stream, to string) {
	if s == nil {
		return
	}
	s.transitions.WithLabelValues(stream, to).Inc()
}

// SetState records the ordinal of the current lifecycle state.
func (s *Session) SetState(ordinal int) {
	if s == nil {
		return
	}
	s.state.Set(float64(ordinal))
}

// ProbeFailure counts one failed probe read.
func (s *Session) ProbeFailure() {
	if s == nil {
		return
	}
	s.probeFailures.Inc()
}

// DisconnectedHint counts one disconnected notice.
func (s *Session) DisconnectedHint() {
	if s == nil {
		return
	}
	s.hints.Inc()
}

// ReconnectFinished records the outcome and duration of a reconnect attempt.
func (s *Session) ReconnectFinished(outcome string, seconds float64) {
	if s == nil {
		return
	}
	s.reconnects.WithLabelValues(outcome).Inc()
	s.reconnectDuration.Observe(seconds)
}

// Ingested records whether a raw event was buffered.
func (s *Session) Ingested(accepted bool) {
	if s == nil {
		return
	}
	result := "dropped"
	if accepted {
		result = "accepted"
	}
	s.ingested.WithLabelValues(result).Inc()
}

// SetPending records the size of the durable tail.
func (s *Session) SetPending(n int) {
	if s == nil {
		return
	}
	s.pending.Set(float64(n))
}

// Flushed records one delivered batch of the given size.
func (s *Session) Flushed(size int) {
	if s == nil {
		return
	}
	s.flushes.Inc()
	s.batchSize.Observe(float64(size))
}

// HandlerFailure counts one panicking subscriber callback.
func (s *Session) HandlerFailure(source string) {
	if s == nil {
		return
	}
	s.handlerFailures.WithLabelValues(source).Inc()
}

// Reloaded records an imminent-reload signal and whether persistence succeeded.
func (s *Session) Reloaded(persisted bool) {
	if s == nil {
		return
	}
	result := "failed"
	if persisted {
		result = "persisted"
	}
	s.reloads.WithLabelValues(result).Inc()
}

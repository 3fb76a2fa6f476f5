package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sentinel"

// Metrics groups the session collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessions           *prometheus.CounterVec
	sessionDuration    prometheus.Histogram
	steps              *prometheus.CounterVec
	candidateFallbacks prometheus.Counter
	decisionRetries    prometheus.Counter
	verifications      *prometheus.CounterVec
	recordedActions    *prometheus.CounterVec
	activeSessions     prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished test sessions by terminal status.",
		}, []string{"status"}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of finished test sessions.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed session steps by action kind.",
		}, []string{"kind"}),
		candidateFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_fallbacks_total",
			Help:      "Steps that succeeded only after the top selector candidate failed.",
		}),
		decisionRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_retries_total",
			Help:      "Decisions asked again after an unusable reply.",
		}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Evaluated assertions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		recordedActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_actions_total",
			Help:      "Actions captured by recorders by kind.",
		}, []string{"kind"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently running.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessions.WithLabelValues(status).Inc()
	m.sessionDuration.Observe(d.Seconds())
}

func (m *Metrics) Step(kind string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(kind).Inc()
}

func (m *Metrics) CandidateFallback() {
	if m == nil {
		return
	}
	m.candidateFallbacks.Inc()
}

func (m *Metrics) DecisionRetry() {
	if m == nil {
		return
	}
	m.decisionRetries.Inc()
}

func (m *Metrics) Verification(kind string, passed bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.verifications.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RecordedAction(kind string) {
	if m == nil {
		return
	}
	m.recordedActions.WithLabelValues(kind).Inc()
}

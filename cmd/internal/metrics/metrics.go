// Package metrics defines the gateway's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "syncgate"

// Direction labels for relayed frames.
const (
	DirUpstream   = "client_to_backend"
	DirDownstream = "backend_to_client"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	SessionsActive prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec
	FramesTotal    *prometheus.CounterVec
	BytesTotal     *prometheus.CounterVec
	DialSeconds    prometheus.Histogram
	ReconcileTotal *prometheus.CounterVec
}

// New registers all collectors on a fresh registry (plus Go and process collectors).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "sessions_active",
			Help:      "Proxied WebSocket sessions currently open.",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "sessions_total",
			Help:      "Proxied sessions by terminal outcome.",
		}, []string{"outcome"}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "frames_total",
			Help:      "Relayed frames by direction and message type.",
		}, []string{"direction", "type"}),
		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "bytes_total",
			Help:      "Relayed payload bytes by direction.",
		}, []string{"direction"}),
		DialSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "backend_dial_seconds",
			Help:      "Latency of backend leg establishment.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		ReconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "updates_total",
			Help:      "Reconciled updates by resource kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SessionsActive,
		m.SessionsTotal,
		m.FramesTotal,
		m.BytesTotal,
		m.DialSeconds,
		m.ReconcileTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// SessionOpened records a session entering Open.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionClosed records a session leaving Open with outcome.
func (m *Metrics) SessionClosed(outcome string) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

// SessionRejected records a session that never opened.
func (m *Metrics) SessionRejected(outcome string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

// Frame records one relayed frame.
func (m *Metrics) Frame(direction, msgType string, n int) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(direction, msgType).Inc()
	m.BytesTotal.WithLabelValues(direction).Add(float64(n))
}

// Dial records backend dial latency in seconds.
func (m *Metrics) Dial(seconds float64) {
	if m == nil {
		return
	}
	m.DialSeconds.Observe(seconds)
}

// Reconciled records one reconciler outcome.
func (m *Metrics) Reconciled(kind, outcome string) {
	if m == nil {
		return
	}
	m.ReconcileTotal.WithLabelValues(kind, outcome).Inc()
}

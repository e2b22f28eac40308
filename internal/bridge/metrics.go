package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records bridge traffic.
type Metrics struct {
	requests    *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	panics      *prometheus.CounterVec
	connections prometheus.Gauge
}

// NewMetrics creates the bridge collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmdcenter",
			Subsystem: "bridge",
			Name:      "requests_total",
			Help:      "Bridge requests by op.",
		}, []string{"op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmdcenter",
			Subsystem: "bridge",
			Name:      "failures_total",
			Help:      "Failed bridge requests by op and failure code.",
		}, []string{"op", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cmdcenter",
			Subsystem: "bridge",
			Name:      "request_duration_seconds",
			Help:      "Bridge request latency by op.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmdcenter",
			Subsystem: "bridge",
			Name:      "panics_total",
			Help:      "Handler panics recovered by op.",
		}, []string{"op"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cmdcenter",
			Subsystem: "bridge",
			Name:      "connections",
			Help:      "Open surface connections.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.failures, m.duration, m.panics, m.connections)
	}
	return m
}

// RecordDispatch records one finished request. code is empty on success.
func (m *Metrics) RecordDispatch(op Op, d time.Duration, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op.String()).Inc()
	m.duration.WithLabelValues(op.String()).Observe(d.Seconds())
	if code != "" {
		m.failures.WithLabelValues(op.String(), code).Inc()
	}
}

// RecordPanic records a recovered handler panic.
func (m *Metrics) RecordPanic(op Op) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

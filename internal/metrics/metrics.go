// Package metrics exposes Prometheus collectors for the dispatcher.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records per-entity outcomes. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	replies  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	active   prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsonrpc",
			Name:      "replies_total",
			Help:      "Replies delivered, by status code and error kind.",
		}, []string{"status", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jsonrpc",
			Name:      "entity_duration_seconds",
			Help:      "Time from entity creation to reply delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jsonrpc",
			Name:      "active_entities",
			Help:      "Entities that have not yet been destroyed.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.replies, m.duration, m.active} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Reply records a delivered reply. kind is empty for successful replies.
func (m *Metrics) Reply(status int, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	code := strconv.Itoa(status)
	m.replies.WithLabelValues(code, kind).Inc()
	m.duration.WithLabelValues(code).Observe(elapsed.Seconds())
}

func (m *Metrics) EntityStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) EntityFinished() {
	if m == nil {
		return
	}
	m.active.Dec()
}

package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// Metrics records ledger operation counts and latency.
type Metrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewMetrics registers the ledger collectors with reg. A nil reg keeps the
// collectors unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution of ledger operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.latency)
	}
	return m
}

func (m *Metrics) observe(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
		if IsRejection(err) {
			outcome = outcomeRejected
		}
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the evidence anchoring module.
type Metrics struct {
	// Anchoring outcomes by result ("anchored", "timeout", "error")
	AnchorOutcome *prometheus.CounterVec

	// End-to-end anchoring latency including confirmation polling
	AnchorLatency prometheus.Histogram

	// Verification results by outcome ("valid", "mismatch")
	VerifyOutcome *prometheus.CounterVec

	// Depth of the async anchor queue
	QueueDepth prometheus.Gauge
}

// New creates a new Metrics instance with all evidence module metrics registered.
func New() *Metrics {
	return &Metrics{
		AnchorOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_evidence_anchor_outcomes_total",
			Help: "Total anchoring attempts by outcome",
		}, []string{"outcome"}),

		AnchorLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_evidence_anchor_duration_seconds",
			Help:    "Duration of anchoring including confirmation polling",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),

		VerifyOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_evidence_verify_outcomes_total",
			Help: "Total proof verifications by outcome",
		}, []string{"outcome"}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_evidence_anchor_queue_depth",
			Help: "Pending requests in the async anchor queue",
		}),
	}
}

// ObserveAnchor records one anchoring attempt.
func (m *Metrics) ObserveAnchor(outcome string, d time.Duration) {
	if m != nil {
		m.AnchorOutcome.WithLabelValues(outcome).Inc()
		if outcome == "anchored" {
			m.AnchorLatency.Observe(d.Seconds())
		}
	}
}

// ObserveVerify records one verification outcome.
func (m *Metrics) ObserveVerify(outcome string) {
	if m != nil {
		m.VerifyOutcome.WithLabelValues(outcome).Inc()
	}
}

// SetQueueDepth updates the anchor queue gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the learning engine.
type Metrics struct {
	EventsRecorded     *prometheus.CounterVec
	DuplicatesAbsorbed prometheus.Counter
	CollectiveTriggers prometheus.Counter
	RecomputeLatency   prometheus.Histogram
}

// New creates a new Metrics instance with all learning metrics registered.
func New() *Metrics {
	return &Metrics{
		EventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_learning_events_total",
			Help: "Learning events recorded, by outcome",
		}, []string{"outcome"}), // outcome: "success", "failure"

		DuplicatesAbsorbed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_learning_duplicate_events_total",
			Help: "Duplicate event ids silently absorbed",
		}),

		CollectiveTriggers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_learning_collective_triggers_total",
			Help: "Times a counterparty crossed the class-action boundary",
		}),

		RecomputeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_learning_recompute_duration_seconds",
			Help:    "Duration of derived-state recomputation per event",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

// ObserveEvent counts one recorded event.
func (m *Metrics) ObserveEvent(success bool) {
	if m == nil {
		return
	}
	if success {
		m.EventsRecorded.WithLabelValues("success").Inc()
	} else {
		m.EventsRecorded.WithLabelValues("failure").Inc()
	}
}

// ObserveDuplicate counts one absorbed duplicate.
func (m *Metrics) ObserveDuplicate() {
	if m != nil {
		m.DuplicatesAbsorbed.Inc()
	}
}

// ObserveCollectiveTrigger counts one eligibility crossing.
func (m *Metrics) ObserveCollectiveTrigger() {
	if m != nil {
		m.CollectiveTriggers.Inc()
	}
}

// ObserveRecompute records one recomputation duration in seconds.
func (m *Metrics) ObserveRecompute(seconds float64) {
	if m != nil {
		m.RecomputeLatency.Observe(seconds)
	}
}

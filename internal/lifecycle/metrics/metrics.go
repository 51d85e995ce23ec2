package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the correspondence lifecycle module.
type Metrics struct {
	// Drafted messages by strategy used
	MessagesDrafted *prometheus.CounterVec

	// Status transitions by target status and result ("ok", "lost_race")
	Transitions *prometheus.CounterVec

	// Delivery attempts by outcome ("delivered", "failed")
	DeliveryOutcome *prometheus.CounterVec

	// Inbound messages by correlation method ("token", "heuristic", "none")
	InboundCorrelation *prometheus.CounterVec

	// Inbound messages flagged for manual review
	ReviewFlagged prometheus.Counter
}

// New creates a new Metrics instance with all lifecycle metrics registered.
func New() *Metrics {
	return &Metrics{
		MessagesDrafted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_lifecycle_messages_drafted_total",
			Help: "Messages drafted by strategy",
		}, []string{"strategy"}),

		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_lifecycle_transitions_total",
			Help: "Status transition attempts by target and result",
		}, []string{"to", "result"}),

		DeliveryOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_lifecycle_delivery_outcomes_total",
			Help: "Delivery attempts by outcome",
		}, []string{"outcome"}),

		InboundCorrelation: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_lifecycle_inbound_correlation_total",
			Help: "Inbound messages by correlation method",
		}, []string{"method"}),

		ReviewFlagged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_lifecycle_review_flagged_total",
			Help: "Inbound messages flagged for manual review",
		}),
	}
}

// ObserveDraft records one drafted message.
func (m *Metrics) ObserveDraft(strategy string) {
	if m != nil {
		m.MessagesDrafted.WithLabelValues(strategy).Inc()
	}
}

// ObserveTransition records one transition attempt.
func (m *Metrics) ObserveTransition(to string, won bool) {
	if m != nil {
		result := "ok"
		if !won {
			result = "lost_race"
		}
		m.Transitions.WithLabelValues(to, result).Inc()
	}
}

// ObserveDelivery records one delivery attempt.
func (m *Metrics) ObserveDelivery(outcome string) {
	if m != nil {
		m.DeliveryOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveInbound records one inbound message and its correlation method.
func (m *Metrics) ObserveInbound(method string, review bool) {
	if m != nil {
		m.InboundCorrelation.WithLabelValues(method).Inc()
		if review {
			m.ReviewFlagged.Inc()
		}
	}
}

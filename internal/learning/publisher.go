package learning

import (
	"context"
	"encoding/json"
	"log/slog"

	"aegis/internal/platform/kafka"
)

// collectiveActionSignal is the wire shape published when a counterparty
// becomes class-action eligible.
type collectiveActionSignal struct {
	CounterpartyID      string  `json:"counterpartyId"`
	AffectedUserCount   int     `json:"affectedUserCount"`
	TotalHarmAmount     float64 `json:"totalHarmAmount"`
	SuccessfulJudgments int     `json:"successfulJudgments"`
	EvidenceStrength    string  `json:"evidenceStrength"`
	TriggeredAt         string  `json:"triggeredAt"`
}

// KafkaTriggerPublisher emits collective-action signals to a Kafka topic.
type KafkaTriggerPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   *slog.Logger
}

func NewKafkaTriggerPublisher(producer *kafka.Producer, topic string, logger *slog.Logger) *KafkaTriggerPublisher {
	return &KafkaTriggerPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaTriggerPublisher) CollectiveActionTriggered(ctx context.Context, intel Intelligence) {
	signal := collectiveActionSignal{
		CounterpartyID:      intel.CounterpartyID.String(),
		AffectedUserCount:   intel.AffectedUserCount,
		TotalHarmAmount:     intel.TotalHarmAmount,
		SuccessfulJudgments: intel.SuccessfulEvents,
		EvidenceStrength:    string(intel.EvidenceStrength),
		TriggeredAt:         intel.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	payload, err := json.Marshal(signal)
	if err != nil {
		p.logger.ErrorContext(ctx, "collective action signal marshal failed", "error", err)
		return
	}
	if err := p.producer.Publish(ctx, p.topic, intel.CounterpartyID.String(), payload); err != nil {
		p.logger.ErrorContext(ctx, "collective action signal publish failed",
			"counterparty_id", intel.CounterpartyID.String(), "error", err)
	}
}

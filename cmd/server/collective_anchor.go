package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"aegis/internal/evidence"
	"aegis/internal/learning"
)

// collectiveAnchorSink anchors a snapshot of the collective intelligence
// record the moment a counterparty becomes class-action eligible, so the
// aggregate state at the trigger instant is provable later.
type collectiveAnchorSink struct {
	queue  *evidence.Queue
	logger *slog.Logger
}

func newCollectiveAnchorSink(queue *evidence.Queue, logger *slog.Logger) *collectiveAnchorSink {
	return &collectiveAnchorSink{queue: queue, logger: logger}
}

func (s *collectiveAnchorSink) CollectiveActionTriggered(ctx context.Context, intel learning.Intelligence) {
	content, err := json.Marshal(intel)
	if err != nil {
		s.logger.ErrorContext(ctx, "collective snapshot marshal failed", "error", err)
		return
	}
	req := evidence.AnchorRequest{Doc: evidence.Document{
		Type:      evidence.DocumentTypeCollectiveFiling,
		CaseRef:   "collective-" + intel.CounterpartyID.String(),
		Content:   string(content),
		CreatedAt: intel.UpdatedAt,
	}}
	if err := s.queue.Enqueue(req); err != nil {
		s.logger.ErrorContext(ctx, "collective snapshot anchor dropped, manual anchor required",
			"counterparty_id", intel.CounterpartyID.String(), "error", err)
	}
}

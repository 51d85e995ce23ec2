package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"aegis/pkg/domain"
)

// Publisher records audit events. Recording is best-effort: an audit write
// failure is logged, never propagated, so the trail can't take down the
// operation it documents.
type Publisher struct {
	store  Store
	logger *slog.Logger
	clock  func() time.Time
}

func NewPublisher(store Store, logger *slog.Logger) *Publisher {
	return &Publisher{store: store, logger: logger, clock: time.Now}
}

// Record appends one event to the trail. Safe to call on a nil Publisher.
func (p *Publisher) Record(ctx context.Context, event Event) {
	if p == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.clock().UTC()
	}
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "audit event dropped",
			"action", event.Action,
			"message_id", event.MessageID.String(),
			"error", err,
		)
	}
}

// ListByUser returns a user's trail in chronological order.
func (p *Publisher) ListByUser(ctx context.Context, userID domain.UserID) ([]Event, error) {
	return p.store.ListByUser(ctx, userID)
}

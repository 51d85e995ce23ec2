package lifecycle

import (
	"context"
	"time"

	"aegis/internal/lifecycle/parser"
	"aegis/pkg/domain"
)

// AuthorizationStore persists user grants. Grants are append-only;
// expiry is evaluated at read time against ValidUntil.
type AuthorizationStore interface {
	Create(ctx context.Context, auth Authorization) error
	// FindActive returns a grant covering (userID, counterpartyID) at the
	// given instant, or ok=false when none exists. A grant with a zero
	// counterparty covers all counterparties.
	FindActive(ctx context.Context, userID domain.UserID, counterpartyID domain.CounterpartyID, now time.Time) (Authorization, bool, error)
	ListForUser(ctx context.Context, userID domain.UserID) ([]Authorization, error)
}

// MessageStore persists messages. All status changes go through the
// compare-and-set methods so no two callers can race the same transition.
type MessageStore interface {
	Create(ctx context.Context, msg Message) error
	Get(ctx context.Context, id domain.MessageID) (Message, error)
	// TransitionStatus atomically moves id from `from` to `to`, stamping
	// SentAt when the target is sent. Returns false when the message was
	// not in `from`, without touching it.
	TransitionStatus(ctx context.Context, id domain.MessageID, from, to Status, at time.Time) (bool, error)
	// MarkResponded atomically moves the message to responded from any
	// status responded is reachable from, attaching the parsing result.
	// Returns false when no such transition was possible.
	MarkResponded(ctx context.Context, id domain.MessageID, result parser.Result, at time.Time) (bool, error)
	FindByCorrelationKey(ctx context.Context, key string) (Message, bool, error)
	// LatestSentForCounterparty supports the fallback correlation
	// heuristic: the most recent outbound message in sent or delivered.
	LatestSentForCounterparty(ctx context.Context, counterpartyID domain.CounterpartyID) (Message, bool, error)
	ListForUser(ctx context.Context, userID domain.UserID) ([]Message, error)
	// StatusCounts aggregates outbound messages for a counterparty, for
	// the summary endpoint.
	StatusCounts(ctx context.Context, counterpartyID domain.CounterpartyID) (map[Status]int, error)
}

// InboundStore persists received messages, correlated or not.
type InboundStore interface {
	Create(ctx context.Context, rec InboundRecord) error
	ListForReview(ctx context.Context) ([]InboundRecord, error)
}

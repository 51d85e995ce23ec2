package learning

import (
	"context"

	"aegis/pkg/domain"
)

// EventStore is the append-only log. Append reports whether the event was
// newly inserted; a duplicate ID is absorbed (inserted=false), never an
// error. Writes are safe under unlimited concurrent writers.
type EventStore interface {
	Append(ctx context.Context, event Event) (inserted bool, err error)
	ListByCounterparty(ctx context.Context, counterpartyID domain.CounterpartyID) ([]Event, error)
	CountByCounterparty(ctx context.Context, counterpartyID domain.CounterpartyID) (int, error)
}

// SnapshotCache holds refreshable copies of derived state. Reads may be
// stale; everything here is advisory and re-derivable from the event log.
type SnapshotCache interface {
	SaveStats(ctx context.Context, counterpartyID domain.CounterpartyID, stats []StrategyStat) error
	GetStats(ctx context.Context, counterpartyID domain.CounterpartyID) ([]StrategyStat, bool, error)
	SaveIntelligence(ctx context.Context, intel Intelligence) error
	GetIntelligence(ctx context.Context, counterpartyID domain.CounterpartyID) (Intelligence, bool, error)
}

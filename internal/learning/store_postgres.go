package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"aegis/pkg/domain"
)

// PostgresEventStore persists the learning event log in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE learning_events (
//	    id                  UUID PRIMARY KEY,
//	    counterparty_id     UUID NOT NULL,
//	    user_id             UUID NOT NULL,
//	    strategy            TEXT NOT NULL,
//	    outcome_success     BOOLEAN NOT NULL,
//	    response_time_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    admission_text      TEXT NOT NULL DEFAULT '',
//	    recovery_amount     DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    violation_type      TEXT NOT NULL DEFAULT '',
//	    occurred_at         TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX learning_events_cp_idx ON learning_events (counterparty_id);
//
// The primary key is the dedup guarantee: a duplicate insert hits 23505 and
// is absorbed.
type PostgresEventStore struct {
	db *sql.DB
}

func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (s *PostgresEventStore) Append(ctx context.Context, event Event) (bool, error) {
	query := `
		INSERT INTO learning_events
			(id, counterparty_id, user_id, strategy, outcome_success, response_time_hours, admission_text, recovery_amount, violation_type, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID.String(),
		event.CounterpartyID.String(),
		event.UserID.String(),
		event.Strategy.String(),
		event.OutcomeSuccess,
		event.ResponseTimeHours,
		event.AdmissionText,
		event.RecoveryAmount,
		event.ViolationType,
		event.Timestamp,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("append learning event: %w", err)
	}
	return true, nil
}

func (s *PostgresEventStore) ListByCounterparty(ctx context.Context, counterpartyID domain.CounterpartyID) ([]Event, error) {
	query := `
		SELECT id, counterparty_id, user_id, strategy, outcome_success, response_time_hours, admission_text, recovery_amount, violation_type, occurred_at
		FROM learning_events
		WHERE counterparty_id = $1
		ORDER BY occurred_at
	`
	rows, err := s.db.QueryContext(ctx, query, counterpartyID.String())
	if err != nil {
		return nil, fmt.Errorf("list learning events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *PostgresEventStore) CountByCounterparty(ctx context.Context, counterpartyID domain.CounterpartyID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM learning_events WHERE counterparty_id = $1`,
		counterpartyID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count learning events: %w", err)
	}
	return count, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		event                      Event
		idStr, cpStr, userStr, str string
	)
	if err := rows.Scan(
		&idStr,
		&cpStr,
		&userStr,
		&str,
		&event.OutcomeSuccess,
		&event.ResponseTimeHours,
		&event.AdmissionText,
		&event.RecoveryAmount,
		&event.ViolationType,
		&event.Timestamp,
	); err != nil {
		return Event{}, fmt.Errorf("scan learning event: %w", err)
	}

	id, err := domain.ParseEventID(idStr)
	if err != nil {
		return Event{}, fmt.Errorf("corrupt event id %q: %w", idStr, err)
	}
	cpID, err := domain.ParseCounterpartyID(cpStr)
	if err != nil {
		return Event{}, fmt.Errorf("corrupt counterparty id %q: %w", cpStr, err)
	}
	userID, err := domain.ParseUserID(userStr)
	if err != nil {
		return Event{}, fmt.Errorf("corrupt user id %q: %w", userStr, err)
	}
	event.ID = id
	event.CounterpartyID = cpID
	event.UserID = userID
	event.Strategy = domain.Strategy(str)
	return event, nil
}

package audit

import (
	"context"
	"database/sql"
	"fmt"

	"aegis/pkg/domain"
)

// PostgresStore persists the audit trail in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE audit_events (
//	    id              UUID PRIMARY KEY,
//	    occurred_at     TIMESTAMPTZ NOT NULL,
//	    user_id         UUID,
//	    action          TEXT NOT NULL,
//	    message_id      UUID,
//	    counterparty_id UUID,
//	    detail          TEXT NOT NULL DEFAULT ''
//	);
//	CREATE INDEX audit_events_user_idx ON audit_events (user_id, occurred_at);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_events
			(id, occurred_at, user_id, action, message_id, counterparty_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var userID, messageID, counterpartyID any
	if !event.UserID.IsZero() {
		userID = event.UserID.String()
	}
	if !event.MessageID.IsZero() {
		messageID = event.MessageID.String()
	}
	if !event.CounterpartyID.IsZero() {
		counterpartyID = event.CounterpartyID.String()
	}
	if _, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		userID,
		event.Action,
		messageID,
		counterpartyID,
		event.Detail,
	); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID domain.UserID) ([]Event, error) {
	query := `
		SELECT id, occurred_at, user_id, action, message_id, counterparty_id, detail
		FROM audit_events
		WHERE user_id = $1
		ORDER BY occurred_at
	`
	rows, err := s.db.QueryContext(ctx, query, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			event                  Event
			userStr, msgStr, cpStr sql.NullString
		)
		if err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&userStr,
			&event.Action,
			&msgStr,
			&cpStr,
			&event.Detail,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if userStr.Valid {
			uid, err := domain.ParseUserID(userStr.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt audit user id %q: %w", userStr.String, err)
			}
			event.UserID = uid
		}
		if msgStr.Valid {
			mid, err := domain.ParseMessageID(msgStr.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt audit message id %q: %w", msgStr.String, err)
			}
			event.MessageID = mid
		}
		if cpStr.Valid {
			cid, err := domain.ParseCounterpartyID(cpStr.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt audit counterparty id %q: %w", cpStr.String, err)
			}
			event.CounterpartyID = cid
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"aegis/internal/lifecycle/parser"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// PostgresAuthorizationStore persists grants in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE authorizations (
//	    id              UUID PRIMARY KEY,
//	    user_id         UUID NOT NULL,
//	    counterparty_id UUID,
//	    scope           TEXT[] NOT NULL,
//	    platform_alias  TEXT NOT NULL,
//	    valid_until     TIMESTAMPTZ NOT NULL,
//	    active          BOOLEAN NOT NULL,
//	    created_at      TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX authorizations_user_idx ON authorizations (user_id, active);
type PostgresAuthorizationStore struct {
	db *sql.DB
}

func NewPostgresAuthorizationStore(db *sql.DB) *PostgresAuthorizationStore {
	return &PostgresAuthorizationStore{db: db}
}

func (s *PostgresAuthorizationStore) Create(ctx context.Context, auth Authorization) error {
	query := `
		INSERT INTO authorizations
			(id, user_id, counterparty_id, scope, platform_alias, valid_until, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	var counterpartyID any
	if !auth.CounterpartyID.IsZero() {
		counterpartyID = auth.CounterpartyID.String()
	}
	_, err := s.db.ExecContext(ctx, query,
		auth.ID.String(),
		auth.UserID.String(),
		counterpartyID,
		pq.Array(auth.Scope),
		auth.PlatformAlias,
		auth.ValidUntil,
		auth.Active,
		auth.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return dErrors.New(dErrors.CodeConflict, "authorization already exists")
		}
		return fmt.Errorf("create authorization: %w", err)
	}
	return nil
}

func (s *PostgresAuthorizationStore) FindActive(ctx context.Context, userID domain.UserID, counterpartyID domain.CounterpartyID, now time.Time) (Authorization, bool, error) {
	query := `
		SELECT id, user_id, counterparty_id, scope, platform_alias, valid_until, active, created_at
		FROM authorizations
		WHERE user_id = $1
		  AND active
		  AND valid_until > $2
		  AND (counterparty_id IS NULL OR counterparty_id = $3)
		ORDER BY created_at DESC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query, userID.String(), now, counterpartyID.String())
	auth, err := scanAuthorization(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Authorization{}, false, nil
		}
		return Authorization{}, false, err
	}
	return auth, true, nil
}

func (s *PostgresAuthorizationStore) ListForUser(ctx context.Context, userID domain.UserID) ([]Authorization, error) {
	query := `
		SELECT id, user_id, counterparty_id, scope, platform_alias, valid_until, active, created_at
		FROM authorizations
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list authorizations: %w", err)
	}
	defer rows.Close()

	var out []Authorization
	for rows.Next() {
		auth, err := scanAuthorization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, auth)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthorization(row rowScanner) (Authorization, error) {
	var (
		auth              Authorization
		rawID, rawUser    string
		rawCounterparty   sql.NullString
		scope             pq.StringArray
	)
	if err := row.Scan(&rawID, &rawUser, &rawCounterparty, &scope,
		&auth.PlatformAlias, &auth.ValidUntil, &auth.Active, &auth.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Authorization{}, err
		}
		return Authorization{}, fmt.Errorf("scan authorization: %w", err)
	}

	var err error
	if auth.ID, err = domain.ParseGrantID(rawID); err != nil {
		return Authorization{}, fmt.Errorf("stored grant id invalid: %w", err)
	}
	if auth.UserID, err = domain.ParseUserID(rawUser); err != nil {
		return Authorization{}, fmt.Errorf("stored user id invalid: %w", err)
	}
	if rawCounterparty.Valid {
		if auth.CounterpartyID, err = domain.ParseCounterpartyID(rawCounterparty.String); err != nil {
			return Authorization{}, fmt.Errorf("stored counterparty id invalid: %w", err)
		}
	}
	auth.Scope = []string(scope)
	return auth, nil
}

// PostgresMessageStore persists messages. Status transitions use
// conditional UPDATEs: the WHERE clause on the current status is the
// compare-and-set that keeps concurrent callers from double-transitioning.
//
// Schema:
//
//	CREATE TABLE messages (
//	    id              UUID PRIMARY KEY,
//	    user_id         UUID NOT NULL,
//	    counterparty_id UUID NOT NULL,
//	    direction       TEXT NOT NULL,
//	    correlation_key TEXT NOT NULL UNIQUE,
//	    strategy_used   TEXT NOT NULL,
//	    status          TEXT NOT NULL,
//	    recipient_address TEXT NOT NULL,
//	    subject         TEXT NOT NULL,
//	    body_content    TEXT NOT NULL,
//	    sent_at         TIMESTAMPTZ,
//	    responded_at    TIMESTAMPTZ,
//	    parsing_result  JSONB,
//	    created_at      TIMESTAMPTZ NOT NULL,
//	    updated_at      TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX messages_counterparty_sent_idx ON messages (counterparty_id, sent_at DESC);
type PostgresMessageStore struct {
	db *sql.DB
}

func NewPostgresMessageStore(db *sql.DB) *PostgresMessageStore {
	return &PostgresMessageStore{db: db}
}

func (s *PostgresMessageStore) Create(ctx context.Context, msg Message) error {
	query := `
		INSERT INTO messages
			(id, user_id, counterparty_id, direction, correlation_key, strategy_used,
			 status, recipient_address, subject, body_content, sent_at, responded_at,
			 parsing_result, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	parsing, err := marshalParsing(msg.ParsingResult)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query,
		msg.ID.String(),
		msg.UserID.String(),
		msg.CounterpartyID.String(),
		string(msg.Direction),
		msg.CorrelationKey,
		string(msg.StrategyUsed),
		string(msg.Status),
		msg.RecipientAddress,
		msg.Subject,
		msg.BodyContent,
		msg.SentAt,
		msg.RespondedAt,
		parsing,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return dErrors.New(dErrors.CodeConflict, "message already exists")
		}
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

const messageColumns = `
	id, user_id, counterparty_id, direction, correlation_key, strategy_used,
	status, recipient_address, subject, body_content, sent_at, responded_at,
	parsing_result, created_at, updated_at
`

func (s *PostgresMessageStore) Get(ctx context.Context, id domain.MessageID) (Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id.String())
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, dErrors.New(dErrors.CodeNotFound, "message not found")
		}
		return Message{}, err
	}
	return msg, nil
}

func (s *PostgresMessageStore) TransitionStatus(ctx context.Context, id domain.MessageID, from, to Status, at time.Time) (bool, error) {
	query := `
		UPDATE messages
		SET status = $3,
		    sent_at = CASE WHEN $3 = 'sent' THEN $4 ELSE sent_at END,
		    updated_at = $4
		WHERE id = $1 AND status = $2
	`
	res, err := s.db.ExecContext(ctx, query, id.String(), string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("transition message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition message: %w", err)
	}
	if n == 0 {
		// Distinguish a missing message from a lost race.
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresMessageStore) MarkResponded(ctx context.Context, id domain.MessageID, result parser.Result, at time.Time) (bool, error) {
	parsing, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal parsing result: %w", err)
	}
	query := `
		UPDATE messages
		SET status = 'responded', responded_at = $2, parsing_result = $3, updated_at = $2
		WHERE id = $1 AND status IN ('sent', 'delivered')
	`
	res, err := s.db.ExecContext(ctx, query, id.String(), at, parsing)
	if err != nil {
		return false, fmt.Errorf("mark responded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark responded: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresMessageStore) FindByCorrelationKey(ctx context.Context, key string) (Message, bool, error) {
	if key == "" {
		return Message{}, false, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE correlation_key = $1`, key)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, false, nil
		}
		return Message{}, false, err
	}
	return msg, true, nil
}

func (s *PostgresMessageStore) LatestSentForCounterparty(ctx context.Context, counterpartyID domain.CounterpartyID) (Message, bool, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE counterparty_id = $1
		  AND direction = 'outbound'
		  AND status IN ('sent', 'delivered')
		  AND sent_at IS NOT NULL
		ORDER BY sent_at DESC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query, counterpartyID.String())
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, false, nil
		}
		return Message{}, false, err
	}
	return msg, true, nil
}

func (s *PostgresMessageStore) ListForUser(ctx context.Context, userID domain.UserID) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE user_id = $1 ORDER BY created_at`,
		userID.String())
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *PostgresMessageStore) StatusCounts(ctx context.Context, counterpartyID domain.CounterpartyID) (map[Status]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM messages
		WHERE counterparty_id = $1 AND direction = 'outbound'
		GROUP BY status
	`
	rows, err := s.db.QueryContext(ctx, query, counterpartyID.String())
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var raw string
		var n int
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		status, err := ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func marshalParsing(result *parser.Result) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal parsing result: %w", err)
	}
	return b, nil
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg                             Message
		rawID, rawUser, rawCounterparty string
		rawDirection, rawStrategy       string
		rawStatus                       string
		sentAt, respondedAt             sql.NullTime
		parsing                         []byte
	)
	if err := row.Scan(&rawID, &rawUser, &rawCounterparty, &rawDirection, &msg.CorrelationKey,
		&rawStrategy, &rawStatus, &msg.RecipientAddress, &msg.Subject, &msg.BodyContent,
		&sentAt, &respondedAt, &parsing, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("scan message: %w", err)
	}

	var err error
	if msg.ID, err = domain.ParseMessageID(rawID); err != nil {
		return Message{}, fmt.Errorf("stored message id invalid: %w", err)
	}
	if msg.UserID, err = domain.ParseUserID(rawUser); err != nil {
		return Message{}, fmt.Errorf("stored user id invalid: %w", err)
	}
	if msg.CounterpartyID, err = domain.ParseCounterpartyID(rawCounterparty); err != nil {
		return Message{}, fmt.Errorf("stored counterparty id invalid: %w", err)
	}
	msg.Direction = Direction(rawDirection)
	if msg.StrategyUsed, err = domain.ParseStrategy(rawStrategy); err != nil {
		return Message{}, fmt.Errorf("stored strategy invalid: %w", err)
	}
	if msg.Status, err = ParseStatus(rawStatus); err != nil {
		return Message{}, fmt.Errorf("stored status invalid: %w", err)
	}
	if sentAt.Valid {
		t := sentAt.Time
		msg.SentAt = &t
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		msg.RespondedAt = &t
	}
	if len(parsing) > 0 {
		var result parser.Result
		if err := json.Unmarshal(parsing, &result); err != nil {
			return Message{}, fmt.Errorf("stored parsing result invalid: %w", err)
		}
		msg.ParsingResult = &result
	}
	return msg, nil
}

// PostgresInboundStore persists received messages.
//
// Schema:
//
//	CREATE TABLE inbound_messages (
//	    id                    UUID PRIMARY KEY,
//	    counterparty_id       UUID,
//	    from_address          TEXT NOT NULL,
//	    subject               TEXT NOT NULL,
//	    body_content          TEXT NOT NULL,
//	    correlated_message_id UUID,
//	    correlation_method    TEXT NOT NULL,
//	    requires_human_review BOOLEAN NOT NULL,
//	    parsing_result        JSONB,
//	    received_at           TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX inbound_review_idx ON inbound_messages (requires_human_review, received_at);
type PostgresInboundStore struct {
	db *sql.DB
}

func NewPostgresInboundStore(db *sql.DB) *PostgresInboundStore {
	return &PostgresInboundStore{db: db}
}

func (s *PostgresInboundStore) Create(ctx context.Context, rec InboundRecord) error {
	query := `
		INSERT INTO inbound_messages
			(id, counterparty_id, from_address, subject, body_content,
			 correlated_message_id, correlation_method, requires_human_review, parsing_result, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	parsing, err := marshalParsing(rec.ParsingResult)
	if err != nil {
		return err
	}
	var counterpartyID, correlatedID any
	if !rec.CounterpartyID.IsZero() {
		counterpartyID = rec.CounterpartyID.String()
	}
	if !rec.CorrelatedMessageID.IsZero() {
		correlatedID = rec.CorrelatedMessageID.String()
	}
	_, err = s.db.ExecContext(ctx, query,
		rec.ID.String(),
		counterpartyID,
		rec.FromAddress,
		rec.Subject,
		rec.BodyContent,
		correlatedID,
		rec.CorrelationMethod,
		rec.RequiresHumanReview,
		parsing,
		rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("create inbound record: %w", err)
	}
	return nil
}

func (s *PostgresInboundStore) ListForReview(ctx context.Context) ([]InboundRecord, error) {
	query := `
		SELECT id, counterparty_id, from_address, subject, body_content,
		       correlated_message_id, correlation_method, requires_human_review, parsing_result, received_at
		FROM inbound_messages
		WHERE requires_human_review OR correlation_method = 'none'
		ORDER BY received_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list review queue: %w", err)
	}
	defer rows.Close()

	var out []InboundRecord
	for rows.Next() {
		var (
			rec                 InboundRecord
			rawID               string
			rawCounterparty     sql.NullString
			rawCorrelated       sql.NullString
			parsing             []byte
		)
		if err := rows.Scan(&rawID, &rawCounterparty, &rec.FromAddress, &rec.Subject, &rec.BodyContent,
			&rawCorrelated, &rec.CorrelationMethod, &rec.RequiresHumanReview, &parsing, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan inbound record: %w", err)
		}
		if rec.ID, err = domain.ParseMessageID(rawID); err != nil {
			return nil, fmt.Errorf("stored inbound id invalid: %w", err)
		}
		if rawCounterparty.Valid {
			if rec.CounterpartyID, err = domain.ParseCounterpartyID(rawCounterparty.String); err != nil {
				return nil, fmt.Errorf("stored counterparty id invalid: %w", err)
			}
		}
		if rawCorrelated.Valid {
			if rec.CorrelatedMessageID, err = domain.ParseMessageID(rawCorrelated.String); err != nil {
				return nil, fmt.Errorf("stored correlated id invalid: %w", err)
			}
		}
		if len(parsing) > 0 {
			var result parser.Result
			if err := json.Unmarshal(parsing, &result); err != nil {
				return nil, fmt.Errorf("stored parsing result invalid: %w", err)
			}
			rec.ParsingResult = &result
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

//go:build integration

package containers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Schema is the full DDL for the application tables. Integration tests apply
// it against a fresh container so they exercise the same SQL the stores run
// in production.
const Schema = `
CREATE TABLE authorizations (
    id              UUID PRIMARY KEY,
    user_id         UUID NOT NULL,
    counterparty_id UUID,
    scope           TEXT[] NOT NULL,
    platform_alias  TEXT NOT NULL,
    valid_until     TIMESTAMPTZ NOT NULL,
    active          BOOLEAN NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX authorizations_user_idx ON authorizations (user_id, active);

CREATE TABLE messages (
    id              UUID PRIMARY KEY,
    user_id         UUID NOT NULL,
    counterparty_id UUID NOT NULL,
    direction       TEXT NOT NULL,
    correlation_key TEXT NOT NULL UNIQUE,
    strategy_used   TEXT NOT NULL,
    status          TEXT NOT NULL,
    recipient_address TEXT NOT NULL,
    subject         TEXT NOT NULL,
    body_content    TEXT NOT NULL,
    sent_at         TIMESTAMPTZ,
    responded_at    TIMESTAMPTZ,
    parsing_result  JSONB,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX messages_counterparty_sent_idx ON messages (counterparty_id, sent_at DESC);

CREATE TABLE inbound_messages (
    id                    UUID PRIMARY KEY,
    counterparty_id       UUID,
    from_address          TEXT NOT NULL,
    subject               TEXT NOT NULL,
    body_content          TEXT NOT NULL,
    correlated_message_id UUID,
    correlation_method    TEXT NOT NULL,
    requires_human_review BOOLEAN NOT NULL,
    parsing_result        JSONB,
    received_at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX inbound_review_idx ON inbound_messages (requires_human_review, received_at);

CREATE TABLE learning_events (
    id                  UUID PRIMARY KEY,
    counterparty_id     UUID NOT NULL,
    user_id             UUID NOT NULL,
    strategy            TEXT NOT NULL,
    outcome_success     BOOLEAN NOT NULL,
    response_time_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
    admission_text      TEXT NOT NULL DEFAULT '',
    recovery_amount     DOUBLE PRECISION NOT NULL DEFAULT 0,
    violation_type      TEXT NOT NULL DEFAULT '',
    occurred_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX learning_events_cp_idx ON learning_events (counterparty_id);

CREATE TABLE evidence_proofs (
    ledger_tx_id        TEXT PRIMARY KEY,
    content_hash        TEXT NOT NULL,
    ledger_block        BIGINT NOT NULL,
    confirmations       INT NOT NULL,
    anchored_at         TIMESTAMPTZ NOT NULL,
    source_document_ref TEXT NOT NULL,
    verification_url    TEXT NOT NULL
);
CREATE INDEX evidence_proofs_case_idx ON evidence_proofs (source_document_ref);

CREATE TABLE audit_events (
    id              UUID PRIMARY KEY,
    occurred_at     TIMESTAMPTZ NOT NULL,
    user_id         UUID,
    action          TEXT NOT NULL,
    message_id      UUID,
    counterparty_id UUID,
    detail          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX audit_events_user_idx ON audit_events (user_id, occurred_at);
`

// PostgresContainer wraps a testcontainers PostgreSQL instance with the
// application schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts a PostgreSQL container and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("aegis_test"),
		tcpostgres.WithUsername("aegis"),
		tcpostgres.WithPassword("aegis"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	pc := &PostgresContainer{
		Container: container,
		DSN:       dsn,
		DB:        db,
	}

	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(context.Background())
	})

	return pc
}

// Truncate empties the given tables. Use between tests to ensure isolation.
func (p *PostgresContainer) Truncate(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}

package evidence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresProofStore persists proofs in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE evidence_proofs (
//	    ledger_tx_id        TEXT PRIMARY KEY,
//	    content_hash        TEXT NOT NULL,
//	    ledger_block        BIGINT NOT NULL,
//	    confirmations       INT NOT NULL,
//	    anchored_at         TIMESTAMPTZ NOT NULL,
//	    source_document_ref TEXT NOT NULL,
//	    verification_url    TEXT NOT NULL
//	);
//	CREATE INDEX evidence_proofs_case_idx ON evidence_proofs (source_document_ref);
type PostgresProofStore struct {
	db *sql.DB
}

func NewPostgresProofStore(db *sql.DB) *PostgresProofStore {
	return &PostgresProofStore{db: db}
}

func (s *PostgresProofStore) Append(ctx context.Context, proof Proof) error {
	query := `
		INSERT INTO evidence_proofs
			(ledger_tx_id, content_hash, ledger_block, confirmations, anchored_at, source_document_ref, verification_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		proof.LedgerTxID,
		proof.ContentHash,
		proof.LedgerBlock,
		proof.Confirmations,
		proof.AnchoredAt,
		proof.SourceDocumentRef,
		proof.VerificationURL,
	)
	if err != nil {
		var pqErr *pq.Error
		// Duplicate tx id means the proof is already anchored; append-only
		// stores absorb the replay.
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("append proof: %w", err)
	}
	return nil
}

func (s *PostgresProofStore) FindByTxID(ctx context.Context, txID string) (Proof, error) {
	query := `
		SELECT ledger_tx_id, content_hash, ledger_block, confirmations, anchored_at, source_document_ref, verification_url
		FROM evidence_proofs
		WHERE ledger_tx_id = $1
	`
	var proof Proof
	err := s.db.QueryRowContext(ctx, query, txID).Scan(
		&proof.LedgerTxID,
		&proof.ContentHash,
		&proof.LedgerBlock,
		&proof.Confirmations,
		&proof.AnchoredAt,
		&proof.SourceDocumentRef,
		&proof.VerificationURL,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Proof{}, ErrProofNotFound
		}
		return Proof{}, fmt.Errorf("find proof: %w", err)
	}
	return proof, nil
}

func (s *PostgresProofStore) ListByCaseRef(ctx context.Context, caseRef string) ([]Proof, error) {
	query := `
		SELECT ledger_tx_id, content_hash, ledger_block, confirmations, anchored_at, source_document_ref, verification_url
		FROM evidence_proofs
		WHERE source_document_ref = $1
		ORDER BY anchored_at
	`
	rows, err := s.db.QueryContext(ctx, query, caseRef)
	if err != nil {
		return nil, fmt.Errorf("list proofs: %w", err)
	}
	defer rows.Close()

	var proofs []Proof
	for rows.Next() {
		var proof Proof
		if err := rows.Scan(
			&proof.LedgerTxID,
			&proof.ContentHash,
			&proof.LedgerBlock,
			&proof.Confirmations,
			&proof.AnchoredAt,
			&proof.SourceDocumentRef,
			&proof.VerificationURL,
		); err != nil {
			return nil, fmt.Errorf("scan proof: %w", err)
		}
		proofs = append(proofs, proof)
	}
	return proofs, rows.Err()
}

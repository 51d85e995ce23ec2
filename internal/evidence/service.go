package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"aegis/internal/evidence/ledger"
	"aegis/internal/evidence/metrics"
	"aegis/internal/platform/config"
	dErrors "aegis/pkg/domain-errors"
)

// Service anchors documents on the external ledger and verifies proofs.
// Constructed with explicit dependencies so tests can substitute the ledger
// and store.
type Service struct {
	ledger          ledger.Client
	store           ProofStore
	logger          *slog.Logger
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	network         string
	confirmInterval time.Duration
	confirmAttempts int
	clock           func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithConfirmPolicy overrides the polling cadence, mainly for tests.
func WithConfirmPolicy(interval time.Duration, attempts int) Option {
	return func(s *Service) {
		s.confirmInterval = interval
		s.confirmAttempts = attempts
	}
}

func NewService(client ledger.Client, store ProofStore, logger *slog.Logger, m *metrics.Metrics, cfg config.LedgerConfig, opts ...Option) *Service {
	s := &Service{
		ledger:          client,
		store:           store,
		logger:          logger,
		metrics:         m,
		tracer:          otel.Tracer("aegis/evidence"),
		network:         cfg.Network,
		confirmInterval: cfg.ConfirmInterval,
		confirmAttempts: cfg.ConfirmAttempts,
		clock:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// anchorMetadata is the transaction payload written to the ledger. The hash
// is the load-bearing field; the rest is minimal context for a human reading
// the chain record.
type anchorMetadata struct {
	ContentHash    string        `json:"content_hash"`
	DocumentType   DocumentType  `json:"document_type"`
	CaseRef        string        `json:"case_ref"`
	LegalCitations []string      `json:"legal_citations,omitempty"`
	AnchoredAt     time.Time     `json:"anchored_at"`
	Members        []BatchMember `json:"members,omitempty"`
}

// CreateProof canonicalizes and hashes the document, submits the hash to the
// ledger, and blocks until the transaction confirms or the bounded polling
// budget runs out. On budget exhaustion it fails with AnchoringTimeout; the
// caller decides whether to retry the whole operation.
func (s *Service) CreateProof(ctx context.Context, doc Document) (Proof, error) {
	contentHash, _, err := HashDocument(doc)
	if err != nil {
		return Proof{}, dErrors.Wrap(dErrors.CodeInvalidInput, "cannot canonicalize document", err)
	}
	return s.anchor(ctx, anchorMetadata{
		ContentHash:    contentHash,
		DocumentType:   doc.Type,
		CaseRef:        doc.CaseRef,
		LegalCitations: doc.LegalCitations,
		AnchoredAt:     s.clock().UTC(),
	})
}

// CreateBatchProof combines many logical records into one composite filing
// and anchors once, trading per-item granularity for a single ledger write.
func (s *Service) CreateBatchProof(ctx context.Context, caseRef string, docs []Document) (Proof, error) {
	if len(docs) == 0 {
		return Proof{}, dErrors.New(dErrors.CodeInvalidInput, "batch must contain at least one document")
	}
	members := make([]BatchMember, 0, len(docs))
	for _, doc := range docs {
		hash, _, err := HashDocument(doc)
		if err != nil {
			return Proof{}, dErrors.Wrap(dErrors.CodeInvalidInput, "cannot canonicalize batch member", err)
		}
		members = append(members, BatchMember{CaseRef: doc.CaseRef, ContentHash: hash})
	}
	return s.anchor(ctx, anchorMetadata{
		ContentHash:  HashBatchManifest(members),
		DocumentType: DocumentTypeCollectiveFiling,
		CaseRef:      caseRef,
		AnchoredAt:   s.clock().UTC(),
		Members:      members,
	})
}

func (s *Service) anchor(ctx context.Context, meta anchorMetadata) (Proof, error) {
	ctx, span := s.tracer.Start(ctx, "evidence.anchor")
	defer span.End()
	start := s.clock()

	payload, err := json.Marshal(meta)
	if err != nil {
		return Proof{}, dErrors.Wrap(dErrors.CodeInternal, "marshal anchor metadata", err)
	}

	txID, err := s.ledger.Submit(ctx, payload)
	if err != nil {
		s.metrics.ObserveAnchor("error", 0)
		return Proof{}, dErrors.Wrap(dErrors.CodeInternal, "ledger submit failed", err)
	}

	record, err := s.awaitConfirmation(ctx, txID)
	if err != nil {
		s.metrics.ObserveAnchor("timeout", 0)
		return Proof{}, err
	}

	proof := Proof{
		ContentHash:       meta.ContentHash,
		LedgerTxID:        txID,
		LedgerBlock:       record.Block,
		Confirmations:     record.Confirmations,
		AnchoredAt:        record.Timestamp,
		SourceDocumentRef: meta.CaseRef,
		VerificationURL:   s.explorerURL(txID),
	}
	if err := s.store.Append(ctx, proof); err != nil {
		// The anchor is on chain even if local persistence failed; report
		// both facts so an operator can reconcile.
		s.logger.ErrorContext(ctx, "proof anchored but not persisted",
			"tx_id", txID,
			"case_ref", meta.CaseRef,
			"error", err,
		)
		return Proof{}, dErrors.Wrap(dErrors.CodeInternal, "persist proof", err)
	}

	s.metrics.ObserveAnchor("anchored", s.clock().Sub(start))
	s.logger.InfoContext(ctx, "evidence anchored",
		"tx_id", txID,
		"case_ref", meta.CaseRef,
		"content_hash", meta.ContentHash,
	)
	return proof, nil
}

// awaitConfirmation polls the ledger until the transaction has at least one
// confirmation. Polling is capped at confirmAttempts, every confirmInterval;
// no silent infinite retry.
func (s *Service) awaitConfirmation(ctx context.Context, txID string) (*ledger.Record, error) {
	ctx, span := s.tracer.Start(ctx, "evidence.await_confirmation")
	defer span.End()

	ticker := time.NewTicker(s.confirmInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= s.confirmAttempts; attempt++ {
		record, err := s.ledger.Query(ctx, txID)
		switch {
		case err == nil && record.Confirmations > 0:
			return record, nil
		case err != nil && !errors.Is(err, ledger.ErrTxNotFound):
			return nil, dErrors.Wrap(dErrors.CodeInternal, "ledger query failed", err)
		}

		if attempt == s.confirmAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, dErrors.Wrap(dErrors.CodeAnchoringTimeout,
				fmt.Sprintf("anchoring cancelled after %d attempts (tx %s)", attempt, txID), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil, dErrors.New(dErrors.CodeAnchoringTimeout,
		fmt.Sprintf("transaction %s unconfirmed after %d attempts", txID, s.confirmAttempts))
}

// VerifyProof recomputes the document's hash with the same canonicalization
// and compares it against the on-chain record. A mismatch is a reportable
// result, not an error.
func (s *Service) VerifyProof(ctx context.Context, txID string, doc Document) (VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "evidence.verify_proof")
	defer span.End()

	computed, _, err := HashDocument(doc)
	if err != nil {
		return VerifyResult{}, dErrors.Wrap(dErrors.CodeInvalidInput, "cannot canonicalize document", err)
	}

	record, err := s.ledger.Query(ctx, txID)
	if err != nil {
		if errors.Is(err, ledger.ErrTxNotFound) {
			return VerifyResult{}, dErrors.New(dErrors.CodeNotFound, "transaction not found on ledger")
		}
		return VerifyResult{}, dErrors.Wrap(dErrors.CodeInternal, "ledger query failed", err)
	}

	var meta anchorMetadata
	if err := json.Unmarshal(record.Metadata, &meta); err != nil {
		return VerifyResult{}, dErrors.Wrap(dErrors.CodeInternal, "decode on-chain metadata", err)
	}

	result := VerifyResult{
		Valid:         meta.ContentHash == computed,
		OnChainHash:   meta.ContentHash,
		ComputedHash:  computed,
		Confirmations: record.Confirmations,
		Timestamp:     record.Timestamp,
	}
	if result.Valid {
		s.metrics.ObserveVerify("valid")
	} else {
		s.metrics.ObserveVerify("mismatch")
	}
	return result, nil
}

// GetProofsForCase returns the anchored proof trail for one case reference.
func (s *Service) GetProofsForCase(ctx context.Context, caseRef string) ([]Proof, error) {
	return s.store.ListByCaseRef(ctx, caseRef)
}

func (s *Service) explorerURL(txID string) string {
	if s.network == "mainnet" {
		return "https://explorer.aegisledger.io/transaction/" + txID
	}
	return "https://testnet.explorer.aegisledger.io/transaction/" + txID
}

// Package handler exposes proof creation and verification over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aegis/internal/evidence"
	"aegis/internal/platform/metrics"
	"aegis/internal/platform/middleware"
	"aegis/internal/transport/http/shared"
	dErrors "aegis/pkg/domain-errors"
)

// Service defines the evidence operations the handler depends on.
type Service interface {
	CreateProof(ctx context.Context, doc evidence.Document) (evidence.Proof, error)
	CreateBatchProof(ctx context.Context, caseRef string, docs []evidence.Document) (evidence.Proof, error)
	VerifyProof(ctx context.Context, txID string, doc evidence.Document) (evidence.VerifyResult, error)
	GetProofsForCase(ctx context.Context, caseRef string) ([]evidence.Proof, error)
}

// Handler handles evidence proof endpoints.
type Handler struct {
	logger       *slog.Logger
	evidence     Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates an evidence Handler.
func New(svc Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		evidence:     svc,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register attaches the evidence routes to the parent router. Proof
// creation blocks on ledger confirmation, so its timeout is far above the
// default.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(10 * time.Minute))
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.LatencyMiddleware(h.metrics))
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/proofs", h.handleCreateProof)
		r.Post("/proofs/batch", h.handleCreateBatchProof)
		r.Post("/proofs/{txID}/verify", h.handleVerifyProof)
		r.Get("/cases/{caseRef}/proofs", h.handleCaseProofs)
	})
}

type documentPayload struct {
	Type           string    `json:"type"`
	CaseRef        string    `json:"case_ref"`
	Content        string    `json:"content"`
	LegalCitations []string  `json:"legal_citations,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (p documentPayload) toDocument() (evidence.Document, error) {
	switch evidence.DocumentType(p.Type) {
	case evidence.DocumentTypeOutbound, evidence.DocumentTypeInboundResponse, evidence.DocumentTypeCollectiveFiling:
	default:
		return evidence.Document{}, dErrors.New(dErrors.CodeBadRequest, "unknown document type: "+p.Type)
	}
	if p.CaseRef == "" || p.Content == "" {
		return evidence.Document{}, dErrors.New(dErrors.CodeBadRequest, "case_ref and content are required")
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return evidence.Document{
		Type:           evidence.DocumentType(p.Type),
		CaseRef:        p.CaseRef,
		Content:        p.Content,
		LegalCitations: p.LegalCitations,
		CreatedAt:      createdAt,
	}, nil
}

type proofResponse struct {
	ContentHash     string    `json:"content_hash"`
	LedgerTxID      string    `json:"ledger_tx_id"`
	LedgerBlock     int64     `json:"ledger_block"`
	Confirmations   int       `json:"confirmations"`
	AnchoredAt      time.Time `json:"anchored_at"`
	CaseRef         string    `json:"case_ref"`
	VerificationURL string    `json:"verification_url"`
}

func toProofResponse(proof evidence.Proof) proofResponse {
	return proofResponse{
		ContentHash:     proof.ContentHash,
		LedgerTxID:      proof.LedgerTxID,
		LedgerBlock:     proof.LedgerBlock,
		Confirmations:   proof.Confirmations,
		AnchoredAt:      proof.AnchoredAt,
		CaseRef:         proof.SourceDocumentRef,
		VerificationURL: proof.VerificationURL,
	}
}

func (h *Handler) handleCreateProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload documentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	doc, err := payload.toDocument()
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	proof, err := h.evidence.CreateProof(ctx, doc)
	if err != nil {
		h.writeServiceError(ctx, w, "proof creation failed", err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toProofResponse(proof))
}

type batchRequest struct {
	CaseRef   string            `json:"case_ref"`
	Documents []documentPayload `json:"documents"`
}

func (h *Handler) handleCreateBatchProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.CaseRef == "" || len(req.Documents) == 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "case_ref and documents are required"))
		return
	}

	docs := make([]evidence.Document, 0, len(req.Documents))
	for _, payload := range req.Documents {
		doc, err := payload.toDocument()
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		docs = append(docs, doc)
	}

	proof, err := h.evidence.CreateBatchProof(ctx, req.CaseRef, docs)
	if err != nil {
		h.writeServiceError(ctx, w, "batch proof creation failed", err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toProofResponse(proof))
}

func (h *Handler) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "txID")

	var payload documentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	doc, err := payload.toDocument()
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	// A mismatch comes back as valid=false in the body, never as an error.
	result, err := h.evidence.VerifyProof(ctx, txID, doc)
	if err != nil {
		h.writeServiceError(ctx, w, "verification failed", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCaseProofs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseRef := chi.URLParam(r, "caseRef")

	proofs, err := h.evidence.GetProofsForCase(ctx, caseRef)
	if err != nil {
		h.writeServiceError(ctx, w, "proof lookup failed", err)
		return
	}

	out := make([]proofResponse, 0, len(proofs))
	for _, proof := range proofs {
		out = append(out, toProofResponse(proof))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if _, ok := dErrors.AsDomainError(err); ok {
		h.logger.WarnContext(ctx, msg,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	h.logger.ErrorContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
	shared.WriteError(w, dErrors.New(dErrors.CodeInternal, msg))
}

// Package handler exposes the correspondence lifecycle over HTTP. The
// inbound webhook is authenticated by shared secret; everything else
// requires a user JWT.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aegis/internal/learning"
	"aegis/internal/lifecycle"
	"aegis/internal/platform/metrics"
	"aegis/internal/platform/middleware"
	"aegis/internal/transport/http/shared"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// Service defines the lifecycle operations the handler depends on.
type Service interface {
	Authorize(ctx context.Context, userID domain.UserID, counterpartyID domain.CounterpartyID, scope []string, ttl time.Duration) (lifecycle.Authorization, error)
	Draft(ctx context.Context, userID domain.UserID, counterpartyID domain.CounterpartyID, req lifecycle.DraftRequest) (lifecycle.Message, learning.Recommendation, error)
	Approve(ctx context.Context, messageID domain.MessageID, userID domain.UserID) (lifecycle.Message, error)
	ConfirmDelivery(ctx context.Context, messageID domain.MessageID) error
	IngestInbound(ctx context.Context, raw lifecycle.InboundEmail) (lifecycle.InboundRecord, error)
	GetMessage(ctx context.Context, messageID domain.MessageID, userID domain.UserID) (lifecycle.Message, error)
	ListMessages(ctx context.Context, userID domain.UserID) ([]lifecycle.Message, error)
	ReviewQueue(ctx context.Context) ([]lifecycle.InboundRecord, error)
	Summary(ctx context.Context, counterpartyID domain.CounterpartyID) (lifecycle.CounterpartySummary, error)
}

// Handler handles lifecycle endpoints.
type Handler struct {
	logger        *slog.Logger
	lifecycle     Service
	metrics       *metrics.Metrics
	jwtValidator  middleware.JWTValidator
	webhookSecret string
}

// New creates a lifecycle Handler.
func New(svc Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator, webhookSecret string) *Handler {
	return &Handler{
		logger:        logger,
		lifecycle:     svc,
		metrics:       m,
		jwtValidator:  jwtValidator,
		webhookSecret: webhookSecret,
	}
}

// Register attaches the lifecycle routes to the parent router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.LatencyMiddleware(h.metrics))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
			r.Post("/authorize", h.handleAuthorize)
			r.Post("/messages/draft", h.handleDraft)
			r.Post("/messages/{messageID}/approve", h.handleApprove)
			r.Get("/messages/{messageID}", h.handleGetMessage)
			r.Get("/messages", h.handleListMessages)
			r.Get("/inbound/review", h.handleReviewQueue)
			r.Get("/counterparties/{counterpartyID}/summary", h.handleSummary)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireWebhookSecret(h.webhookSecret, h.logger))
			r.Post("/inbound", h.handleInbound)
			r.Post("/messages/{messageID}/delivered", h.handleDelivered)
		})
	})
}

func (h *Handler) authedUser(w http.ResponseWriter, r *http.Request) (domain.UserID, bool) {
	raw := middleware.GetUserID(r.Context())
	userID, err := domain.ParseUserID(raw)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "userID missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(r.Context()))
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return domain.UserID{}, false
	}
	return userID, true
}

type authorizeRequest struct {
	CounterpartyID string   `json:"counterparty_id,omitempty"`
	Scope          []string `json:"scope"`
	TTLHours       int      `json:"ttl_hours,omitempty"`
}

type authorizeResponse struct {
	GrantID       string    `json:"grant_id"`
	PlatformAlias string    `json:"platform_alias"`
	ValidUntil    time.Time `json:"valid_until"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	var counterpartyID domain.CounterpartyID
	if req.CounterpartyID != "" {
		var err error
		if counterpartyID, err = domain.ParseCounterpartyID(req.CounterpartyID); err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid counterparty id"))
			return
		}
	}

	auth, err := h.lifecycle.Authorize(ctx, userID, counterpartyID, req.Scope, time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		h.writeServiceError(ctx, w, "authorize failed", err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, authorizeResponse{
		GrantID:       auth.ID.String(),
		PlatformAlias: auth.PlatformAlias,
		ValidUntil:    auth.ValidUntil,
	})
}

type draftRequest struct {
	CounterpartyID   string `json:"counterparty_id"`
	RecipientAddress string `json:"recipient_address"`
	Subject          string `json:"subject"`
	Body             string `json:"body"`
}

type messageResponse struct {
	ID             string     `json:"id"`
	CounterpartyID string     `json:"counterparty_id"`
	Direction      string     `json:"direction"`
	Status         string     `json:"status"`
	Strategy       string     `json:"strategy"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
	ParsingResult  any        `json:"parsing_result,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type draftResponse struct {
	Message        messageResponse         `json:"message"`
	Recommendation learning.Recommendation `json:"recommendation"`
}

func toMessageResponse(msg lifecycle.Message) messageResponse {
	resp := messageResponse{
		ID:             msg.ID.String(),
		CounterpartyID: msg.CounterpartyID.String(),
		Direction:      string(msg.Direction),
		Status:         string(msg.Status),
		Strategy:       string(msg.StrategyUsed),
		Subject:        msg.Subject,
		Body:           msg.BodyContent,
		SentAt:         msg.SentAt,
		RespondedAt:    msg.RespondedAt,
		CreatedAt:      msg.CreatedAt,
	}
	if msg.ParsingResult != nil {
		resp.ParsingResult = msg.ParsingResult
	}
	return resp
}

func (h *Handler) handleDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	counterpartyID, err := domain.ParseCounterpartyID(req.CounterpartyID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid counterparty id"))
		return
	}
	if req.RecipientAddress == "" || req.Body == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "recipient_address and body are required"))
		return
	}

	msg, rec, err := h.lifecycle.Draft(ctx, userID, counterpartyID, lifecycle.DraftRequest{
		RecipientAddress: req.RecipientAddress,
		Subject:          req.Subject,
		Body:             req.Body,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "draft failed", err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, draftResponse{
		Message:        toMessageResponse(msg),
		Recommendation: rec,
	})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	messageID, err := domain.ParseMessageID(chi.URLParam(r, "messageID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid message id"))
		return
	}

	msg, err := h.lifecycle.Approve(ctx, messageID, userID)
	if err != nil {
		h.writeServiceError(ctx, w, "approve failed", err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, toMessageResponse(msg))
}

func (h *Handler) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	messageID, err := domain.ParseMessageID(chi.URLParam(r, "messageID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid message id"))
		return
	}

	msg, err := h.lifecycle.GetMessage(ctx, messageID, userID)
	if err != nil {
		h.writeServiceError(ctx, w, "get message failed", err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, toMessageResponse(msg))
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	msgs, err := h.lifecycle.ListMessages(ctx, userID)
	if err != nil {
		h.writeServiceError(ctx, w, "list messages failed", err)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toMessageResponse(msg))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

type inboundRequest struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	CounterpartyID string `json:"counterparty_id,omitempty"`
}

type inboundResponse struct {
	InboundID           string `json:"inbound_id"`
	CorrelatedMessageID string `json:"correlated_message_id,omitempty"`
	CorrelationMethod   string `json:"correlation_method"`
	RequiresHumanReview bool   `json:"requires_human_review"`
}

func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.From == "" || req.Body == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "from and body are required"))
		return
	}

	raw := lifecycle.InboundEmail{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
	}
	if req.CounterpartyID != "" {
		counterpartyID, err := domain.ParseCounterpartyID(req.CounterpartyID)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid counterparty id"))
			return
		}
		raw.CounterpartyID = counterpartyID
	}

	rec, err := h.lifecycle.IngestInbound(ctx, raw)
	if err != nil {
		h.writeServiceError(ctx, w, "inbound ingestion failed", err)
		return
	}

	resp := inboundResponse{
		InboundID:           rec.ID.String(),
		CorrelationMethod:   rec.CorrelationMethod,
		RequiresHumanReview: rec.RequiresHumanReview,
	}
	if !rec.CorrelatedMessageID.IsZero() {
		resp.CorrelatedMessageID = rec.CorrelatedMessageID.String()
	}
	shared.WriteJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) handleDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	messageID, err := domain.ParseMessageID(chi.URLParam(r, "messageID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid message id"))
		return
	}

	if err := h.lifecycle.ConfirmDelivery(ctx, messageID); err != nil {
		h.writeServiceError(ctx, w, "delivery confirmation failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	queue, err := h.lifecycle.ReviewQueue(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "review queue lookup failed", err)
		return
	}

	type reviewItem struct {
		InboundID           string    `json:"inbound_id"`
		CounterpartyID      string    `json:"counterparty_id,omitempty"`
		FromAddress         string    `json:"from_address"`
		Subject             string    `json:"subject"`
		CorrelationMethod   string    `json:"correlation_method"`
		RequiresHumanReview bool      `json:"requires_human_review"`
		ReceivedAt          time.Time `json:"received_at"`
	}
	out := make([]reviewItem, 0, len(queue))
	for _, rec := range queue {
		item := reviewItem{
			InboundID:           rec.ID.String(),
			FromAddress:         rec.FromAddress,
			Subject:             rec.Subject,
			CorrelationMethod:   rec.CorrelationMethod,
			RequiresHumanReview: rec.RequiresHumanReview,
			ReceivedAt:          rec.ReceivedAt,
		}
		if !rec.CounterpartyID.IsZero() {
			item.CounterpartyID = rec.CounterpartyID.String()
		}
		out = append(out, item)
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counterpartyID, err := domain.ParseCounterpartyID(chi.URLParam(r, "counterpartyID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid counterparty id"))
		return
	}

	summary, err := h.lifecycle.Summary(ctx, counterpartyID)
	if err != nil {
		h.writeServiceError(ctx, w, "summary lookup failed", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, summary)
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

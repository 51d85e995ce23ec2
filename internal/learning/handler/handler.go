// Package handler exposes the learning engine's read endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aegis/internal/learning"
	"aegis/internal/platform/metrics"
	"aegis/internal/platform/middleware"
	"aegis/internal/transport/http/shared"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// Service defines the learning operations the handler depends on.
type Service interface {
	GetOptimalStrategy(ctx context.Context, counterpartyID domain.CounterpartyID) (learning.Recommendation, error)
	GetStats(ctx context.Context, counterpartyID domain.CounterpartyID) ([]learning.StrategyStat, error)
	GetIntelligence(ctx context.Context, counterpartyID domain.CounterpartyID) (learning.Intelligence, error)
}

// Handler handles strategy and intelligence endpoints.
type Handler struct {
	logger       *slog.Logger
	learning     Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a learning Handler.
func New(learning Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		learning:     learning,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register attaches the learning routes to the parent router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(15 * time.Second))
		r.Use(middleware.LatencyMiddleware(h.metrics))
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Get("/strategies/{counterpartyID}", h.handleGetStrategy)
		r.Get("/strategies/{counterpartyID}/stats", h.handleGetStats)
		r.Get("/intelligence/{counterpartyID}", h.handleGetIntelligence)
	})
}

func counterpartyFromPath(r *http.Request) (domain.CounterpartyID, error) {
	return domain.ParseCounterpartyID(chi.URLParam(r, "counterpartyID"))
}

// handleGetStrategy returns the recommended strategy for a counterparty.
// It always yields a recommendation; cold-start callers get the default.
func (h *Handler) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counterpartyID, err := counterpartyFromPath(r)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid counterparty id"))
		return
	}

	rec, err := h.learning.GetOptimalStrategy(ctx, counterpartyID)
	if err != nil {
		h.logger.ErrorContext(ctx, "strategy lookup failed",
			"request_id", middleware.GetRequestID(ctx),
			"counterparty_id", counterpartyID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "strategy lookup failed"))
		return
	}

	shared.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counterpartyID, err := counterpartyFromPath(r)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid counterparty id"))
		return
	}

	stats, err := h.learning.GetStats(ctx, counterpartyID)
	if err != nil {
		h.logger.ErrorContext(ctx, "stats lookup failed",
			"request_id", middleware.GetRequestID(ctx),
			"counterparty_id", counterpartyID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "stats lookup failed"))
		return
	}
	if stats == nil {
		stats = []learning.StrategyStat{}
	}

	shared.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleGetIntelligence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counterpartyID, err := counterpartyFromPath(r)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid counterparty id"))
		return
	}

	intel, err := h.learning.GetIntelligence(ctx, counterpartyID)
	if err != nil {
		h.logger.ErrorContext(ctx, "intelligence lookup failed",
			"request_id", middleware.GetRequestID(ctx),
			"counterparty_id", counterpartyID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "intelligence lookup failed"))
		return
	}

	shared.WriteJSON(w, http.StatusOK, intel)
}

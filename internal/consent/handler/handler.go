package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ilm/internal/consent/models"
	"ilm/internal/platform/middleware"
	dErrors "ilm/pkg/domain-errors"
	"ilm/pkg/platform/httputil"
)

// Service defines the interface for consent operations.
type Service interface {
	Get(ctx context.Context, visitor string) (*models.Record, error)
	Set(ctx context.Context, visitor string, prefs models.Preferences) (*models.Record, error)
	Reset(ctx context.Context, visitor string) error
}

// Response is the body returned for a stored decision.
type Response struct {
	Consent *models.Record `json:"consent"`
	State   models.State   `json:"state"`
}

// Handler handles consent endpoints.
type Handler struct {
	logger  *slog.Logger
	consent Service
}

// New creates a new consent Handler.
func New(consent Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger:  logger,
		consent: consent,
	}
}

// Register registers the consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/consent", h.HandleGet)
	r.Put("/consent", h.HandleSet)
	r.Delete("/consent", h.HandleReset)
}

// HandleGet returns the visitor's decision, 404 when they have not decided.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}

	rec, err := h.consent.Get(ctx, visitor)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read consent",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if rec == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no consent decision recorded"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, Response{Consent: rec, State: models.StateOf(rec)})
}

// HandleSet replaces the visitor's decision with the submitted preferences.
func (h *Handler) HandleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}

	prefs, ok := httputil.DecodeJSON[models.Preferences](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rec, err := h.consent.Set(ctx, visitor, *prefs)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to save consent",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, Response{Consent: rec, State: models.StateOf(rec)})
}

// HandleReset deletes the decision so the banner is shown again.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}

	if err := h.consent.Reset(ctx, visitor); err != nil {
		h.logger.ErrorContext(ctx, "failed to reset consent",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireVisitor(w http.ResponseWriter, ctx context.Context) (string, bool) {
	visitor := middleware.GetVisitor(ctx)
	if visitor == "" {
		h.logger.ErrorContext(ctx, "visitor missing from context despite visitor middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "visitor context error"))
		return "", false
	}
	return visitor, true
}

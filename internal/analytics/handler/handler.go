package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ilm/internal/analytics/models"
	"ilm/internal/platform/middleware"
	dErrors "ilm/pkg/domain-errors"
	"ilm/pkg/platform/httputil"
)

// Service defines the analytics operations exposed over HTTP.
type Service interface {
	Record(ctx context.Context, visitor, eventType string, p models.Payload) (bool, error)
	Purge(ctx context.Context, visitor string) error
	SessionID(visitor string) string
}

// RecordRequest carries one event. Category selects the payload variant.
type RecordRequest struct {
	Category models.Category `json:"category"`
	Payload  json.RawMessage `json:"payload"`
}

func (r *RecordRequest) Validate() error {
	if r.Category == "" {
		return dErrors.New(dErrors.CodeValidation, "category is required")
	}
	return nil
}

// RecordResponse reports whether the event was kept. False means the visitor
// has not granted analytics or storage is unavailable.
type RecordResponse struct {
	Recorded bool `json:"recorded"`
}

type SessionResponse struct {
	SessionID string `json:"sessionId"`
}

type Handler struct {
	logger    *slog.Logger
	analytics Service
}

func New(analytics Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, analytics: analytics}
}

// Register registers the analytics routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/analytics/events/{type}", h.HandleRecord)
	r.Delete("/analytics", h.HandlePurge)
	r.Get("/analytics/session", h.HandleSession)
}

// HandleRecord validates and records one event.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}

	eventType := chi.URLParam(r, "type")
	if !models.ValidType(eventType) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid event type"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[RecordRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	payload, err := models.DecodePayload(req.Category, req.Payload)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid analytics payload",
			"request_id", requestID,
			"type", eventType,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid payload"))
		return
	}

	recorded, err := h.analytics.Record(ctx, visitor, eventType, payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to record analytics event",
			"request_id", requestID,
			"type", eventType,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RecordResponse{Recorded: recorded})
}

// HandlePurge deletes every stored analytics event for the visitor.
func (h *Handler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}
	if err := h.analytics.Purge(ctx, visitor); err != nil {
		h.logger.ErrorContext(ctx, "failed to purge analytics",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSession returns the analytics session id pages stamp onto payloads.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	visitor, ok := h.requireVisitor(w, r.Context())
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SessionResponse{SessionID: h.analytics.SessionID(visitor)})
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

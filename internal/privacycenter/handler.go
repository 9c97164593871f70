package privacycenter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ilm/internal/audit"
	"ilm/internal/platform/middleware"
	dErrors "ilm/pkg/domain-errors"
	"ilm/pkg/platform/clock"
	"ilm/pkg/platform/httputil"
)

type StoredResponse struct {
	Data map[string]string `json:"data"`
	Note string            `json:"note"`
}

type HistoryResponse struct {
	Events []audit.Event `json:"events"`
}

type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

const storedNote = "This data stays on your device and is not sent to our servers unless you " +
	"explicitly submit a booking form."

// Handler serves the privacy center endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register registers the privacy center routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/privacy", func(r chi.Router) {
		r.Get("/export", h.HandleExport)
		r.Get("/stored", h.HandleStored)
		r.Get("/cookies", h.HandleCookies)
		r.Get("/history", h.HandleHistory)
		r.Delete("/data", h.HandleDelete)
		r.Get("/cache", h.HandleCacheStatus)
		r.Post("/cache", h.HandleMaintainCache)
	})
}

// HandleExport returns the export as a dated JSON attachment.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}
	export, err := h.service.Export(ctx, visitor)
	if err != nil {
		h.fail(w, ctx, "failed to export visitor data", err)
		return
	}
	name := fmt.Sprintf("ilm-user-data-%s.json", clock.Now(ctx).UTC().Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	httputil.WriteJSON(w, http.StatusOK, export)
}

func (h *Handler) HandleStored(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}
	data, err := h.service.ViewStored(ctx, visitor)
	if err != nil {
		h.fail(w, ctx, "failed to read stored data", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StoredResponse{Data: data, Note: storedNote})
}

func (h *Handler) HandleCookies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}
	counts, err := h.service.CookieCounts(ctx, visitor)
	if err != nil {
		h.fail(w, ctx, "failed to count cookies", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, counts)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}
	events, err := h.service.History(ctx, visitor)
	if err != nil {
		h.fail(w, ctx, "failed to read history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{Events: events})
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}
	n, err := h.service.DeleteAll(ctx, visitor)
	if err != nil {
		h.fail(w, ctx, "failed to delete visitor data", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DeleteResponse{Deleted: n})
}

func (h *Handler) HandleCacheStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}
	status, err := h.service.CacheStatus(ctx, visitor)
	if err != nil {
		h.fail(w, ctx, "failed to read cache status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleMaintainCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}
	status, err := h.service.MaintainCache(ctx, visitor)
	if err != nil {
		h.fail(w, ctx, "failed to maintain cache", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) fail(w http.ResponseWriter, ctx context.Context, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", middleware.GetRequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
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

package notify

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ilm/internal/platform/middleware"
	dErrors "ilm/pkg/domain-errors"
	"ilm/pkg/platform/httputil"
)

type Response struct {
	Notifications []Notification `json:"notifications"`
}

// Handler lets the page collect pending toasts.
type Handler struct {
	queue  *Queue
	logger *slog.Logger
}

func NewHandler(queue *Queue, logger *slog.Logger) *Handler {
	return &Handler{queue: queue, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/notifications", h.HandleDrain)
}

// HandleDrain returns and clears the visitor's pending notifications.
func (h *Handler) HandleDrain(w http.ResponseWriter, r *http.Request) {
	visitor := middleware.GetVisitor(r.Context())
	if visitor == "" {
		h.logger.ErrorContext(r.Context(), "visitor missing from context despite visitor middleware",
			"request_id", middleware.GetRequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "visitor context error"))
		return
	}
	pending := h.queue.Drain(visitor)
	if pending == nil {
		pending = []Notification{}
	}
	httputil.WriteJSON(w, http.StatusOK, Response{Notifications: pending})
}

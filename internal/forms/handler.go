// Package forms is the HTTP surface for protected forms: it feeds behaviour
// events to the trackers, runs submissions through the spam gate and forwards
// accepted booking applications.
package forms

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ilm/internal/behavior"
	"ilm/internal/booking"
	"ilm/internal/platform/middleware"
	"ilm/internal/spam"
	dErrors "ilm/pkg/domain-errors"
	"ilm/pkg/platform/clock"
	"ilm/pkg/platform/httputil"
	"ilm/pkg/validation"
)

// Trackers is the behaviour registry.
type Trackers interface {
	Attach(visitor string, form behavior.FormSpec, device behavior.Device, now time.Time) behavior.State
	With(visitor, formID string, now time.Time, fn func(*behavior.Tracker) error) error
	Snapshot(visitor, formID string, now time.Time) (behavior.State, error)
}

// Gate decides submissions.
type Gate interface {
	Submit(ctx context.Context, visitor string, form spam.Form, now time.Time) (spam.Decision, error)
	Bypass(ctx context.Context, visitor, formID string, action spam.BypassAction, now time.Time) (spam.BypassOption, error)
}

// Booker forwards accepted booking applications.
type Booker interface {
	Submit(ctx context.Context, fields map[string]string) (*booking.Result, error)
}

type AttachRequest struct {
	Fields        []behavior.FieldSpec `json:"fields"`
	ViewportWidth int                  `json:"viewport_width"`
	Touch         bool                 `json:"touch"`
}

func (r *AttachRequest) Validate() error {
	if err := validation.CheckSliceCount("fields", len(r.Fields), validation.MaxFormFields); err != nil {
		return err
	}
	for _, f := range r.Fields {
		if err := validation.CheckStringLength("field name", f.Name, validation.MaxFieldNameLength); err != nil {
			return err
		}
	}
	return nil
}

type EventsRequest struct {
	Events []behavior.Event `json:"events"`
}

func (r *EventsRequest) Validate() error {
	return validation.CheckSliceCount("events", len(r.Events), validation.MaxEvents)
}

type EventsResponse struct {
	Accepted int            `json:"accepted"`
	Phase    behavior.Phase `json:"phase"`
}

type SubmitRequest struct {
	Fields []spam.Field `json:"fields"`
}

func (r *SubmitRequest) Validate() error {
	if err := validation.CheckSliceCount("fields", len(r.Fields), validation.MaxFormFields); err != nil {
		return err
	}
	for _, f := range r.Fields {
		if err := validation.CheckStringLength("field name", f.Name, validation.MaxFieldNameLength); err != nil {
			return err
		}
		if err := validation.CheckStringLength(f.Name, f.Value, validation.MaxFieldValueLength); err != nil {
			return err
		}
	}
	return nil
}

type BypassRequest struct {
	Action spam.BypassAction `json:"action"`
}

// BookingError is the page-facing view of a failed booking forward.
type BookingError struct {
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Redirect  string `json:"redirect,omitempty"`
	DismissMS int64  `json:"dismiss_ms,omitempty"`
}

type SubmitResponse struct {
	spam.Decision
	Booking      *booking.Result `json:"booking,omitempty"`
	BookingError *BookingError   `json:"booking_error,omitempty"`
}

type Handler struct {
	logger       *slog.Logger
	trackers     Trackers
	gate         Gate
	booker       Booker
	bookingForms map[string]bool
}

type Option func(*Handler)

// WithBooking forwards accepted submissions of formIDs through b.
func WithBooking(b Booker, formIDs ...string) Option {
	return func(h *Handler) {
		h.booker = b
		for _, id := range formIDs {
			h.bookingForms[id] = true
		}
	}
}

func New(trackers Trackers, gate Gate, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:       logger,
		trackers:     trackers,
		gate:         gate,
		bookingForms: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the form routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/forms/{formID}", func(r chi.Router) {
		r.Post("/", h.HandleAttach)
		r.Post("/events", h.HandleEvents)
		r.Post("/submit", h.HandleSubmit)
		r.Post("/bypass", h.HandleBypass)
	})
}

// HandleAttach starts tracking a form, replacing any earlier tracker for it.
func (h *Handler) HandleAttach(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AttachRequest](w, r, h.logger, ctx, middleware.GetRequestID(ctx))
	if !ok {
		return
	}

	spec := behavior.FormSpec{ID: chi.URLParam(r, "formID"), Fields: req.Fields}
	device := behavior.ResolveDevice(req.ViewportWidth, req.Touch, middleware.GetUserAgent(ctx))
	state := h.trackers.Attach(visitor, spec, device, clock.Now(ctx))
	httputil.WriteJSON(w, http.StatusCreated, state)
}

// HandleEvents applies a batch of input events. Every event is marked received
// at the request time; events without a client time also use it as At.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[EventsRequest](w, r, h.logger, ctx, middleware.GetRequestID(ctx))
	if !ok {
		return
	}

	now := clock.Now(ctx)
	var resp EventsResponse
	err := h.trackers.With(visitor, chi.URLParam(r, "formID"), now, func(t *behavior.Tracker) error {
		for _, e := range req.Events {
			e.Received = now
			if e.At.IsZero() {
				e.At = now
			}
			if t.Handle(e) {
				resp.Accepted++
			}
		}
		resp.Phase = t.Phase()
		return nil
	})
	if errors.Is(err, behavior.ErrNotAttached) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "form not attached"))
		return
	}
	if err != nil {
		h.fail(w, ctx, "failed to apply form events", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleSubmit runs the spam gate and, for booking forms, forwards the
// accepted application.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, middleware.GetRequestID(ctx))
	if !ok {
		return
	}

	now := clock.Now(ctx)
	form := spam.Form{ID: chi.URLParam(r, "formID"), Fields: h.withKinds(visitor, chi.URLParam(r, "formID"), req.Fields, now)}
	decision, err := h.gate.Submit(ctx, visitor, form, now)
	if err != nil {
		h.fail(w, ctx, "failed to evaluate submission", err)
		return
	}

	resp := SubmitResponse{Decision: decision}
	switch decision.Outcome {
	case spam.OutcomeRetry, spam.OutcomeBypassOffered:
		httputil.WriteJSON(w, http.StatusConflict, resp)
		return
	case spam.OutcomeRateLimited:
		if decision.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int((decision.RetryAfter+time.Second-1)/time.Second)))
		}
		httputil.WriteJSON(w, http.StatusTooManyRequests, resp)
		return
	}

	if h.booker == nil || !h.bookingForms[form.ID] {
		httputil.WriteJSON(w, http.StatusOK, resp)
		return
	}
	h.forwardBooking(w, ctx, form, resp)
}

func (h *Handler) forwardBooking(w http.ResponseWriter, ctx context.Context, form spam.Form, resp SubmitResponse) {
	fields := make(map[string]string, len(form.Fields))
	for _, f := range form.Fields {
		fields[f.Name] = f.Value
	}

	result, err := h.booker.Submit(ctx, fields)
	if err == nil {
		resp.Booking = result
		httputil.WriteJSON(w, http.StatusOK, resp)
		return
	}

	var se *booking.SubmitError
	if !errors.As(err, &se) {
		// Validation failures come back as domain errors.
		httputil.WriteError(w, err)
		return
	}
	resp.BookingError = &BookingError{
		Message:  se.Message,
		Severity: se.Severity.String(),
		Redirect: se.Redirect(),
	}
	if se.Severity == booking.SeverityRecoverable {
		resp.BookingError.DismissMS = booking.InlineErrorDismiss.Milliseconds()
	}
	httputil.WriteJSON(w, httputil.DomainCodeToHTTPStatus(se.Code), resp)
}

// withKinds fills missing field kinds from the tracker. Unknown fields count
// as text so content rules still see them.
func (h *Handler) withKinds(visitor, formID string, fields []spam.Field, now time.Time) []spam.Field {
	state, err := h.trackers.Snapshot(visitor, formID, now)
	out := make([]spam.Field, len(fields))
	for i, f := range fields {
		if f.Kind == "" {
			f.Kind = behavior.KindText
			if err == nil {
				if sig, ok := state.Field(f.Name); ok {
					f.Kind = sig.Kind
				}
			}
		}
		out[i] = f
	}
	return out
}

// HandleBypass applies a choice from the bypass dialog.
func (h *Handler) HandleBypass(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitor, ok := h.requireVisitor(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeJSON[BypassRequest](w, r, h.logger, ctx, middleware.GetRequestID(ctx))
	if !ok {
		return
	}
	opt, err := h.gate.Bypass(ctx, visitor, chi.URLParam(r, "formID"), req.Action, clock.Now(ctx))
	if err != nil {
		h.fail(w, ctx, "failed to apply bypass", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, opt)
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

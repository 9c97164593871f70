package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	dErrors "ilm/pkg/domain-errors"
	"ilm/pkg/validation"
)

// DecodeJSON reads one JSON document from the request body into a T. On
// failure it writes the error response and returns false:
// 413 when the body limit middleware cut the body short, 400 otherwise.
//
//	prefs, ok := httputil.DecodeJSON[models.Preferences](w, r, h.logger, ctx, requestID)
//	if !ok {
//	    return
//	}
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(&req)
	if err == nil && dec.More() {
		err = errors.New("unexpected data after JSON body")
	}
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestID,
			"path", r.URL.Path,
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, dErrors.New(dErrors.CodePayloadTooLarge, "request body too large"))
			return nil, false
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}
	return &req, true
}

// Validatable is implemented by request types that check their own limits,
// such as forms.SubmitRequest.
type Validatable interface {
	Validate() error
}

// Normalizable is implemented by request types that canonicalise values.
type Normalizable interface {
	Normalize()
}

// Sanitizable is implemented by request types that trim or strip input.
type Sanitizable interface {
	Sanitize()
}

// PrepareRequest runs Sanitize, Normalize and Validate, in that order, on the
// hooks req implements.
func PrepareRequest(req any) error {
	if s, ok := req.(Sanitizable); ok {
		s.Sanitize()
	}
	if n, ok := req.(Normalizable); ok {
		n.Normalize()
	}
	if v, ok := req.(Validatable); ok {
		return v.Validate()
	}
	return nil
}

// DecodeAndPrepare decodes like DecodeJSON and then prepares the request.
// Coded errors from Validate keep their code. Validator failures are reported
// as CodeValidation with the first failing field. Any other error also becomes
// CodeValidation.
//
//	req, ok := httputil.DecodeAndPrepare[forms.AttachRequest](w, r, h.logger, ctx, requestID)
//	if !ok {
//	    return
//	}
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req, ok := DecodeJSON[T](w, r, logger, ctx, requestID)
	if !ok {
		return nil, false
	}
	if err := PrepareRequest(req); err != nil {
		logger.WarnContext(ctx, "request rejected",
			"error", err,
			"request_id", requestID,
			"path", r.URL.Path,
		)
		WriteError(w, preparationError(err))
		return nil, false
	}
	return req, true
}

func preparationError(err error) error {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return dErrors.Wrap(err, dErrors.CodeValidation, validation.ErrorMessage(err))
	}
	return dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
}

package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"ilm/internal/platform/tracer"
	dErrors "ilm/pkg/domain-errors"
)

const (
	DefaultTimeout = 30 * time.Second
	ErrorPage      = "/error"
	// InlineErrorDismiss is how long a recoverable error stays on the form.
	InlineErrorDismiss = 5 * time.Second

	maxResponseBytes = 1 << 20

	msgTimeout  = "Submission timed out. Please check your internet connection and try again."
	msgNetwork  = "Network error. Please check your internet connection and try again."
	msgFailed   = "Submission failed"
	msgFallback = "There was an error submitting your application. Please try again or contact us directly."
)

// Severity decides how a failed submission is shown.
type Severity int

const (
	// SeverityRecoverable is shown inline and the visitor may resubmit.
	SeverityRecoverable Severity = iota
	// SeveritySevere sends the visitor to the error page.
	SeveritySevere
)

func (s Severity) String() string {
	if s == SeveritySevere {
		return "severe"
	}
	return "recoverable"
}

// SubmitError is a classified submission failure.
type SubmitError struct {
	Severity   Severity
	Code       dErrors.Code
	Message    string
	StatusCode int
	Err        error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Redirect is the page a severe failure sends the visitor to.
func (e *SubmitError) Redirect() string {
	if e.Severity == SeveritySevere {
		return ErrorPage
	}
	return ""
}

// Result is a successful submission.
type Result struct {
	ApplicationID string `json:"applicationId"`
	Redirect      string `json:"redirect"`
}

type response struct {
	Success       bool   `json:"success"`
	ApplicationID string `json:"applicationId"`
	Message       string `json:"message"`
	Error         string `json:"error"`
}

// Client posts applications to the booking endpoint.
type Client struct {
	endpoint string
	anonKey  string
	http     *http.Client
	timeout  time.Duration
	tracer   tracer.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(cl *Client) {
		if t != nil {
			cl.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		if now != nil {
			cl.now = now
		}
	}
}

// NewClient posts to endpoint authenticating with anonKey as both the apikey
// header and a bearer token.
func NewClient(endpoint, anonKey string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		anonKey:  anonKey,
		http:     &http.Client{},
		timeout:  DefaultTimeout,
		tracer:   tracer.NewNoop(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit normalizes and validates fields, then posts them. Validation failures
// are domain errors; every failure after that is a *SubmitError.
func (c *Client) Submit(ctx context.Context, fields map[string]string) (result *Result, err error) {
	fields = NormalizeFields(fields)
	if !IsApplicationID(fields[FieldApplicationID]) {
		fields[FieldApplicationID] = GenerateApplicationID(c.now())
	}
	app, err := ParseApplication(fields)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, tracer.SpanBookingSubmit,
		tracer.String(tracer.AttrApplicationID, app.ApplicationID),
		tracer.String(tracer.AttrEmailHash, tracer.HashEmail(app.Email)),
	)
	defer func() { span.End(err) }()

	resp, err := c.post(ctx, fields)
	if err != nil {
		var se *SubmitError
		if errors.As(err, &se) {
			span.SetAttributes(tracer.String(tracer.AttrSeverity, se.Severity.String()))
		}
		c.logger.WarnContext(ctx, "booking submission failed",
			"application_id", app.ApplicationID,
			"error", err,
		)
		return nil, err
	}

	id := resp.ApplicationID
	if id == "" {
		id = app.ApplicationID
	}
	c.logger.InfoContext(ctx, "booking submitted", "application_id", id)
	return &Result{
		ApplicationID: id,
		Redirect:      "/success?id=" + url.QueryEscape(id),
	}, nil
}

func (c *Client) post(ctx context.Context, fields map[string]string) (*response, error) {
	if c.endpoint == "" {
		return nil, &SubmitError{Severity: SeveritySevere, Code: dErrors.CodeInternal, Message: msgFallback,
			Err: errors.New("booking endpoint not configured")}
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, &SubmitError{Severity: SeverityRecoverable, Code: dErrors.CodeInternal, Message: msgFallback, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, tracer.SpanBookingCall, tracer.Duration("timeout_ms", c.timeout))
	var callErr error
	defer func() { span.End(callErr) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		callErr = &SubmitError{Severity: SeveritySevere, Code: dErrors.CodeInternal, Message: msgFallback, Err: err}
		return nil, callErr
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.anonKey)

	httpResp, err := c.http.Do(req)
	if err != nil {
		callErr = classifyTransport(err)
		return nil, callErr
	}
	defer httpResp.Body.Close()
	span.SetAttributes(tracer.Int(tracer.AttrStatusCode, httpResp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		callErr = classifyTransport(err)
		return nil, callErr
	}
	var out response
	decodeErr := json.Unmarshal(raw, &out)

	status := httpResp.StatusCode
	switch {
	case status == http.StatusNotFound || status >= http.StatusInternalServerError:
		callErr = &SubmitError{
			Severity:   SeveritySevere,
			Code:       dErrors.CodeUpstream,
			Message:    firstNonEmpty(out.Error, fmt.Sprintf("HTTP %d", status)),
			StatusCode: status,
		}
		return nil, callErr
	case status < 200 || status > 299 || !out.Success:
		msg := out.Error
		if msg == "" && decodeErr != nil && status >= 200 && status <= 299 {
			msg = msgFallback
		}
		callErr = &SubmitError{
			Severity:   SeverityRecoverable,
			Code:       dErrors.CodeUpstreamRejected,
			Message:    firstNonEmpty(msg, msgFailed),
			StatusCode: status,
			Err:        decodeErr,
		}
		return nil, callErr
	}
	return &out, nil
}

func classifyTransport(err error) *SubmitError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &SubmitError{Severity: SeveritySevere, Code: dErrors.CodeTimeout, Message: msgTimeout, Err: err}
	}
	return &SubmitError{Severity: SeveritySevere, Code: dErrors.CodeUpstream, Message: msgNetwork, Err: err}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package spam

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ilm/internal/behavior"
	"ilm/internal/notify"
	"ilm/internal/ratelimit"
	dErrors "ilm/pkg/domain-errors"
	psync "ilm/pkg/platform/sync"
)

const (
	msgFlagged = "Security check triggered. Please review your information and try again. " +
		"If you continue to have issues, please contact us directly."
	msgTip = "Tips: Ensure your message doesn't contain excessive links or repeated characters. " +
		"Take your time filling out the form."
	msgRateLimited = "Too many submission attempts. Please wait before trying again."
	msgRetry       = "Form cleared. Please try again."
	msgBypass      = "Our security system has flagged your submission. If you're a genuine user " +
		"experiencing this issue, we apologize for the inconvenience."
)

// Outcome is the gate's decision for one submission attempt.
type Outcome string

const (
	OutcomeAccepted      Outcome = "accepted"
	OutcomeRetry         Outcome = "retry"
	OutcomeBypassOffered Outcome = "bypass_offered"
	OutcomeRateLimited   Outcome = "rate_limited"
)

// BypassAction is a choice offered after a repeated flag.
type BypassAction string

const (
	BypassContact BypassAction = "contact"
	BypassRetry   BypassAction = "retry"
	BypassSimple  BypassAction = "simple"
)

// BypassOption describes one choice in the bypass dialog.
type BypassOption struct {
	Action      BypassAction `json:"action"`
	Label       string       `json:"label"`
	Description string       `json:"description"`
	// Redirect is where the page navigates, empty when it stays put.
	Redirect string `json:"redirect,omitempty"`
}

// BypassOptions are the choices offered after a second flag.
var BypassOptions = []BypassOption{
	{Action: BypassContact, Label: "Contact Us Directly", Description: "Call or email us with your inquiry", Redirect: "#contact"},
	{Action: BypassRetry, Label: "Try Again", Description: "Clear form data and start fresh"},
	{Action: BypassSimple, Label: "Send Simple Message", Description: "Use a basic contact form", Redirect: "index.html#contact"},
}

func bypassOption(a BypassAction) (BypassOption, bool) {
	for _, o := range BypassOptions {
		if o.Action == a {
			return o, true
		}
	}
	return BypassOption{}, false
}

// FormSubmissionState is what the gate remembers between attempts on one form.
type FormSubmissionState struct {
	Flagged bool `json:"flagged"`
}

// Decision is returned for every submission attempt.
type Decision struct {
	Outcome    Outcome        `json:"outcome"`
	Verdict    Verdict        `json:"verdict"`
	Message    string         `json:"message,omitempty"`
	Options    []BypassOption `json:"options,omitempty"`
	RetryAfter time.Duration  `json:"-"`
}

// Accepted reports whether the submission may be forwarded.
func (d Decision) Accepted() bool { return d.Outcome == OutcomeAccepted }

// Gate applies the heuristics and the retry and bypass policy around them.
type Gate struct {
	heuristics *Heuristics
	rules      RulesSource
	trackers   *behavior.Registry
	limiter    ratelimit.Limiter
	notifier   notify.Notifier
	metrics    *Metrics
	logger     *slog.Logger

	locks  *psync.ShardedMutex
	mu     sync.Mutex
	states map[string]FormSubmissionState
}

type GateOption func(*Gate)

func WithNotifier(n notify.Notifier) GateOption {
	return func(g *Gate) {
		if n != nil {
			g.notifier = n
		}
	}
}

func WithMetrics(m *Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// NewGate wires a gate. Submission state is forgotten when the registry evicts
// the form's tracker.
func NewGate(
	rules RulesSource,
	trackers *behavior.Registry,
	limiter ratelimit.Limiter,
	logger *slog.Logger,
	opts ...GateOption,
) *Gate {
	if rules == nil {
		rules = StaticRules(DefaultRules())
	}
	g := &Gate{
		heuristics: NewHeuristics(rules),
		rules:      rules,
		trackers:   trackers,
		limiter:    limiter,
		notifier:   notify.Discard{},
		logger:     logger,
		locks:      psync.NewShardedMutex(0),
		states:     make(map[string]FormSubmissionState),
	}
	for _, opt := range opts {
		opt(g)
	}
	trackers.OnEvict(g.forget)
	return g
}

func stateKey(visitor, formID string) string {
	return visitor + "/" + formID
}

// State returns the remembered submission state for a form.
func (g *Gate) State(visitor, formID string) FormSubmissionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[stateKey(visitor, formID)]
}

func (g *Gate) setState(visitor, formID string, s FormSubmissionState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s == (FormSubmissionState{}) {
		delete(g.states, stateKey(visitor, formID))
		return
	}
	g.states[stateKey(visitor, formID)] = s
}

func (g *Gate) forget(visitor, formID string) {
	g.setState(visitor, formID, FormSubmissionState{})
}

// Submit decides one submission attempt. A form that was never attached is
// evaluated without behaviour signals, so only content rules apply to it.
func (g *Gate) Submit(ctx context.Context, visitor string, form Form, now time.Time) (Decision, error) {
	if visitor == "" || form.ID == "" {
		return Decision{}, dErrors.New(dErrors.CodeBadRequest, "visitor and form id are required")
	}
	key := stateKey(visitor, form.ID)
	g.locks.Lock(key)
	defer g.locks.Unlock(key)

	snapshot, err := g.trackers.Snapshot(visitor, form.ID, now)
	if err != nil && !errors.Is(err, behavior.ErrNotAttached) {
		return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read form signals")
	}

	verdict := g.heuristics.Evaluate(form, snapshot, now)
	var d Decision
	if verdict.IsSpam {
		d = g.flag(ctx, visitor, form.ID, verdict)
	} else {
		d = g.admit(ctx, visitor, form.ID, now)
		d.Verdict = verdict
	}
	g.metrics.observeOutcome(d.Outcome)
	return d, nil
}

func (g *Gate) flag(ctx context.Context, visitor, formID string, v Verdict) Decision {
	g.metrics.observeVerdict(v)
	state := g.State(visitor, formID)

	g.logger.InfoContext(ctx, "submission flagged",
		"visitor", visitor,
		"form_id", formID,
		"reasons", v.Reasons,
		"repeat", state.Flagged,
	)

	if !state.Flagged {
		g.setState(visitor, formID, FormSubmissionState{Flagged: true})
		g.notifier.Notify(ctx, visitor, notify.Warning(msgFlagged))
		g.notifier.Notify(ctx, visitor, notify.Info(msgTip).After(g.rules.Rules().TipDelay))
		return Decision{Outcome: OutcomeRetry, Verdict: v, Message: msgFlagged}
	}

	options := make([]BypassOption, len(BypassOptions))
	copy(options, BypassOptions)
	return Decision{Outcome: OutcomeBypassOffered, Verdict: v, Message: msgBypass, Options: options}
}

func (g *Gate) admit(ctx context.Context, visitor, formID string, now time.Time) Decision {
	rules := g.rules.Rules()
	res, err := g.limiter.Allow(ctx, stateKey(visitor, formID), rules.SubmitLimit, rules.SubmitWindow, now)
	if err != nil {
		// The limiter is advisory; an unreachable backend must not block visitors.
		g.logger.WarnContext(ctx, "submission rate limit check failed",
			"visitor", visitor,
			"form_id", formID,
			"error", err,
		)
		res = ratelimit.Result{Allowed: true}
	}
	if !res.Allowed {
		g.notifier.Notify(ctx, visitor, notify.Warning(msgRateLimited))
		return Decision{Outcome: OutcomeRateLimited, Message: msgRateLimited, RetryAfter: res.RetryAfter}
	}

	err = g.trackers.With(visitor, formID, now, func(t *behavior.Tracker) error {
		t.Handle(behavior.Event{Kind: behavior.EventSubmit, At: now})
		return nil
	})
	if err != nil && !errors.Is(err, behavior.ErrNotAttached) {
		g.logger.WarnContext(ctx, "failed to mark form submitted", "form_id", formID, "error", err)
	}
	return Decision{Outcome: OutcomeAccepted}
}

// Bypass applies a choice from the bypass dialog. Retry clears the flag and
// restarts behaviour tracking; the other actions only redirect. No choice
// exempts later submissions from the heuristics.
func (g *Gate) Bypass(ctx context.Context, visitor, formID string, action BypassAction, now time.Time) (BypassOption, error) {
	opt, ok := bypassOption(action)
	if !ok {
		return BypassOption{}, dErrors.New(dErrors.CodeBadRequest, "unknown bypass action")
	}
	if visitor == "" || formID == "" {
		return BypassOption{}, dErrors.New(dErrors.CodeBadRequest, "visitor and form id are required")
	}
	g.metrics.observeBypass(action)

	if action != BypassRetry {
		return opt, nil
	}

	key := stateKey(visitor, formID)
	g.locks.Lock(key)
	defer g.locks.Unlock(key)

	g.forget(visitor, formID)
	err := g.trackers.With(visitor, formID, now, func(t *behavior.Tracker) error {
		t.Reset()
		return nil
	})
	if err != nil && !errors.Is(err, behavior.ErrNotAttached) {
		return BypassOption{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset form")
	}
	g.notifier.Notify(ctx, visitor, notify.Success(msgRetry))
	g.logger.InfoContext(ctx, "form reset after bypass", "visitor", visitor, "form_id", formID)
	return opt, nil
}

// Package spam decides whether a form submission looks automated and owns the
// retry and bypass policy around that decision.
package spam

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"ilm/internal/behavior"
)

// Reason identifies the rule that flagged a submission.
type Reason string

const (
	ReasonHoneypot       Reason = "honeypot"
	ReasonSpamKeywords   Reason = "spam_keywords"
	ReasonExcessiveURLs  Reason = "excessive_urls"
	ReasonExcessiveEmail Reason = "excessive_emails"
	ReasonRepeatedChars  Reason = "repeated_characters"
	ReasonTooFast        Reason = "too_fast"
	ReasonRoboticTyping  Reason = "robotic_typing"
)

var (
	urlPattern   = regexp.MustCompile(`(?i)https?://[^\s]+`)
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
)

// Field is one submitted field.
type Field struct {
	Name  string             `json:"name"`
	Kind  behavior.FieldKind `json:"kind"`
	Value string             `json:"value"`
}

// Form is a submitted form.
type Form struct {
	ID     string  `json:"id"`
	Fields []Field `json:"fields"`
}

// Value returns a field's value.
func (f Form) Value(name string) (string, bool) {
	for _, fld := range f.Fields {
		if fld.Name == name {
			return fld.Value, true
		}
	}
	return "", false
}

// Verdict is derived fresh on every attempt and never persisted.
type Verdict struct {
	IsSpam  bool     `json:"is_spam"`
	Reasons []Reason `json:"reasons,omitempty"`
	// Field names the field that tripped a content rule.
	Field string `json:"field,omitempty"`
}

func flagged(reason Reason, field string) Verdict {
	return Verdict{IsSpam: true, Reasons: []Reason{reason}, Field: field}
}

// Heuristics evaluates submissions against the rules in force.
type Heuristics struct {
	rules RulesSource
}

// NewHeuristics creates an evaluator. A nil source uses DefaultRules.
func NewHeuristics(rules RulesSource) *Heuristics {
	if rules == nil {
		rules = StaticRules(DefaultRules())
	}
	return &Heuristics{rules: rules}
}

// Evaluate checks the honeypot, field content, fill time and typing cadence in
// that order. Any one rule is sufficient and the first match is returned.
func (h *Heuristics) Evaluate(form Form, state behavior.State, now time.Time) Verdict {
	r := h.rules.Rules()

	if v, ok := form.Value(r.HoneypotField); ok && strings.TrimSpace(v) != "" {
		return flagged(ReasonHoneypot, r.HoneypotField)
	}

	for _, f := range form.Fields {
		if !f.Kind.TypingTracked() || f.Name == r.HoneypotField {
			continue
		}
		if reason, hit := checkContent(r, strings.ToLower(f.Value)); hit {
			return flagged(reason, f.Name)
		}
	}

	if elapsed, ok := state.Elapsed(now); ok && elapsed < r.MinFillTime {
		return flagged(ReasonTooFast, "")
	}

	if roboticTyping(state, r.HoneypotField) {
		return flagged(ReasonRoboticTyping, "")
	}
	return Verdict{}
}

func checkContent(r Rules, value string) (Reason, bool) {
	if value == "" {
		return "", false
	}
	matched := 0
	for _, k := range r.Keywords {
		if strings.Contains(value, k) {
			matched++
		}
	}
	if matched >= r.KeywordThreshold {
		return ReasonSpamKeywords, true
	}
	if len(urlPattern.FindAllStringIndex(value, -1)) > r.MaxURLs {
		return ReasonExcessiveURLs, true
	}
	if len(emailPattern.FindAllStringIndex(value, -1)) > r.MaxEmails {
		return ReasonExcessiveEmail, true
	}
	if longestRun(value) >= r.RepeatRun {
		return ReasonRepeatedChars, true
	}
	return "", false
}

// longestRun returns the length of the longest run of one repeated rune.
func longestRun(s string) int {
	longest, run := 0, 0
	var prev rune = utf8.RuneError
	for i, c := range s {
		if i > 0 && c == prev {
			run++
		} else {
			run = 1
		}
		prev = c
		if run > longest {
			longest = run
		}
	}
	return longest
}

// roboticTyping flags only when every tracked text and textarea field typed
// suspiciously and there is more than one of them. The honeypot is never typed
// into by a person, so it does not count.
func roboticTyping(state behavior.State, honeypot string) bool {
	total, suspicious := 0, 0
	for _, f := range state.Fields {
		if f.Kind != behavior.KindText && f.Kind != behavior.KindTextarea {
			continue
		}
		if f.Name == honeypot {
			continue
		}
		total++
		if f.SuspiciousTyping {
			suspicious++
		}
	}
	return total > 1 && suspicious == total
}

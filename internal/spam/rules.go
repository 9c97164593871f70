package spam

import (
	"time"

	s "ilm/pkg/string"
)

// Rules are the tunable thresholds of the heuristics.
type Rules struct {
	HoneypotField string `yaml:"honeypot_field"`

	Keywords []string `yaml:"keywords"`
	// KeywordThreshold is how many distinct keywords in one field flag it.
	KeywordThreshold int `yaml:"keyword_threshold"`
	// MaxURLs and MaxEmails are the most occurrences one field may hold.
	MaxURLs   int `yaml:"max_urls"`
	MaxEmails int `yaml:"max_emails"`
	// RepeatRun is the shortest run of one character that flags a field.
	RepeatRun int `yaml:"repeat_run"`

	MinFillTime time.Duration `yaml:"min_fill_time"`

	SubmitLimit  int           `yaml:"submit_limit"`
	SubmitWindow time.Duration `yaml:"submit_window"`

	// TipDelay postpones the follow-up tip shown after a first flag.
	TipDelay time.Duration `yaml:"tip_delay"`
}

// DefaultKeywords is the built-in keyword list.
var DefaultKeywords = []string{
	"viagra",
	"casino",
	"lottery",
	"make money fast",
	"free money",
	"investment opportunity",
	"click here now",
	"congratulations you won",
	"urgent response required",
	"limited time offer",
}

// DefaultRules returns the built-in rules.
func DefaultRules() Rules {
	return Rules{
		HoneypotField:    "website",
		Keywords:         append([]string(nil), DefaultKeywords...),
		KeywordThreshold: 2,
		MaxURLs:          5,
		MaxEmails:        3,
		RepeatRun:        11,
		MinFillTime:      time.Second,
		SubmitLimit:      3,
		SubmitWindow:     time.Minute,
		TipDelay:         3 * time.Second,
	}
}

// withDefaults fills zero values from DefaultRules and lowercases and dedupes keywords.
func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if r.HoneypotField == "" {
		r.HoneypotField = d.HoneypotField
	}
	if len(r.Keywords) == 0 {
		r.Keywords = d.Keywords
	}
	r.Keywords = s.DedupeAndTrimLower(r.Keywords)
	if r.KeywordThreshold <= 0 {
		r.KeywordThreshold = d.KeywordThreshold
	}
	if r.MaxURLs <= 0 {
		r.MaxURLs = d.MaxURLs
	}
	if r.MaxEmails <= 0 {
		r.MaxEmails = d.MaxEmails
	}
	if r.RepeatRun <= 1 {
		r.RepeatRun = d.RepeatRun
	}
	if r.MinFillTime <= 0 {
		r.MinFillTime = d.MinFillTime
	}
	if r.SubmitLimit <= 0 {
		r.SubmitLimit = d.SubmitLimit
	}
	if r.SubmitWindow <= 0 {
		r.SubmitWindow = d.SubmitWindow
	}
	if r.TipDelay <= 0 {
		r.TipDelay = d.TipDelay
	}
	return r
}

// RulesSource supplies the rules in force.
type RulesSource interface {
	Rules() Rules
}

// StaticRules is a fixed RulesSource.
type StaticRules Rules

func (s StaticRules) Rules() Rules { return Rules(s).withDefaults() }

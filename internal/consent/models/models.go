package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version stamps every stored record so older shapes can be migrated.
const Version = "2.0"

// TimestampLayout is ISO-8601 with millisecond precision in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Record is the visitor's decision about non-essential data categories.
// Necessary storage is always implied and never recorded.
//
// A Record is never partially updated: every preference change replaces the
// whole record, and the replacement is written under both the canonical and the
// legacy key.
type Record struct {
	Functional bool   `json:"functional"`
	Analytics  bool   `json:"analytics"`
	Marketing  bool   `json:"marketing"`
	Timestamp  string `json:"timestamp"`
	Version    string `json:"version"`
}

// Preferences is a possibly partial preference change. Nil fields take defaults.
type Preferences struct {
	Functional *bool `json:"functional,omitempty"`
	Analytics  *bool `json:"analytics,omitempty"`
	Marketing  *bool `json:"marketing,omitempty"`
}

// AcceptAll is the banner "Accept All" choice.
func AcceptAll() Preferences {
	return Preferences{Functional: ptr(true), Analytics: ptr(true), Marketing: ptr(true)}
}

// DeclineAll is the banner "Decline" choice.
func DeclineAll() Preferences {
	return Preferences{Functional: ptr(false), Analytics: ptr(false), Marketing: ptr(false)}
}

// NewRecord normalizes p: functional defaults to true unless explicitly false,
// analytics and marketing default to false unless explicitly true.
func NewRecord(p Preferences, now time.Time) Record {
	return Record{
		Functional: p.Functional == nil || *p.Functional,
		Analytics:  p.Analytics != nil && *p.Analytics,
		Marketing:  p.Marketing != nil && *p.Marketing,
		Timestamp:  now.UTC().Format(TimestampLayout),
		Version:    Version,
	}
}

// AnalyticsGranted reports whether r permits analytics collection. A nil record
// (no decision yet) never does.
func (r *Record) AnalyticsGranted() bool {
	return r != nil && r.Analytics
}

// State is the consent lifecycle state.
type State string

const (
	StateUnset       State = "unset"
	StateAcceptedAll State = "accepted_all"
	StateDeclined    State = "declined"
	StateCustomized  State = "customized"
)

// StateOf classifies a record. Any state can move to any other through an
// explicit visitor action.
func StateOf(r *Record) State {
	switch {
	case r == nil:
		return StateUnset
	case r.Functional && r.Analytics && r.Marketing:
		return StateAcceptedAll
	case !r.Functional && !r.Analytics && !r.Marketing:
		return StateDeclined
	default:
		return StateCustomized
	}
}

// ChoiceCode encodes the raw preferences as three letters, uppercase when the
// category was explicitly granted ("FAM", "Fam", "fam", ...). It records what the
// visitor clicked, not the normalized result.
func ChoiceCode(p Preferences) string {
	code := []byte("fam")
	if p.Functional != nil && *p.Functional {
		code[0] = 'F'
	}
	if p.Analytics != nil && *p.Analytics {
		code[1] = 'A'
	}
	if p.Marketing != nil && *p.Marketing {
		code[2] = 'M'
	}
	return string(code)
}

// ChoiceStats is the anonymous frequency counter of banner choices. It is stored
// flat, e.g. {"FAM": 3, "fam": 1, "lastUpdated": 1705312800000}.
type ChoiceStats struct {
	Counts      map[string]int
	LastUpdated int64
}

const lastUpdatedKey = "lastUpdated"

func (c ChoiceStats) MarshalJSON() ([]byte, error) {
	flat := make(map[string]int64, len(c.Counts)+1)
	for code, n := range c.Counts {
		flat[code] = int64(n)
	}
	flat[lastUpdatedKey] = c.LastUpdated
	return json.Marshal(flat)
}

func (c *ChoiceStats) UnmarshalJSON(data []byte) error {
	var flat map[string]int64
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("decode choice stats: %w", err)
	}
	c.Counts = make(map[string]int, len(flat))
	for k, v := range flat {
		if k == lastUpdatedKey {
			c.LastUpdated = v
			continue
		}
		c.Counts[k] = int(v)
	}
	return nil
}

func ptr(b bool) *bool { return &b }

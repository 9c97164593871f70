package behavior

import (
	"time"
)

// State is a point-in-time copy of a tracker's signals. It is what the spam
// heuristics evaluate and is never persisted.
type State struct {
	FormID    string     `json:"form_id"`
	Phase     Phase      `json:"phase"`
	StartTime *time.Time `json:"start_time,omitempty"`
	// Duration is start to submit or abandon, zero while tracking.
	Duration              time.Duration  `json:"-"`
	MouseMovementCount    int            `json:"mouse_movement_count"`
	TouchInteractionCount int            `json:"touch_interaction_count"`
	Mobile                bool           `json:"mobile"`
	Fields                []FieldSignals `json:"fields"`
}

// FieldSignals are the per-field signals. Values are never recorded.
type FieldSignals struct {
	Name               string    `json:"name"`
	Kind               FieldKind `json:"kind"`
	Keystrokes         int       `json:"keystrokes"`
	KeystrokeIntervals []int64   `json:"keystroke_intervals,omitempty"`
	SuspiciousTyping   bool      `json:"suspicious_typing"`
	Inputs             int       `json:"inputs"`
	Errors             int       `json:"errors"`
}

// TypingFields returns the fields whose cadence is analysed.
func (s State) TypingFields() []FieldSignals {
	var out []FieldSignals
	for _, f := range s.Fields {
		if f.Kind.TypingTracked() {
			out = append(out, f)
		}
	}
	return out
}

// Field returns the signals of a named field.
func (s State) Field(name string) (FieldSignals, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSignals{}, false
}

// Elapsed is the time since the first interaction, or false when the visitor
// never interacted.
func (s State) Elapsed(now time.Time) (time.Duration, bool) {
	if s.StartTime == nil {
		return 0, false
	}
	return now.Sub(*s.StartTime), true
}

// Package behavior accumulates passive interaction signals for one form: when the
// visitor started, how they type, and whether they move a mouse or touch the screen.
// The signals feed the spam heuristics and form analytics.
package behavior

import (
	"time"
)

// Typing cadence thresholds.
const (
	minIntervalsAnalysed = 10 // analysis starts when more than this many intervals exist
	minIntervalsFlagged  = 20 // flagging needs more than this many
	maxVarianceMS2       = 5.0
	maxMeanMS            = 30.0
)

// FieldKind is the HTML input type of a field.
type FieldKind string

const (
	KindText     FieldKind = "text"
	KindEmail    FieldKind = "email"
	KindTextarea FieldKind = "textarea"
	KindTel      FieldKind = "tel"
	KindPassword FieldKind = "password"
	KindCheckbox FieldKind = "checkbox"
	KindSelect   FieldKind = "select"
	KindHidden   FieldKind = "hidden"
	KindDate     FieldKind = "date"
)

// TypingTracked reports whether keystroke cadence is analysed for the kind.
func (k FieldKind) TypingTracked() bool {
	return k == KindText || k == KindEmail || k == KindTextarea
}

// FieldSpec describes one field of a form.
type FieldSpec struct {
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
}

// FormSpec describes the fields of a tracked form.
type FormSpec struct {
	ID     string      `json:"id"`
	Fields []FieldSpec `json:"fields"`
}

// Phase is the tracker lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseTracking  Phase = "tracking"
	PhaseSubmitted Phase = "submitted"
	PhaseAbandoned Phase = "abandoned"
)

// Terminal reports whether no further events are accepted.
func (p Phase) Terminal() bool {
	return p == PhaseSubmitted || p == PhaseAbandoned
}

// EventKind is a discrete input event.
type EventKind string

const (
	EventFocus     EventKind = "focus"
	EventInput     EventKind = "input"
	EventKeyDown   EventKind = "keydown"
	EventMouseMove EventKind = "mousemove"
	EventTouch     EventKind = "touch"
	EventInvalid   EventKind = "invalid"
	EventSubmit    EventKind = "submit"
	EventUnload    EventKind = "unload"
)

// Event is one input event. Field is empty for form-level events.
//
// At is the client's clock and is only compared with other client times
// (keystroke intervals). Received is the server time the event arrived; the
// fill time is measured on it so client clock skew cannot move the start.
type Event struct {
	Kind     EventKind `json:"kind"`
	Field    string    `json:"field,omitempty"`
	At       time.Time `json:"at"`
	Received time.Time `json:"-"`
}

// serverTime is Received, or At when the event was generated server side.
func (e Event) serverTime() time.Time {
	if !e.Received.IsZero() {
		return e.Received
	}
	return e.At
}

type fieldState struct {
	spec        FieldSpec
	keystrokes  int
	intervals   []int64
	lastKeyDown time.Time
	suspicious  bool
	inputs      int
	errors      int
}

// Tracker holds the signals of one form instance. It is a state machine driven
// by Handle: Idle moves to Tracking on the first focus or input, and Tracking
// ends in Submitted or Abandoned. A Tracker is not safe for concurrent use.
type Tracker struct {
	form   FormSpec
	device Device
	phase  Phase

	startTime  time.Time
	hasStarted bool
	endTime    time.Time

	fields     map[string]*fieldState
	order      []string
	mouseMoves int
	touches    int
}

// NewTracker attaches a tracker to a form. Each form gets its own tracker.
func NewTracker(form FormSpec, device Device) *Tracker {
	t := &Tracker{
		form:   form,
		device: device,
		phase:  PhaseIdle,
		fields: make(map[string]*fieldState, len(form.Fields)),
	}
	for _, f := range form.Fields {
		if f.Name == "" {
			continue
		}
		if _, dup := t.fields[f.Name]; dup {
			continue
		}
		t.fields[f.Name] = &fieldState{spec: f}
		t.order = append(t.order, f.Name)
	}
	return t
}

// Form returns the tracked form.
func (t *Tracker) Form() FormSpec { return t.form }

// Device returns the device the tracker was attached on.
func (t *Tracker) Device() Device { return t.device }

// Phase returns the current lifecycle phase.
func (t *Tracker) Phase() Phase { return t.phase }

// Handle applies one event. Events naming unknown fields are ignored, as are
// all events once the tracker reached a terminal phase. It reports whether the
// event was applied.
func (t *Tracker) Handle(e Event) bool {
	if t.phase.Terminal() {
		return false
	}

	var field *fieldState
	if e.Field != "" {
		field = t.fields[e.Field]
		if field == nil {
			return false
		}
	}

	switch e.Kind {
	case EventFocus:
		t.start(e.serverTime())
	case EventInput:
		t.start(e.serverTime())
		if field != nil && field.spec.Kind != KindPassword {
			field.inputs++
		}
	case EventKeyDown:
		if field == nil || !field.spec.Kind.TypingTracked() {
			return false
		}
		t.keyDown(field, e.At)
	case EventMouseMove:
		if t.device.Mobile() {
			return false
		}
		t.mouseMoves++
	case EventTouch:
		if !t.device.Mobile() {
			return false
		}
		t.touches++
	case EventInvalid:
		if field == nil {
			return false
		}
		field.errors++
	case EventSubmit:
		t.phase = PhaseSubmitted
		t.endTime = e.serverTime()
	case EventUnload:
		if t.phase != PhaseTracking {
			return false
		}
		t.phase = PhaseAbandoned
		t.endTime = e.serverTime()
	default:
		return false
	}
	return true
}

// Reset returns the tracker to Idle and forgets the start time, for a fresh
// attempt at the same form. Typing history is kept.
func (t *Tracker) Reset() {
	t.phase = PhaseIdle
	t.hasStarted = false
	t.startTime = time.Time{}
	t.endTime = time.Time{}
}

func (t *Tracker) start(at time.Time) {
	if t.hasStarted {
		return
	}
	t.hasStarted = true
	t.startTime = at
	if t.phase == PhaseIdle {
		t.phase = PhaseTracking
	}
}

func (t *Tracker) keyDown(f *fieldState, at time.Time) {
	f.keystrokes++
	if !f.lastKeyDown.IsZero() {
		f.intervals = append(f.intervals, at.Sub(f.lastKeyDown).Milliseconds())
		if len(f.intervals) > minIntervalsAnalysed && !f.suspicious {
			mean, variance := meanVariance(f.intervals)
			if variance < maxVarianceMS2 && mean < maxMeanMS && len(f.intervals) > minIntervalsFlagged {
				f.suspicious = true
			}
		}
	}
	f.lastKeyDown = at
}

// meanVariance returns the mean and population variance of xs.
func meanVariance(xs []int64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += float64(x)
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := float64(x) - mean
		sq += d * d
	}
	return mean, sq / float64(len(xs))
}

// Snapshot copies the current signals.
func (t *Tracker) Snapshot() State {
	s := State{
		FormID:                t.form.ID,
		Phase:                 t.phase,
		MouseMovementCount:    t.mouseMoves,
		TouchInteractionCount: t.touches,
		Mobile:                t.device.Mobile(),
		Fields:                make([]FieldSignals, 0, len(t.order)),
	}
	if t.hasStarted {
		st := t.startTime
		s.StartTime = &st
	}
	if s.Mobile {
		s.MouseMovementCount = MobileMouseCredit
	}
	for _, name := range t.order {
		f := t.fields[name]
		s.Fields = append(s.Fields, FieldSignals{
			Name:               name,
			Kind:               f.spec.Kind,
			Keystrokes:         f.keystrokes,
			KeystrokeIntervals: append([]int64(nil), f.intervals...),
			SuspiciousTyping:   f.suspicious,
			Inputs:             f.inputs,
			Errors:             f.errors,
		})
	}
	if !t.endTime.IsZero() && t.hasStarted {
		s.Duration = t.endTime.Sub(t.startTime)
	}
	return s
}

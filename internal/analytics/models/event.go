// Package models defines analytics events and their anonymized payloads.
package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"ilm/internal/platform/privacy"
)

// Version is stamped on every stored event.
const Version = "2.0"

// Event types recorded by the site.
const (
	TypePerformance       = "performance"
	TypePerformanceIssues = "performance_issues"
	TypeEngagement        = "engagement"
	TypeFeatures          = "features"
	TypeFormStart         = "form_start"
	TypeFormCompletion    = "form_completion"
	TypeFormAbandonment   = "form_abandonment"
	TypeAccessibility     = "accessibility"
	TypeErrors            = "errors"
	TypeUserJourney       = "user_journey"
)

var typePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidType reports whether t can name an event log.
func ValidType(t string) bool {
	return typePattern.MatchString(t)
}

// Event is one anonymized entry in a per-type log.
type Event struct {
	Type      string
	Payload   Payload
	Timestamp int64
	Version   string
}

// NewEvent anonymizes p and stamps it. The event time is the payload's own time
// when it has one, else now; either way it is floored to the hour.
func NewEvent(eventType string, p Payload, nowMS int64) Event {
	ts := p.EventTime()
	if ts == 0 {
		ts = nowMS
	}
	return Event{
		Type:      eventType,
		Payload:   p.Anonymize(),
		Timestamp: privacy.FloorToHour(ts),
		Version:   Version,
	}
}

type eventJSON struct {
	Type      string          `json:"type"`
	Category  Category        `json:"category"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	Version   string          `json:"version"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %q has no payload", e.Type)
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventJSON{
		Type:      e.Type,
		Category:  e.Payload.Category(),
		Payload:   raw,
		Timestamp: e.Timestamp,
		Version:   e.Version,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var env eventJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	p, err := DecodePayload(env.Category, env.Payload)
	if err != nil {
		return err
	}
	*e = Event{Type: env.Type, Payload: p, Timestamp: env.Timestamp, Version: env.Version}
	return nil
}

// DecodePayload decodes raw into the variant named by category.
func DecodePayload(category Category, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch category {
	case CategoryPerformance:
		p, err = decodeAs[Performance](raw)
	case CategoryEngagement:
		p, err = decodeAs[Engagement](raw)
	case CategoryJourney:
		p, err = decodeAs[Journey](raw)
	case CategoryForm:
		p, err = decodeAs[Form](raw)
	case CategoryAccessibility:
		p, err = decodeAs[Accessibility](raw)
	case CategoryError:
		p, err = decodeAs[ErrorReport](raw)
	default:
		return nil, fmt.Errorf("unknown payload category %q", category)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", category, err)
	}
	return p, nil
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var screenReaders = []string{"NVDA", "JAWS", "VoiceOver"}

func screenReaderAgent(ua string) bool {
	for _, sr := range screenReaders {
		if strings.Contains(ua, sr) {
			return true
		}
	}
	return false
}

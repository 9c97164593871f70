// Package audit keeps a per-visitor trail of consent decisions and data-rights
// requests, so the site can show when and how consent was given.
package audit

import "time"

// Event is one entry in a visitor's trail. It holds no personal data beyond
// the random visitor id.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Visitor   string    `json:"-"`
	Action    Action    `json:"action"`
	Consent   string    `json:"consent,omitempty"`
	Version   string    `json:"version,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

type Action string

const (
	ActionConsentRecorded Action = "consent_recorded"
	ActionConsentReset    Action = "consent_reset"
	ActionDataExported    Action = "data_exported"
	ActionDataDeleted     Action = "data_deleted"
)

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	at     = time.Date(2024, 1, 15, 13, 47, 12, 0, time.UTC).UnixMilli()
	atHour = time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC).UnixMilli()
)

func TestAnonymizeStripsClientAndFloorsTimestamps(t *testing.T) {
	client := Client{IP: "203.0.113.9", UserAgent: "Mozilla/5.0"}
	payloads := []Payload{
		Performance{Client: client, Page: "/booking.html?ref=ad", Timestamp: at},
		Engagement{Client: client, Page: "/", StartTime: at, Timestamp: at},
		Journey{Client: client, StartTime: at, Pages: []PageView{{Page: "/contact.html", Referrer: "https://google.com/search?q=x", Timestamp: at}}},
		Form{Client: client, FormID: "contact", StartTime: at, Timestamp: at},
		Accessibility{Client: client, Timestamp: at},
		ErrorReport{Client: client, Errors: []ErrorEntry{{Type: "javascript", UserAgent: "Mozilla/5.0", Timestamp: at}}},
	}

	for _, p := range payloads {
		t.Run(string(p.Category()), func(t *testing.T) {
			anon := p.Anonymize()
			raw, err := json.Marshal(anon)
			require.NoError(t, err)

			var fields map[string]any
			require.NoError(t, json.Unmarshal(raw, &fields))
			assert.NotContains(t, fields, "ip")
			assert.NotContains(t, fields, "userAgent")
			assert.NotContains(t, string(raw), "Mozilla")
			assert.NotContains(t, string(raw), "203.0.113.9")
			assert.Equal(t, atHour, anon.EventTime())
		})
	}
}

func TestAnonymizeDoesNotMutateInput(t *testing.T) {
	j := Journey{StartTime: at, Pages: []PageView{{Page: "/booking.html", Timestamp: at}}, Goals: map[string]bool{"viewedGallery": true}}
	anon := j.Anonymize().(Journey)

	assert.Equal(t, "booking", anon.Pages[0].Page)
	assert.Equal(t, atHour, anon.Pages[0].Timestamp)
	assert.Equal(t, "/booking.html", j.Pages[0].Page)
	assert.Equal(t, at, j.Pages[0].Timestamp)

	anon.Goals["viewedGallery"] = false
	assert.True(t, j.Goals["viewedGallery"])
}

func TestFormAnonymizeDropsPasswordFields(t *testing.T) {
	f := Form{FormID: "login", Interactions: []FieldInteraction{
		{Field: "email", Type: "email", HasValue: true, Timestamp: at},
		{Field: "secret", Type: "password", HasValue: true, Timestamp: at},
	}}
	anon := f.Anonymize().(Form)
	require.Len(t, anon.Interactions, 1)
	assert.Equal(t, "email", anon.Interactions[0].Field)
}

func TestAccessibilityDetectsScreenReaderBeforeStripping(t *testing.T) {
	a := Accessibility{Client: Client{UserAgent: "Mozilla/5.0 NVDA/2023.3"}, Timestamp: at}
	anon := a.Anonymize().(Accessibility)
	assert.True(t, anon.Indicators.ScreenReaderUsage)
	assert.Empty(t, anon.UserAgent)
}

func TestNewEvent(t *testing.T) {
	now := time.Date(2024, 1, 15, 18, 5, 0, 0, time.UTC).UnixMilli()

	e := NewEvent(TypeFormStart, Form{FormID: "contact", Timestamp: at}, now)
	assert.Equal(t, atHour, e.Timestamp)
	assert.Equal(t, Version, e.Version)

	e = NewEvent(TypeEngagement, Engagement{SessionID: "s"}, now)
	assert.Equal(t, time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC).UnixMilli(), e.Timestamp)
}

func TestEventJSONKeepsVariant(t *testing.T) {
	e := NewEvent(TypeErrors, ErrorReport{SessionID: "s1", Errors: []ErrorEntry{{Type: "promise_rejection", Reason: "boom", Timestamp: at}}}, at)
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"category":"error"`)

	var got Event
	require.NoError(t, json.Unmarshal(raw, &got))
	report, ok := got.Payload.(ErrorReport)
	require.True(t, ok)
	assert.Equal(t, "boom", report.Errors[0].Reason)
	assert.Equal(t, e, got)

	_, err = DecodePayload("clicks", json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestValidType(t *testing.T) {
	assert.True(t, ValidType("click"))
	assert.True(t, ValidType(TypeUserJourney))
	assert.False(t, ValidType(""))
	assert.False(t, ValidType("Click"))
	assert.False(t, ValidType("../etc"))
}

package models

import (
	"ilm/internal/platform/privacy"
)

// Category selects the payload variant.
type Category string

const (
	CategoryPerformance   Category = "performance"
	CategoryEngagement    Category = "engagement"
	CategoryJourney       Category = "journey"
	CategoryForm          Category = "form"
	CategoryAccessibility Category = "accessibility"
	CategoryError         Category = "error"
)

// Payload is one of the closed set of event bodies below. Anonymize returns a
// copy with client identifiers removed, timestamps floored to the hour and page
// paths reduced to categories.
type Payload interface {
	Category() Category
	Anonymize() Payload
	// EventTime is the payload's own timestamp in epoch ms, zero when it has none.
	EventTime() int64
	sealed()
}

// Client carries identifiers the page may attach. Anonymization always clears it.
type Client struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

type PerformanceMetrics struct {
	DOMContentLoaded       float64  `json:"domContentLoaded"`
	WindowLoaded           float64  `json:"windowLoaded"`
	FirstPaint             *float64 `json:"firstPaint"`
	LargestContentfulPaint *float64 `json:"largestContentfulPaint"`
	CumulativeLayoutShift  *float64 `json:"cumulativeLayoutShift"`
}

// PerformanceIssue is a long task or memory pressure sample.
type PerformanceIssue struct {
	Type      string  `json:"type"`
	Duration  float64 `json:"duration,omitempty"`
	Usage     int64   `json:"usage,omitempty"`
	Limit     int64   `json:"limit,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

type Performance struct {
	Client
	SessionID string             `json:"sessionId"`
	Page      string             `json:"page"`
	Timestamp int64              `json:"timestamp"`
	Metrics   PerformanceMetrics `json:"metrics"`
	Issues    []PerformanceIssue `json:"issues,omitempty"`
}

func (Performance) Category() Category { return CategoryPerformance }
func (p Performance) EventTime() int64 { return p.Timestamp }
func (Performance) sealed()            {}

func (p Performance) Anonymize() Payload {
	p.Client = Client{}
	p.Page = privacy.AnonymizePage(p.Page)
	p.Timestamp = privacy.FloorToHour(p.Timestamp)
	issues := make([]PerformanceIssue, len(p.Issues))
	for i, is := range p.Issues {
		is.Timestamp = privacy.FloorToHour(is.Timestamp)
		issues[i] = is
	}
	if p.Issues != nil {
		p.Issues = issues
	}
	return p
}

type Interactions struct {
	Clicks         int   `json:"clicks"`
	Scrolls        int   `json:"scrolls"`
	Keystrokes     int   `json:"keystrokes"`
	TimeOnPage     int64 `json:"timeOnPage"`
	MaxScrollDepth int   `json:"maxScrollDepth"`
}

// Engagement covers page engagement and feature usage counters.
type Engagement struct {
	Client
	SessionID    string          `json:"sessionId"`
	Page         string          `json:"page,omitempty"`
	StartTime    int64           `json:"startTime,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"`
	Interactions *Interactions   `json:"interactions,omitempty"`
	Features     map[string]bool `json:"features,omitempty"`
	FeatureUsage map[string]int  `json:"featureUsage,omitempty"`
}

func (Engagement) Category() Category { return CategoryEngagement }
func (Engagement) sealed()            {}

func (e Engagement) EventTime() int64 {
	if e.Timestamp != 0 {
		return e.Timestamp
	}
	return e.StartTime
}

func (e Engagement) Anonymize() Payload {
	e.Client = Client{}
	if e.Page != "" {
		e.Page = privacy.AnonymizePage(e.Page)
	}
	e.StartTime = privacy.FloorToHour(e.StartTime)
	e.Timestamp = privacy.FloorToHour(e.Timestamp)
	if e.Interactions != nil {
		in := *e.Interactions
		e.Interactions = &in
	}
	e.Features = cloneMap(e.Features)
	e.FeatureUsage = cloneMap(e.FeatureUsage)
	return e
}

type PageView struct {
	Page      string `json:"page"`
	Referrer  string `json:"referrer"`
	Timestamp int64  `json:"timestamp"`
}

// Journey is the path a visitor takes through the site and the goals reached.
type Journey struct {
	Client
	SessionID       string          `json:"sessionId"`
	StartTime       int64           `json:"startTime"`
	Pages           []PageView      `json:"pages"`
	Goals           map[string]bool `json:"goals"`
	SessionDuration int64           `json:"sessionDuration,omitempty"`
}

func (Journey) Category() Category { return CategoryJourney }
func (j Journey) EventTime() int64 { return j.StartTime }
func (Journey) sealed()            {}

func (j Journey) Anonymize() Payload {
	j.Client = Client{}
	j.StartTime = privacy.FloorToHour(j.StartTime)
	if j.Pages != nil {
		pages := make([]PageView, len(j.Pages))
		for i, pv := range j.Pages {
			pages[i] = PageView{
				Page:      privacy.AnonymizePage(pv.Page),
				Referrer:  privacy.AnonymizePage(pv.Referrer),
				Timestamp: privacy.FloorToHour(pv.Timestamp),
			}
		}
		j.Pages = pages
	}
	j.Goals = cloneMap(j.Goals)
	return j
}

// FieldInteraction records that a field changed. Values are never captured.
type FieldInteraction struct {
	Field     string `json:"field"`
	Type      string `json:"type"`
	HasValue  bool   `json:"hasValue"`
	Timestamp int64  `json:"timestamp"`
}

type CompletionStage struct {
	Section   int   `json:"section"`
	Timestamp int64 `json:"timestamp"`
}

type FieldError struct {
	Field     string `json:"field"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Form covers form start, completion and abandonment.
type Form struct {
	Client
	SessionID        string             `json:"sessionId"`
	FormID           string             `json:"formId"`
	StartTime        int64              `json:"startTime,omitempty"`
	Timestamp        int64              `json:"timestamp,omitempty"`
	Interactions     []FieldInteraction `json:"interactions,omitempty"`
	CompletionStages []CompletionStage  `json:"completionStages,omitempty"`
	Errors           []FieldError       `json:"errors,omitempty"`
	Completed        bool               `json:"completed"`
	Abandoned        bool               `json:"abandoned"`
	CompletionTime   int64              `json:"completionTime,omitempty"`
	AbandonTime      int64              `json:"abandonTime,omitempty"`
}

func (Form) Category() Category { return CategoryForm }
func (Form) sealed()            {}

func (f Form) EventTime() int64 {
	if f.Timestamp != 0 {
		return f.Timestamp
	}
	return f.StartTime
}

func (f Form) Anonymize() Payload {
	f.Client = Client{}
	f.StartTime = privacy.FloorToHour(f.StartTime)
	f.Timestamp = privacy.FloorToHour(f.Timestamp)
	if f.Interactions != nil {
		out := make([]FieldInteraction, 0, len(f.Interactions))
		for _, in := range f.Interactions {
			if in.Type == "password" {
				continue
			}
			in.Timestamp = privacy.FloorToHour(in.Timestamp)
			out = append(out, in)
		}
		f.Interactions = out
	}
	if f.CompletionStages != nil {
		stages := make([]CompletionStage, len(f.CompletionStages))
		for i, st := range f.CompletionStages {
			st.Timestamp = privacy.FloorToHour(st.Timestamp)
			stages[i] = st
		}
		f.CompletionStages = stages
	}
	if f.Errors != nil {
		errs := make([]FieldError, len(f.Errors))
		for i, fe := range f.Errors {
			fe.Timestamp = privacy.FloorToHour(fe.Timestamp)
			errs[i] = fe
		}
		f.Errors = errs
	}
	return f
}

type AccessibilityIndicators struct {
	KeyboardNavigation bool `json:"keyboardNavigation"`
	ScreenReaderUsage  bool `json:"screenReaderUsage"`
	HighContrast       bool `json:"highContrast"`
	ReducedMotion      bool `json:"reducedMotion"`
	FocusVisible       bool `json:"focusVisible"`
}

type Accessibility struct {
	Client
	SessionID  string                  `json:"sessionId"`
	Timestamp  int64                   `json:"timestamp"`
	Indicators AccessibilityIndicators `json:"indicators"`
}

func (Accessibility) Category() Category { return CategoryAccessibility }
func (a Accessibility) EventTime() int64 { return a.Timestamp }
func (Accessibility) sealed()            {}

// Anonymize derives the screen reader indicator from the user agent before the
// user agent is dropped.
func (a Accessibility) Anonymize() Payload {
	if screenReaderAgent(a.UserAgent) {
		a.Indicators.ScreenReaderUsage = true
	}
	a.Client = Client{}
	a.Timestamp = privacy.FloorToHour(a.Timestamp)
	return a
}

// ErrorEntry is one script error or unhandled rejection.
type ErrorEntry struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Line      int    `json:"lineno,omitempty"`
	Column    int    `json:"colno,omitempty"`
	Reason    string `json:"reason,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorReport batches script errors captured on a page.
type ErrorReport struct {
	Client
	SessionID string       `json:"sessionId"`
	Errors    []ErrorEntry `json:"errors"`
}

func (ErrorReport) Category() Category { return CategoryError }
func (ErrorReport) sealed()            {}

func (e ErrorReport) EventTime() int64 {
	if len(e.Errors) == 0 {
		return 0
	}
	return e.Errors[0].Timestamp
}

func (e ErrorReport) Anonymize() Payload {
	e.Client = Client{}
	if e.Errors != nil {
		entries := make([]ErrorEntry, len(e.Errors))
		for i, en := range e.Errors {
			en.UserAgent = ""
			if en.Filename != "" {
				en.Filename = privacy.AnonymizePage(en.Filename)
			}
			en.Timestamp = privacy.FloorToHour(en.Timestamp)
			entries[i] = en
		}
		e.Errors = entries
	}
	return e
}

func cloneMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return nil
	}
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

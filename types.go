package analytics_transport

import (
	"time"
)

// EventType names a standard event. Any other string is accepted as a
// custom event type.
type EventType = string

// Standard event types
const (
	EventPageview           EventType = "pageview"
	EventClick              EventType = "click"
	EventFormSubmit         EventType = "form_submit"
	EventVisibilityChange   EventType = "visibility_change"
	EventPageHide           EventType = "page_hide"
	EventScrollDepth        EventType = "scroll_depth"
	EventOutboundLink       EventType = "outbound_link"
	EventAnonymousIDCreated EventType = "anonymous_id_created"
	EventConsentChanged     EventType = "consent_changed"
)

// EventRecord is a single analytics event as it appears on the wire
type EventRecord struct {
	AnonymousID    string         `json:"anonymous_id"`
	MessageID      string         `json:"message_id"`
	Timestamp      string         `json:"timestamp"`
	LocalTimestamp string         `json:"local_timestamp"`
	Type           string         `json:"type"`
	Context        EventContext   `json:"context"`
	Properties     map[string]any `json:"properties"`
}

// EventContext describes the environment an event was captured in
type EventContext struct {
	Campaign  map[string]string `json:"campaign"`
	Library   LibraryInfo       `json:"library"`
	Locale    string            `json:"locale"`
	Page      PageInfo          `json:"page"`
	Referrer  ReferrerInfo      `json:"referrer"`
	Screen    ScreenInfo        `json:"screen"`
	Timezone  string            `json:"timezone"`
	UserAgent string            `json:"user_agent"`
	Flags     map[string]bool   `json:"flags"`
}

type LibraryInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type PageInfo struct {
	URL      string `json:"url"`
	Path     string `json:"path"`
	Title    string `json:"title"`
	Referrer string `json:"referrer"`
	Search   string `json:"search"`
}

type ReferrerInfo struct {
	Type string `json:"type"` // direct|internal|search|social|external
	Host string `json:"host,omitempty"`
}

type ScreenInfo struct {
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Density float64 `json:"density"`
}

// Priority classifies a queued entry. It does not gate sending.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityLow
)

func (p Priority) String() string {
	if p == PriorityLow {
		return "low"
	}
	return "high"
}

// QueuedEntry represents an event waiting in the queue
type QueuedEntry struct {
	Record   *EventRecord
	Priority Priority
	QueuedAt time.Time
}

// Outcome classifies a single delivery attempt
type Outcome int

const (
	// OutcomeSuccess is any 2xx response.
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable is 429/503 with a usable Retry-After header.
	OutcomeRetryable
	// OutcomeTerminal is any other non-2xx response.
	OutcomeTerminal
	// OutcomeNetworkError means the request never completed.
	OutcomeNetworkError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	case OutcomeNetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// Result represents the result of a send operation
type Result struct {
	Outcome    Outcome
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

// Delivered reports whether the batch reached the collector.
func (r Result) Delivered() bool {
	return r.Outcome == OutcomeSuccess
}

// PipelineMetrics is a point-in-time snapshot of pipeline counters
type PipelineMetrics struct {
	EventsSubmitted  int64 `json:"events_submitted"`
	EventsSuppressed int64 `json:"events_suppressed"`
	BatchesSent      int64 `json:"batches_sent"`
	BatchesFailed    int64 `json:"batches_failed"`
	BatchesDropped   int64 `json:"batches_dropped"`
	TotalRetries     int64 `json:"total_retries"`
	Recovered        int64 `json:"recovered"`
	TeardownFlushes  int64 `json:"teardown_flushes"`
	QueueLength      int   `json:"queue_length"`
}

package analytics_transport

import (
	"math"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/roadrunner-analytics-transport/internal/clock"
)

const (
	utcLayout   = "2006-01-02T15:04:05.000Z"
	localLayout = "2006-01-02T15:04:05.000-07:00"
	utmPrefix   = "utm_"
)

// PayloadBuilder turns submissions into fully populated event records.
// Build never fails: unavailable context degrades to zero values.
type PayloadBuilder struct {
	env     Environment
	clock   clock.Clock
	library LibraryInfo

	// newMessageID is swapped in tests
	newMessageID func() string

	mu        sync.Mutex
	locations map[string]*time.Location
}

// NewPayloadBuilder creates a builder reading context from env.
func NewPayloadBuilder(env Environment, clk clock.Clock, library LibraryInfo) *PayloadBuilder {
	if clk == nil {
		clk = clock.Real()
	}
	return &PayloadBuilder{
		env:          env,
		clock:        clk,
		library:      library,
		newMessageID: uuid.NewString,
		locations:    make(map[string]*time.Location),
	}
}

// Build creates a record for eventType. Keys in eventData take
// precedence over keys in customData.
func (b *PayloadBuilder) Build(anonymousID, eventType string, eventData, customData map[string]any) *EventRecord {
	snap := b.snapshot()
	now := b.clock.Now()

	properties := make(map[string]any, len(eventData)+len(customData))
	for k, v := range customData {
		if clean, ok := sanitizeValue(v); ok {
			properties[k] = clean
		}
	}
	for k, v := range eventData {
		if clean, ok := sanitizeValue(v); ok {
			properties[k] = clean
		}
	}

	page := PageInfo{
		URL:      snap.url,
		Title:    snap.title,
		Referrer: snap.referrer,
	}
	var campaign map[string]string
	if u, err := url.Parse(snap.url); err == nil {
		page.Path = u.Path
		if u.RawQuery != "" {
			page.Search = "?" + u.RawQuery
		}
		campaign = extractCampaign(u.Query())
	}

	return &EventRecord{
		AnonymousID:    anonymousID,
		MessageID:      b.newMessageID(),
		Timestamp:      now.UTC().Format(utcLayout),
		LocalTimestamp: now.In(b.location(snap.timezone)).Format(localLayout),
		Type:           eventType,
		Context: EventContext{
			Campaign:  campaign,
			Library:   b.library,
			Locale:    snap.locale,
			Page:      page,
			Referrer:  ClassifyReferrer(snap.referrer, snap.url),
			Screen:    roundScreen(snap.screen),
			Timezone:  snap.timezone,
			UserAgent: snap.userAgent,
			Flags:     snap.flags,
		},
		Properties: properties,
	}
}

type envSnapshot struct {
	url       string
	title     string
	referrer  string
	userAgent string
	locale    string
	timezone  string
	screen    ScreenInfo
	flags     map[string]bool
}

func (b *PayloadBuilder) snapshot() envSnapshot {
	if b.env == nil {
		return envSnapshot{}
	}
	return envSnapshot{
		url:       safeRead(b.env.PageURL),
		title:     safeRead(b.env.PageTitle),
		referrer:  safeRead(b.env.Referrer),
		userAgent: safeRead(b.env.UserAgent),
		locale:    safeRead(b.env.Locale),
		timezone:  safeRead(b.env.Timezone),
		screen:    safeRead(b.env.Screen),
		flags:     safeRead(b.env.FeatureFlags),
	}
}

// safeRead calls a context provider, turning a panic into the zero value.
func safeRead[T any](read func() T) (v T) {
	defer func() {
		if recover() != nil {
			var zero T
			v = zero
		}
	}()
	return read()
}

func (b *PayloadBuilder) location(name string) *time.Location {
	if name == "" {
		return time.Local
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if loc, ok := b.locations[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.Local
	}
	b.locations[name] = loc
	return loc
}

// extractCampaign copies utm_* parameters only. utm_campaign is stored
// as "name".
func extractCampaign(query url.Values) map[string]string {
	var campaign map[string]string
	for key, values := range query {
		if !strings.HasPrefix(key, utmPrefix) || len(values) == 0 {
			continue
		}
		name := strings.TrimPrefix(key, utmPrefix)
		if name == "" {
			continue
		}
		if name == "campaign" {
			name = "name"
		}
		if campaign == nil {
			campaign = make(map[string]string)
		}
		campaign[name] = values[0]
	}
	return campaign
}

func roundScreen(s ScreenInfo) ScreenInfo {
	density := s.Density
	if math.IsNaN(density) || math.IsInf(density, 0) || density < 0 {
		density = 0
	}
	return ScreenInfo{
		Width:   s.Width,
		Height:  s.Height,
		Density: math.Round(density*100) / 100,
	}
}

// sanitizeValue makes a caller-supplied property JSON-safe. Non-finite
// numbers become null; funcs, channels and complex numbers are dropped
// (ok is false). Maps and slices are cleaned recursively.
func sanitizeValue(v any) (clean any, ok bool) {
	switch value := v.(type) {
	case nil:
		return nil, true
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, true
		}
		return value, true
	case float32:
		if math.IsNaN(float64(value)) || math.IsInf(float64(value), 0) {
			return nil, true
		}
		return value, true
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			if c, ok := sanitizeValue(item); ok {
				out[k] = c
			}
		}
		return out, true
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i], _ = sanitizeValue(item)
		}
		return out, true
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return nil, false
	}
	return v, true
}

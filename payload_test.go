package analytics_transport

import (
	"math"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/your-org/roadrunner-analytics-transport/internal/clock"
)

// panicEnvironment fails on every query
type panicEnvironment struct{ StaticEnvironment }

func (panicEnvironment) PageURL() string { panic("no page") }
func (panicEnvironment) Screen() ScreenInfo { panic("no screen") }

func TestPayloadBuilderBuild(t *testing.T) {
	env := &StaticEnvironment{
		URL:     "https://shop.example.com/products/42?utm_source=news&utm_campaign=spring&ref=x",
		Title:   "Product 42",
		Ref:     "https://www.google.com/search?q=shoes",
		Agent:   "Mozilla/5.0",
		Lang:    "de-DE",
		TZ:      "Europe/Berlin",
		Display: ScreenInfo{Width: 1920, Height: 1080, Density: 1.3333},
		Flags:   map[string]bool{"new_checkout": true},
	}
	clk := clock.Fake(time.Date(2024, 7, 1, 10, 30, 0, 123e6, time.UTC))
	builder := NewPayloadBuilder(env, clk, LibraryInfo{Name: "lib", Version: "9.9.9"})
	builder.newMessageID = func() string { return "msg-1" }

	record := builder.Build("anon-1", EventClick,
		map[string]any{"label": "buy", "plan": "event"},
		map[string]any{"plan": "custom", "tier": "gold"})

	if record.AnonymousID != "anon-1" || record.MessageID != "msg-1" || record.Type != EventClick {
		t.Errorf("unexpected identity fields %+v", record)
	}
	if record.Timestamp != "2024-07-01T10:30:00.123Z" {
		t.Errorf("Timestamp = %s", record.Timestamp)
	}
	if record.LocalTimestamp != "2024-07-01T12:30:00.123+02:00" {
		t.Errorf("LocalTimestamp = %s", record.LocalTimestamp)
	}

	if record.Properties["plan"] != "event" {
		t.Errorf("event data should win over custom data, got %v", record.Properties["plan"])
	}
	if record.Properties["tier"] != "gold" || record.Properties["label"] != "buy" {
		t.Errorf("properties = %v", record.Properties)
	}

	ctx := record.Context
	if ctx.Page.Path != "/products/42" || ctx.Page.Search != "?utm_source=news&utm_campaign=spring&ref=x" || ctx.Page.Title != "Product 42" {
		t.Errorf("page = %+v", ctx.Page)
	}
	if ctx.Campaign["source"] != "news" || ctx.Campaign["name"] != "spring" || len(ctx.Campaign) != 2 {
		t.Errorf("campaign = %v", ctx.Campaign)
	}
	if ctx.Referrer.Type != ReferrerSearch || ctx.Referrer.Host != "www.google.com" {
		t.Errorf("referrer = %+v", ctx.Referrer)
	}
	if ctx.Screen.Density != 1.33 {
		t.Errorf("density = %v, want 1.33", ctx.Screen.Density)
	}
	if ctx.Library.Name != "lib" || ctx.Locale != "de-DE" || ctx.Timezone != "Europe/Berlin" || ctx.UserAgent != "Mozilla/5.0" {
		t.Errorf("context = %+v", ctx)
	}
	if !ctx.Flags["new_checkout"] {
		t.Errorf("flags = %v", ctx.Flags)
	}
}

func TestPayloadBuilderWithoutEnvironment(t *testing.T) {
	builder := NewPayloadBuilder(nil, clock.Fake(testEpoch), LibraryInfo{})

	record := builder.Build("anon", EventPageview, nil, nil)
	if record.Context.Referrer.Type != ReferrerDirect {
		t.Errorf("referrer = %+v, want direct", record.Context.Referrer)
	}
	if record.Context.Campaign != nil {
		t.Errorf("campaign = %v, want none", record.Context.Campaign)
	}
	if record.Properties == nil {
		t.Error("properties should be an empty object, not null")
	}
	if record.MessageID == "" {
		t.Error("missing message id")
	}
}

func TestPayloadBuilderRecoversFromPanickingEnvironment(t *testing.T) {
	env := &panicEnvironment{StaticEnvironment{Title: "still here", TZ: "Not/AZone"}}
	builder := NewPayloadBuilder(env, clock.Fake(testEpoch), LibraryInfo{})

	record := builder.Build("anon", EventPageview, nil, nil)
	if record.Context.Page.URL != "" || record.Context.Screen != (ScreenInfo{}) {
		t.Errorf("failed queries should degrade to zero values, got %+v", record.Context)
	}
	if record.Context.Page.Title != "still here" {
		t.Error("healthy queries should still be read")
	}
	if record.LocalTimestamp == "" {
		t.Error("unknown timezone should fall back to local time")
	}
}

func TestRoundScreen(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{2, 2},
		{1.256, 1.26},
		{0.333, 0.33},
		{-1, 0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
	}
	for _, tt := range tests {
		if got := roundScreen(ScreenInfo{Density: tt.in}).Density; got != tt.want {
			t.Errorf("roundScreen(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPayloadBuilderSanitizesProperties(t *testing.T) {
	builder := NewPayloadBuilder(nil, clock.Fake(testEpoch), LibraryInfo{})

	record := builder.Build("anon", EventClick,
		map[string]any{
			"nan":    math.NaN(),
			"inf":    float32(math.Inf(1)),
			"fn":     func() {},
			"ch":     make(chan int),
			"c":      complex(1, 2),
			"nested": map[string]any{"bad": math.Inf(-1), "ok": 2.5, "drop": func() {}},
			"list":   []any{1.0, math.NaN(), "x"},
		},
		map[string]any{"plain": "value"})

	props := record.Properties
	for _, key := range []string{"fn", "ch", "c"} {
		if _, ok := props[key]; ok {
			t.Errorf("%s should be dropped", key)
		}
	}
	for _, key := range []string{"nan", "inf"} {
		if v, ok := props[key]; !ok || v != nil {
			t.Errorf("%s = %v (present %v), want nil", key, v, ok)
		}
	}

	nested := props["nested"].(map[string]any)
	if v, ok := nested["bad"]; !ok || v != nil {
		t.Errorf("nested.bad = %v, want nil", v)
	}
	if nested["ok"] != 2.5 {
		t.Errorf("nested.ok = %v", nested["ok"])
	}
	if _, ok := nested["drop"]; ok {
		t.Error("nested.drop should be dropped")
	}

	list := props["list"].([]any)
	if len(list) != 3 || list[0] != 1.0 || list[1] != nil || list[2] != "x" {
		t.Errorf("list = %v", list)
	}
	if props["plain"] != "value" {
		t.Errorf("plain = %v", props["plain"])
	}
}

package analytics_transport

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPipelineCoalescesWithinDebounceWindow(t *testing.T) {
	h := newHarness(t, nil)

	first := h.pipeline.Submit(EventPageview, nil, nil)
	h.clock.Advance(50 * time.Millisecond)
	second := h.pipeline.Submit(EventClick, map[string]any{"label": "buy"}, nil)
	h.clock.Advance(100 * time.Millisecond)
	third := h.pipeline.Submit(EventScrollDepth, map[string]any{"depth": 50}, nil)

	if !received(t, second) || !received(t, third) {
		t.Fatal("submissions joining a pending batch should resolve true")
	}
	assertUnresolved(t, first)

	h.clock.Advance(49 * time.Millisecond)
	if n := len(h.transport.Calls()); n != 0 {
		t.Fatalf("sent %d batches before the debounce window closed", n)
	}

	h.clock.Advance(time.Millisecond)
	calls := h.transport.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if !calls[0].at.Equal(testEpoch.Add(200 * time.Millisecond)) {
		t.Errorf("batch sent at %v, want debounce expiry", calls[0].at)
	}

	records := decodeEvents(t, calls[0].body)
	want := []string{EventPageview, EventClick, EventScrollDepth}
	if got := eventTypes(records); !reflect.DeepEqual(got, want) {
		t.Errorf("batch order = %v, want %v", got, want)
	}
	if !received(t, first) {
		t.Error("arming submission should receive the send outcome")
	}
	if h.pipeline.State() != StateIdle {
		t.Errorf("state = %s, want idle", h.pipeline.State())
	}
}

func TestPipelineRetriesAfterRetryAfterDelay(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.script(throttled(2 * time.Second))

	result := h.pipeline.Submit(EventPageview, nil, nil)
	h.clock.Advance(200 * time.Millisecond)

	if received(t, result) {
		t.Error("throttled first attempt should resolve false")
	}
	if h.pipeline.State() != StateRetrying {
		t.Fatalf("state = %s, want retrying", h.pipeline.State())
	}
	if h.pipeline.RetryCount() != 1 {
		t.Errorf("retry count = %d, want 1", h.pipeline.RetryCount())
	}

	h.clock.Advance(1999 * time.Millisecond)
	if n := len(h.transport.Calls()); n != 1 {
		t.Fatalf("retried before Retry-After elapsed, %d calls", n)
	}

	h.clock.Advance(time.Millisecond)
	calls := h.transport.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if got := calls[1].at.Sub(calls[0].at); got != 2*time.Second {
		t.Errorf("retry delay = %s, want 2s", got)
	}
	if !bytes.Equal(calls[0].body, calls[1].body) {
		t.Error("retry body differs from the first attempt")
	}
	if h.pipeline.RetryCount() != 0 {
		t.Errorf("retry count after success = %d, want 0", h.pipeline.RetryCount())
	}
	if h.pipeline.State() != StateIdle {
		t.Errorf("state = %s, want idle", h.pipeline.State())
	}

	m := h.pipeline.GetMetrics()
	if m.BatchesSent != 1 || m.Recovered != 1 || m.TotalRetries != 1 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestPipelineDropsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Retry.MaxAttempts = 2 })
	h.transport.script(throttled(time.Second), throttled(time.Second), throttled(time.Second), throttled(time.Second))

	h.pipeline.Submit(EventPageview, nil, nil)
	h.clock.Advance(200 * time.Millisecond)
	h.clock.Advance(time.Second)
	h.clock.Advance(time.Second)
	h.clock.Advance(10 * time.Second)

	calls := h.transport.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d calls", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		if !bytes.Equal(calls[0].body, calls[i].body) {
			t.Errorf("attempt %d sent a different body", i+1)
		}
	}
	if h.pipeline.State() != StateIdle || h.pipeline.RetryCount() != 0 {
		t.Errorf("state = %s retry count = %d after drop", h.pipeline.State(), h.pipeline.RetryCount())
	}
	if m := h.pipeline.GetMetrics(); m.BatchesDropped != 1 || m.TotalRetries != 2 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestPipelineRetriesDisabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Retry.MaxAttempts = -1 })
	h.transport.script(throttled(time.Second))

	h.pipeline.Submit(EventPageview, nil, nil)
	h.clock.Advance(200 * time.Millisecond)
	h.clock.Advance(5 * time.Second)

	if n := len(h.transport.Calls()); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
	if m := h.pipeline.GetMetrics(); m.BatchesDropped != 1 {
		t.Errorf("dropped = %d, want 1", m.BatchesDropped)
	}
}

func TestPipelineDoesNotRetryFailures(t *testing.T) {
	tests := []struct {
		name   string
		result Result
	}{
		{name: "network error", result: Result{Outcome: OutcomeNetworkError, Err: errors.New("connection refused")}},
		{name: "server error", result: Result{Outcome: OutcomeTerminal, StatusCode: 500}},
		{name: "throttle without retry-after", result: Result{Outcome: OutcomeTerminal, StatusCode: 429}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.transport.script(tt.result)

			first := h.pipeline.Submit(EventPageview, nil, nil)
			h.clock.Advance(200 * time.Millisecond)
			if received(t, first) {
				t.Error("failed send should resolve false")
			}

			h.clock.Advance(time.Minute)
			if n := len(h.transport.Calls()); n != 1 {
				t.Fatalf("failure was retried, %d calls", n)
			}

			h.pipeline.Submit(EventClick, nil, nil)
			h.clock.Advance(200 * time.Millisecond)
			calls := h.transport.Calls()
			if len(calls) != 2 {
				t.Fatalf("expected a fresh call for the next batch, got %d calls", len(calls))
			}
			if got := eventTypes(decodeEvents(t, calls[1].body)); !reflect.DeepEqual(got, []string{EventClick}) {
				t.Errorf("second batch = %v, want only the new event", got)
			}
			if m := h.pipeline.GetMetrics(); m.BatchesFailed != 1 || m.BatchesSent != 1 {
				t.Errorf("unexpected metrics %+v", m)
			}
		})
	}
}

func TestPipelineSubmitDuringSendWaitsForNextBatch(t *testing.T) {
	h := newHarness(t, nil)

	var during <-chan bool
	h.transport.onSend = func(call int) {
		if call == 1 {
			if h.pipeline.State() != StateSending {
				t.Errorf("state during send = %s, want sending", h.pipeline.State())
			}
			during = h.pipeline.Submit(EventClick, nil, nil)
		}
	}

	h.pipeline.Submit(EventPageview, nil, nil)
	h.clock.Advance(200 * time.Millisecond)

	if !received(t, during) {
		t.Error("submission during a send should resolve true")
	}
	calls := h.transport.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if got := eventTypes(decodeEvents(t, calls[0].body)); !reflect.DeepEqual(got, []string{EventPageview}) {
		t.Errorf("in-flight batch = %v, want only the first event", got)
	}

	// Entries queued during a send stay put until the next Submit arms a timer
	h.clock.Advance(time.Minute)
	if n := len(h.transport.Calls()); n != 1 {
		t.Fatalf("queued entry sent without a new submission, %d calls", n)
	}
	if h.pipeline.GetMetrics().QueueLength != 1 {
		t.Errorf("queue length = %d, want 1", h.pipeline.GetMetrics().QueueLength)
	}
	if h.clock.PendingTimers() != 0 {
		t.Errorf("pending timers = %d, want 0", h.clock.PendingTimers())
	}

	h.pipeline.Submit(EventFormSubmit, nil, nil)
	h.clock.Advance(200 * time.Millisecond)
	calls = h.transport.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if got := eventTypes(decodeEvents(t, calls[1].body)); !reflect.DeepEqual(got, []string{EventClick, EventFormSubmit}) {
		t.Errorf("second batch = %v", got)
	}
}

func TestPipelineSubmitDuringRetryJoinsNextBatch(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.script(throttled(time.Second))

	h.pipeline.Submit(EventPageview, nil, nil)
	h.clock.Advance(200 * time.Millisecond)

	if !received(t, h.pipeline.Submit(EventClick, nil, nil)) {
		t.Error("submission during retry wait should resolve true")
	}

	h.clock.Advance(time.Second)
	calls := h.transport.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if got := eventTypes(decodeEvents(t, calls[1].body)); !reflect.DeepEqual(got, []string{EventPageview}) {
		t.Errorf("retry carried %v, want the frozen batch only", got)
	}
}

func TestPipelineMessageIDsUnique(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 50; i++ {
		h.pipeline.Submit(EventClick, map[string]any{"n": i}, nil)
	}
	h.clock.Advance(200 * time.Millisecond)

	calls := h.transport.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	seen := make(map[string]bool)
	for _, id := range calls[0].ids {
		if id == "" || seen[id] {
			t.Fatalf("message id %q empty or repeated", id)
		}
		seen[id] = true
	}
	if len(seen) != 50 {
		t.Errorf("got %d unique ids, want 50", len(seen))
	}
}

func TestPipelineCloseBeforeDebounceSendsOnce(t *testing.T) {
	h := newHarness(t, nil)

	first := h.pipeline.Submit(EventPageview, nil, nil)
	h.pipeline.Submit(EventPageHide, nil, nil)

	if err := h.pipeline.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !received(t, first) {
		t.Error("flushed submission should resolve true")
	}

	h.clock.Advance(time.Minute)
	calls := h.transport.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 call, got %d", len(calls))
	}
	if got := eventTypes(decodeEvents(t, calls[0].body)); !reflect.DeepEqual(got, []string{EventPageview, EventPageHide}) {
		t.Errorf("flushed batch = %v", got)
	}
	if h.pipeline.GetMetrics().TeardownFlushes != 1 {
		t.Error("teardown flush not counted")
	}

	if received(t, h.pipeline.Submit(EventClick, nil, nil)) {
		t.Error("submit after close should resolve false")
	}
	if err := h.pipeline.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if n := len(h.transport.Calls()); n != 1 {
		t.Errorf("second Close sent again, %d calls", n)
	}
}

func TestPipelineCloseAbandonsPendingRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.script(throttled(2 * time.Second))

	h.pipeline.Submit(EventPageview, nil, nil)
	h.clock.Advance(200 * time.Millisecond)

	if err := h.pipeline.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	h.clock.Advance(time.Minute)

	if n := len(h.transport.Calls()); n != 1 {
		t.Fatalf("abandoned batch was retried, %d calls", n)
	}
	if h.pipeline.State() != StateIdle {
		t.Errorf("state = %s, want idle", h.pipeline.State())
	}
	if m := h.pipeline.GetMetrics(); m.BatchesDropped != 1 {
		t.Errorf("dropped = %d, want 1", m.BatchesDropped)
	}
}

func TestPipelineDryRun(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := newHarness(t, func(c *Config) {
		c.Endpoint = ""
		c.DryRun = true
	}, WithLogger(zap.New(core)))

	if !received(t, h.pipeline.Submit(EventPageview, map[string]any{"a": 1}, nil)) {
		t.Error("dry-run submission should resolve true")
	}
	h.clock.Advance(time.Minute)

	if n := len(h.transport.Calls()); n != 0 {
		t.Errorf("dry-run sent %d batches", n)
	}
	if h.pipeline.GetMetrics().QueueLength != 0 {
		t.Error("dry-run queued the record")
	}
	entries := logs.FilterMessage("Dry-run: would send event").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 dry-run log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["type"] != EventPageview {
		t.Errorf("logged type = %v", entries[0].ContextMap()["type"])
	}
}

func TestPipelineConsentDenied(t *testing.T) {
	store := &MemoryIdentityStore{}
	h := newHarness(t, nil,
		WithIdentityStore(store),
		WithConsent(ConsentFunc(func() bool { return false })))

	if received(t, h.pipeline.Submit(EventPageview, nil, nil)) {
		t.Error("denied submission should resolve false")
	}
	h.clock.Advance(time.Minute)

	if n := len(h.transport.Calls()); n != 0 {
		t.Errorf("denied event sent, %d calls", n)
	}
	if id, _ := store.Load(); id != "" {
		t.Error("anonymous id created without consent")
	}
	if h.pipeline.GetMetrics().EventsSuppressed != 1 {
		t.Error("suppressed event not counted")
	}
}

func TestPipelinePrivacySignalsSuppress(t *testing.T) {
	h := newHarness(t, nil, WithPrivacySignals(PrivacySignals{GlobalPrivacyControl: true}))
	if received(t, h.pipeline.Submit(EventPageview, nil, nil)) {
		t.Error("submission under GPC should resolve false")
	}

	h = newHarness(t, func(c *Config) { c.Privacy.RespectDoNotTrack = ptrTo(false) },
		WithPrivacySignals(PrivacySignals{DoNotTrack: true}))
	h.pipeline.Submit(EventPageview, nil, nil)
	h.clock.Advance(200 * time.Millisecond)
	if n := len(h.transport.Calls()); n != 1 {
		t.Errorf("ignored DNT should still send, %d calls", n)
	}
}

func TestPipelineConsentWithdrawal(t *testing.T) {
	h := newHarness(t, nil)
	gate := h.pipeline.Consent().(*ConsentGate)

	pending := h.pipeline.Submit(EventPageview, nil, nil)
	gate.SetEnabled(false)

	if received(t, pending) {
		t.Error("discarded submission should resolve false")
	}
	if h.pipeline.GetMetrics().QueueLength != 0 {
		t.Error("queue not discarded")
	}
	if id, _ := h.store.Load(); id != "" {
		t.Error("anonymous id kept after withdrawal")
	}
	h.clock.Advance(time.Minute)
	if n := len(h.transport.Calls()); n != 0 {
		t.Fatalf("withdrawn events sent, %d calls", n)
	}

	gate.SetEnabled(true)
	h.clock.Advance(200 * time.Millisecond)

	calls := h.transport.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call after re-enable, got %d", len(calls))
	}
	records := decodeEvents(t, calls[0].body)
	if got := eventTypes(records); !reflect.DeepEqual(got, []string{EventAnonymousIDCreated, EventConsentChanged}) {
		t.Errorf("batch after re-enable = %v", got)
	}
	if records[0].AnonymousID == "anon-seeded" {
		t.Error("identity not regenerated")
	}
	if records[1].Properties["enabled"] != true {
		t.Errorf("consent_changed properties = %v", records[1].Properties)
	}
}

func TestPipelineConsentWithdrawalCancelsRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.script(throttled(time.Second))
	gate := h.pipeline.Consent().(*ConsentGate)

	h.pipeline.Submit(EventPageview, nil, nil)
	h.clock.Advance(200 * time.Millisecond)
	if h.pipeline.State() != StateRetrying {
		t.Fatalf("state = %s, want retrying", h.pipeline.State())
	}

	gate.SetEnabled(false)
	if h.pipeline.State() != StateIdle {
		t.Errorf("state after withdrawal = %s, want idle", h.pipeline.State())
	}

	h.clock.Advance(2 * time.Second)
	if n := len(h.transport.Calls()); n != 1 {
		t.Fatalf("batch resent after withdrawal, %d calls", n)
	}
	if h.pipeline.RetryCount() != 0 {
		t.Errorf("retry count = %d, want 0", h.pipeline.RetryCount())
	}
	if m := h.pipeline.GetMetrics(); m.BatchesDropped != 1 {
		t.Errorf("dropped batches = %d, want 1", m.BatchesDropped)
	}
}

type failingValue struct{}

func (failingValue) MarshalJSON() ([]byte, error) {
	return nil, errors.New("cannot encode")
}

func TestPipelineUnencodableValueDoesNotPoisonBatch(t *testing.T) {
	h := newHarness(t, nil)

	first := h.pipeline.Submit(EventPageview, nil, nil)
	nan := h.pipeline.Submit(EventClick, nil, map[string]any{"ratio": math.NaN(), "callback": func() {}})
	bad := h.pipeline.Submit(EventFormSubmit, map[string]any{"field": failingValue{}}, nil)

	if received(t, bad) {
		t.Error("unencodable submission should resolve false")
	}

	h.clock.Advance(200 * time.Millisecond)

	calls := h.transport.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	records := decodeEvents(t, calls[0].body)
	if got := eventTypes(records); !reflect.DeepEqual(got, []string{EventPageview, EventClick}) {
		t.Errorf("batch = %v", got)
	}
	if v, ok := records[1].Properties["ratio"]; !ok || v != nil {
		t.Errorf("ratio = %v (present %v), want null", v, ok)
	}
	if _, ok := records[1].Properties["callback"]; ok {
		t.Error("func property should be dropped")
	}
	if !received(t, first) || !received(t, nan) {
		t.Error("valid submissions should resolve true")
	}
}

func TestPipelineDryRunLeavesIdentityUntouched(t *testing.T) {
	store := &MemoryIdentityStore{}
	h := newHarness(t, func(c *Config) {
		c.Endpoint = ""
		c.DryRun = true
	}, WithIdentityStore(store))

	if !received(t, h.pipeline.Submit(EventPageview, nil, nil)) {
		t.Error("dry-run submission should resolve true")
	}
	if id, _ := store.Load(); id != "" {
		t.Errorf("dry-run saved anonymous id %q", id)
	}
}

func TestPipelineAnonymousIDCreated(t *testing.T) {
	store := &MemoryIdentityStore{}
	h := newHarness(t, nil, WithIdentityStore(store))

	h.pipeline.Submit(EventPageview, nil, nil)
	h.pipeline.Submit(EventClick, nil, nil)
	h.clock.Advance(200 * time.Millisecond)

	calls := h.transport.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	records := decodeEvents(t, calls[0].body)
	want := []string{EventAnonymousIDCreated, EventPageview, EventClick}
	if got := eventTypes(records); !reflect.DeepEqual(got, want) {
		t.Fatalf("batch = %v, want %v", got, want)
	}

	stored, _ := store.Load()
	if stored == "" {
		t.Fatal("anonymous id not persisted")
	}
	for _, r := range records {
		if r.AnonymousID != stored {
			t.Errorf("%s carries id %q, want %q", r.Type, r.AnonymousID, stored)
		}
	}
}

func TestPipelineAttachSource(t *testing.T) {
	h := newHarness(t, nil)

	events := make(chan Submission)
	if err := h.pipeline.Attach(NewChannelSource(events, nil)); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		events <- Submission{Type: EventClick, Data: map[string]any{"n": i}}
	}

	// Close waits for the source to stop before flushing
	if err := h.pipeline.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	calls := h.transport.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if n := len(calls[0].ids); n != 3 {
		t.Errorf("flushed %d events, want 3", n)
	}

	if err := h.pipeline.Attach(NewChannelSource(make(chan Submission), nil)); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("Attach after close = %v, want ErrPipelineClosed", err)
	}
}

func TestPipelineStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.pipeline.Submit(EventPageview, nil, nil)

	status := h.pipeline.GetStatus()
	if status["state"] != "pending" {
		t.Errorf("state = %v, want pending", status["state"])
	}
	if status["queue_length"] != 1 {
		t.Errorf("queue_length = %v, want 1", status["queue_length"])
	}
	if fmt.Sprint(status["closed"]) != "false" {
		t.Errorf("closed = %v", status["closed"])
	}
}

package analytics_transport

import (
	"context"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/your-org/roadrunner-analytics-transport/internal/clock"
)

const testEndpoint = "https://collect.example.com/v1/events"

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// sendCall is one recorded attempt
type sendCall struct {
	at   time.Time
	body []byte
	ids  []string
}

// fakeTransport records attempts and replays scripted results. With
// no script left every attempt succeeds.
type fakeTransport struct {
	mu      sync.Mutex
	clock   clock.Clock
	results []Result
	calls   []sendCall
	onSend  func(call int)
}

func (f *fakeTransport) Send(_ context.Context, batch *Batch) Result {
	f.mu.Lock()
	body := append([]byte(nil), batch.Body()...)
	f.calls = append(f.calls, sendCall{at: f.clock.Now(), body: body, ids: batch.MessageIDs()})
	n := len(f.calls)
	result := Result{Outcome: OutcomeSuccess, StatusCode: 200}
	if len(f.results) > 0 {
		result = f.results[0]
		f.results = f.results[1:]
	}
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return result
}

func (f *fakeTransport) script(results ...Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, results...)
}

func (f *fakeTransport) Calls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.calls...)
}

// fakeBeacon accepts or refuses every hand-off
type fakeBeacon struct {
	mu      sync.Mutex
	accept  bool
	batches []*Batch
}

func (b *fakeBeacon) Send(batch *Batch) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, batch)
	return b.accept
}

func (b *fakeBeacon) Batches() []*Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Batch(nil), b.batches...)
}

type harness struct {
	pipeline  *Pipeline
	clock     *clock.FakeClock
	transport *fakeTransport
	beacon    *fakeBeacon
	store     *MemoryIdentityStore
}

// newHarness builds a pipeline on a fake clock with a seeded identity,
// so batches carry only what the test submits. Later opts win.
func newHarness(t *testing.T, mutate func(*Config), opts ...Option) *harness {
	t.Helper()

	config := &Config{Enabled: true, Endpoint: testEndpoint}
	if mutate != nil {
		mutate(config)
	}
	config.InitDefaults()
	if err := config.Validate(); err != nil {
		t.Fatalf("invalid config: %v", err)
	}

	h := &harness{
		clock:  clock.Fake(testEpoch),
		beacon: &fakeBeacon{},
		store:  &MemoryIdentityStore{id: "anon-seeded"},
	}
	h.transport = &fakeTransport{clock: h.clock}

	base := []Option{
		WithLogger(zap.NewNop()),
		WithClock(h.clock),
		WithTransport(h.transport),
		WithBeacon(h.beacon),
		WithIdentityStore(h.store),
		WithEnvironment(&StaticEnvironment{
			URL:   "https://shop.example.com/products?utm_source=news",
			Title: "Products",
			Agent: "test-agent",
			Lang:  "en-US",
			TZ:    "UTC",
		}),
	}

	pipeline, err := NewPipeline(config, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	h.pipeline = pipeline
	return h
}

func decodeEvents(t *testing.T, body []byte) []*EventRecord {
	t.Helper()
	var payload wirePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	return payload.Events
}

func eventTypes(records []*EventRecord) []string {
	types := make([]string, len(records))
	for i, r := range records {
		types[i] = r.Type
	}
	return types
}

// received returns the value on ch, failing if it is not resolved yet
func received(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	default:
		t.Fatal("submission not resolved")
		return false
	}
}

func assertUnresolved(t *testing.T, ch <-chan bool) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("submission resolved early with %v", v)
	default:
	}
}

func throttled(after time.Duration) Result {
	return Result{Outcome: OutcomeRetryable, StatusCode: 429, RetryAfter: after}
}

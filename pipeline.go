package analytics_transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/your-org/roadrunner-analytics-transport/internal/clock"
)

// State is the scheduler state of a Pipeline
type State int

const (
	// StateIdle means no timer is armed and no batch is in flight.
	StateIdle State = iota
	// StatePending means the debounce timer is armed.
	StatePending
	// StateSending means a detached batch is on its first attempt.
	StateSending
	// StateRetrying means a throttled batch waits for, or is on, a retry.
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateSending:
		return "sending"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Submitter is the producer-facing side of the pipeline
type Submitter interface {
	Submit(eventType string, eventData, customData map[string]any, opts ...SubmitOption) <-chan bool
}

// SubmitOption customizes a single submission
type SubmitOption func(*submitOptions)

type submitOptions struct {
	priority Priority
}

// WithPriority sets the priority of the queued entry
func WithPriority(priority Priority) SubmitOption {
	return func(o *submitOptions) { o.priority = priority }
}

// Pipeline batches submitted events and delivers them to the collector.
//
// All scheduler state is guarded by mu. The queue is detached under mu
// before the network call, so a concurrent Submit always lands in the
// next batch. mu is never held across a send.
type Pipeline struct {
	config    *Config
	logger    *zap.Logger
	clock     clock.Clock
	builder   *PayloadBuilder
	identity  *Identity
	consent   Consent
	transport Transport
	teardown  *teardownFlusher
	metrics   *metricsCollector
	retry     *RetryController

	mu       sync.Mutex
	queue    *EventQueue
	state    State
	timer    *clock.Timer
	timerGen uint64
	waiter   chan bool
	inflight *Batch
	closing  bool
	closed   bool
	sources  []func()
}

// NewPipeline creates a pipeline for an already defaulted and
// validated config.
func NewPipeline(config *Config, opts ...Option) (*Pipeline, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.metrics == nil {
		o.metrics = newMetricsCollector()
	}
	if o.consent == nil {
		o.consent = NewConsentGate(config.Privacy, o.signals)
	}

	if o.transport == nil && !config.DryRun {
		transport, err := NewHTTPTransport(config, o.env, o.logger)
		if err != nil {
			return nil, err
		}
		o.transport = transport
	}
	if !o.beaconSet && !config.DryRun {
		var jar http.CookieJar
		if transport, ok := o.transport.(*HTTPTransport); ok {
			jar = transport.CookieJar()
		}
		beacon, err := NewBeacon(config, jar, o.logger)
		if err != nil {
			return nil, err
		}
		o.beacon = beacon
	}

	p := &Pipeline{
		config:    config,
		logger:    o.logger,
		clock:     o.clock,
		builder:   NewPayloadBuilder(o.env, o.clock, config.Library),
		identity:  NewIdentity(o.identityStore, o.logger),
		consent:   o.consent,
		transport: o.transport,
		teardown:  newTeardownFlusher(o.beacon, o.transport, config.Beacon.Timeout, o.logger),
		metrics:   o.metrics,
		retry:     NewRetryController(&config.Retry, o.logger, o.metrics),
		queue:     NewEventQueue(),
	}

	if gate, ok := o.consent.(*ConsentGate); ok {
		gate.OnChange(p.consentChanged)
	}

	return p, nil
}

// Submit builds a record for eventType and queues it for the next batch.
//
// The returned channel receives exactly one value. When the submission
// arms the debounce timer it receives the outcome of the send covering
// the entry. When a batch is already scheduled or in flight it receives
// true right away. It receives false when consent is withheld or the
// pipeline is closed.
func (p *Pipeline) Submit(eventType string, eventData, customData map[string]any, opts ...SubmitOption) <-chan bool {
	result := make(chan bool, 1)

	o := submitOptions{priority: PriorityHigh}
	for _, opt := range opts {
		opt(&o)
	}

	if !p.consent.Allowed() {
		p.metrics.IncEventsSuppressed()
		result <- false
		return result
	}

	// Dry-run never mints or persists an identifier
	if p.config.DryRun {
		record, ok := p.buildRecord(p.identity.Current(), eventType, eventData, customData)
		if !ok {
			result <- false
			return result
		}
		p.logger.Info("Dry-run: would send event",
			zap.String("message_id", record.MessageID),
			zap.String("type", record.Type),
			zap.String("priority", o.priority.String()),
			zap.Any("record", record))
		result <- true
		return result
	}

	anonymousID, created := p.identity.AnonymousID()
	record, ok := p.buildRecord(anonymousID, eventType, eventData, customData)
	if !ok {
		result <- false
		return result
	}

	now := p.clock.Now()
	entries := make([]QueuedEntry, 0, 2)
	if created {
		entries = append(entries, QueuedEntry{
			Record:   p.builder.Build(anonymousID, EventAnonymousIDCreated, nil, nil),
			Priority: PriorityLow,
			QueuedAt: now,
		})
	}
	entries = append(entries, QueuedEntry{Record: record, Priority: o.priority, QueuedAt: now})

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		result <- false
		return result
	}

	for _, entry := range entries {
		p.queue.Enqueue(entry)
		p.metrics.IncEventsSubmitted()
		p.metrics.IncEventsByType(entry.Record.Type)
	}

	if p.state != StateIdle {
		result <- true
		return result
	}

	p.state = StatePending
	p.waiter = result
	p.armLocked(p.config.Debounce, p.fireDebounce)
	return result
}

// buildRecord builds a record and checks that it encodes on its own, so
// one bad value can never fail a whole batch.
func (p *Pipeline) buildRecord(anonymousID, eventType string, eventData, customData map[string]any) (*EventRecord, bool) {
	record := p.builder.Build(anonymousID, eventType, eventData, customData)
	if _, err := json.Marshal(record); err != nil {
		p.logger.Debug("Rejecting event that could not be encoded",
			zap.String("message_id", record.MessageID),
			zap.String("type", record.Type),
			zap.Error(err))
		return nil, false
	}
	return record, true
}

// SubmitAndWait submits an event and blocks until its channel resolves
// or ctx is done.
func (p *Pipeline) SubmitAndWait(ctx context.Context, eventType string, eventData, customData map[string]any, opts ...SubmitOption) bool {
	select {
	case delivered := <-p.Submit(eventType, eventData, customData, opts...):
		return delivered
	case <-ctx.Done():
		return false
	}
}

// armLocked replaces the single scheduler timer. Timers superseded or
// stopped too late to prevent firing see a stale generation and return.
func (p *Pipeline) armLocked(delay time.Duration, fire func(gen uint64)) {
	p.timerGen++
	gen := p.timerGen
	p.timer = p.clock.AfterFunc(delay, func() { fire(gen) })
}

// cancelTimerLocked stops the armed timer, if any.
func (p *Pipeline) cancelTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.timerGen++
}

// fireDebounce detaches the queue and sends it as one batch.
func (p *Pipeline) fireDebounce(gen uint64) {
	p.mu.Lock()
	if gen != p.timerGen || p.state != StatePending {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	waiter := p.waiter
	p.waiter = nil

	entries := p.queue.Detach()
	if len(entries) == 0 {
		p.state = StateIdle
		p.mu.Unlock()
		resolve(waiter, true)
		return
	}

	batch, err := NewBatch(entries, p.config.Transport.Compression)
	if err != nil {
		p.logger.Debug("Dropping batch that could not be encoded",
			zap.Int("batch_size", len(entries)),
			zap.Error(err))
		p.metrics.IncFailedBatches()
		p.state = StateIdle
		p.mu.Unlock()
		resolve(waiter, false)
		return
	}

	p.state = StateSending
	p.inflight = batch
	p.mu.Unlock()

	p.send(batch, waiter)
}

// fireRetry resends the frozen batch.
func (p *Pipeline) fireRetry(gen uint64, batch *Batch) {
	p.mu.Lock()
	if gen != p.timerGen || p.state != StateRetrying || p.inflight != batch {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.mu.Unlock()

	p.send(batch, nil)
}

// send performs one attempt of batch and applies the outcome.
func (p *Pipeline) send(batch *Batch, waiter chan bool) {
	result := p.transport.Send(context.Background(), batch)

	p.mu.Lock()
	if p.inflight != batch {
		p.mu.Unlock()
		resolve(waiter, result.Delivered())
		return
	}

	switch result.Outcome {
	case OutcomeSuccess:
		p.retry.Succeeded(batch)
		p.finishLocked()

	case OutcomeRetryable:
		if p.closed {
			p.retry.Abandon(batch)
			p.finishLocked()
			break
		}
		delay, ok := p.retry.ShouldRetry(batch, result)
		if !ok {
			p.finishLocked()
			break
		}
		p.state = StateRetrying
		p.armLocked(delay, func(gen uint64) { p.fireRetry(gen, batch) })

	default:
		p.retry.Failed(batch, result)
		p.finishLocked()
	}
	p.mu.Unlock()

	resolve(waiter, result.Delivered())
}

// finishLocked returns the scheduler to idle once a batch is settled.
// Entries queued meanwhile wait for the next Submit to arm a timer.
func (p *Pipeline) finishLocked() {
	p.state = StateIdle
	p.inflight = nil
	p.timer = nil
}

// consentChanged reacts to transitions of the consent gate
func (p *Pipeline) consentChanged(allowed bool) {
	if allowed {
		p.logger.Debug("Analytics consent granted")
		p.Submit(EventConsentChanged, map[string]any{"enabled": true}, nil)
		return
	}

	p.identity.Reset()

	p.mu.Lock()
	var waiter chan bool
	switch {
	case p.state == StatePending:
		p.cancelTimerLocked()
		p.state = StateIdle
		waiter = p.waiter
		p.waiter = nil
	case p.state == StateRetrying && p.timer != nil:
		// No resend after opt-out
		p.cancelTimerLocked()
		p.retry.Abandon(p.inflight)
		p.finishLocked()
	}
	discarded := p.queue.Detach()
	p.mu.Unlock()

	p.logger.Debug("Analytics consent withdrawn, queue discarded",
		zap.Int("discarded", len(discarded)))
	resolve(waiter, false)
}

// Attach subscribes the pipeline to an event source. The source is
// unsubscribed on Close.
func (p *Pipeline) Attach(source EventSource) error {
	unsubscribe, err := source.Subscribe(p)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed || p.closing {
		p.mu.Unlock()
		unsubscribe()
		return ErrPipelineClosed
	}
	p.sources = append(p.sources, unsubscribe)
	p.mu.Unlock()
	return nil
}

// Identity returns the anonymous identity of this pipeline
func (p *Pipeline) Identity() *Identity {
	return p.identity
}

// Consent returns the gate consulted before every submission
func (p *Pipeline) Consent() Consent {
	return p.consent
}

// State returns the current scheduler state
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// RetryCount returns the retries spent on the batch in flight
func (p *Pipeline) RetryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retry.RetryCount()
}

// GetMetrics returns current pipeline metrics
func (p *Pipeline) GetMetrics() PipelineMetrics {
	m := p.metrics.snapshot()
	m.QueueLength = p.queue.Len()
	return m
}

// GetStatus returns current pipeline status
func (p *Pipeline) GetStatus() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	return map[string]interface{}{
		"state":        p.state.String(),
		"queue_length": p.queue.Len(),
		"closed":       p.closed,
		"retry":        p.retry.GetRetryStats(),
		"metrics":      p.metrics.snapshot(),
	}
}

// resolve delivers a submission outcome to a waiter, if there is one
func resolve(waiter chan bool, delivered bool) {
	if waiter != nil {
		waiter <- delivered
	}
}

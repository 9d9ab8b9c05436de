package analytics_transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Beacon is a fire-and-forget delivery primitive that keeps working
// after the caller has moved on. Send reports whether the batch was
// handed off, not whether it arrived.
type Beacon interface {
	Send(batch *Batch) bool
}

// asyncBeacon hands batches to background requests detached from any
// caller context. Hand-off is refused when the body is over the size
// limit or every slot is busy.
type asyncBeacon struct {
	client     *http.Client
	url        string
	accept     string
	maxPayload int
	timeout    time.Duration
	slots      *semaphore.Weighted
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewBeacon checks the configuration for beacon support and returns
// nil when teardown must go through the regular transport. jar is
// shared with the regular transport so the collector sees the same
// cookies; nil disables cookies.
func NewBeacon(config *Config, jar http.CookieJar, logger *zap.Logger) (Beacon, error) {
	if config.Beacon.Enabled != nil && !*config.Beacon.Enabled {
		return nil, nil
	}
	if config.Beacon.MaxPayloadBytes <= 0 || config.Beacon.Concurrency <= 0 {
		return nil, nil
	}

	endpoint, err := ParseEndpoint(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &asyncBeacon{
		client:     &http.Client{Timeout: config.Beacon.Timeout, Jar: jar},
		url:        endpoint.URL,
		accept:     AcceptHeader(config.Vendor),
		maxPayload: config.Beacon.MaxPayloadBytes,
		timeout:    config.Beacon.Timeout,
		slots:      semaphore.NewWeighted(int64(config.Beacon.Concurrency)),
		logger:     logger,
	}, nil
}

// Send implements Beacon
func (b *asyncBeacon) Send(batch *Batch) bool {
	body := batch.Body()
	if len(body) > b.maxPayload {
		b.logger.Debug("Beacon refused oversized batch",
			zap.Int("body_size", len(body)),
			zap.Int("max_payload_bytes", b.maxPayload))
		return false
	}
	if !b.slots.TryAcquire(1) {
		b.logger.Debug("Beacon refused batch, no free slot")
		return false
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.slots.Release(1)
		b.post(body, batch.ContentEncoding(), batch.Len())
	}()
	return true
}

func (b *asyncBeacon) post(body []byte, encoding string, size int) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		b.logger.Debug("Failed to create beacon request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json;charset=utf-8")
	req.Header.Set("Accept", b.accept)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Debug("Beacon request failed", zap.Int("batch_size", size), zap.Error(err))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	b.logger.Debug("Beacon delivered",
		zap.Int("batch_size", size),
		zap.Int("status_code", resp.StatusCode))
}

// Wait blocks until handed-off requests finish or ctx is done
func (b *asyncBeacon) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardownFlusher delivers the final batch exactly once, preferring
// the beacon and falling back to the transport.
type teardownFlusher struct {
	beacon    Beacon
	transport Transport
	timeout   time.Duration
	logger    *zap.Logger
}

func newTeardownFlusher(beacon Beacon, transport Transport, timeout time.Duration, logger *zap.Logger) *teardownFlusher {
	return &teardownFlusher{
		beacon:    beacon,
		transport: transport,
		timeout:   timeout,
		logger:    logger,
	}
}

func (f *teardownFlusher) deliver(batch *Batch) bool {
	if f.beacon != nil && f.beacon.Send(batch) {
		f.logger.Debug("Teardown batch handed to beacon", zap.Int("batch_size", batch.Len()))
		return true
	}
	if f.transport == nil {
		return false
	}

	ctx := context.Background()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	result := f.transport.Send(ctx, batch)
	f.logger.Debug("Teardown batch sent through transport",
		zap.Int("batch_size", batch.Len()),
		zap.String("outcome", result.Outcome.String()))
	return result.Delivered()
}

// Flush is the page hide/unload path. It cancels a pending debounce
// timer and delivers everything queued in a single attempt that never
// enters the retry chain. A batch already awaiting retry is left alone.
func (p *Pipeline) Flush() bool {
	p.mu.Lock()
	var waiter chan bool
	if p.state == StatePending {
		p.cancelTimerLocked()
		p.state = StateIdle
		waiter = p.waiter
		p.waiter = nil
	}
	entries := p.queue.Detach()
	p.mu.Unlock()

	if len(entries) == 0 {
		resolve(waiter, true)
		return true
	}

	batch, err := NewBatch(entries, p.config.Transport.Compression)
	if err != nil {
		p.logger.Debug("Dropping teardown batch that could not be encoded", zap.Error(err))
		p.metrics.IncFailedBatches()
		resolve(waiter, false)
		return false
	}

	p.metrics.IncTeardownFlushes()
	delivered := p.teardown.deliver(batch)
	resolve(waiter, delivered)
	return delivered
}

// Close is the explicit destroy path: event sources are unsubscribed,
// the queue is flushed, and a batch waiting for a retry is abandoned.
// Close is idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed || p.closing {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	sources := p.sources
	p.sources = nil
	p.mu.Unlock()

	// Submissions a source has in progress still land in the final flush
	for _, unsubscribe := range sources {
		unsubscribe()
	}

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.Flush()

	p.mu.Lock()
	if p.state == StateRetrying && p.timer != nil {
		p.cancelTimerLocked()
		p.retry.Abandon(p.inflight)
		p.finishLocked()
	}
	p.mu.Unlock()

	return nil
}

// Shutdown closes the pipeline and waits for beacon requests handed
// off during teardown.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if err := p.Close(); err != nil {
		return err
	}
	if w, ok := p.teardown.beacon.(interface{ Wait(context.Context) error }); ok {
		return w.Wait(ctx)
	}
	return nil
}

package analytics_transport

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// wirePayload is the request body shape expected by the collector.
type wirePayload struct {
	Events []*EventRecord `json:"events"`
}

// Batch is an immutable snapshot of queued events. The body is encoded
// once when the batch is created so every retry sends the same bytes.
type Batch struct {
	events   []*EventRecord
	body     []byte
	encoding string
}

// NewBatch snapshots entries into a Batch, preserving their order.
func NewBatch(entries []QueuedEntry, compress bool) (*Batch, error) {
	events := make([]*EventRecord, 0, len(entries))
	for _, entry := range entries {
		events = append(events, entry.Record)
	}

	body, err := json.Marshal(wirePayload{Events: events})
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	b := &Batch{events: events, body: body}
	if compress {
		var buf bytes.Buffer
		gzipWriter := gzip.NewWriter(&buf)
		if _, err := gzipWriter.Write(body); err != nil {
			return nil, fmt.Errorf("failed to compress payload: %w", err)
		}
		if err := gzipWriter.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}
		b.body = buf.Bytes()
		b.encoding = "gzip"
	}
	return b, nil
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int { return len(b.events) }

// Body returns the encoded request body. Callers must not modify it.
func (b *Batch) Body() []byte { return b.body }

// ContentEncoding is "gzip" for compressed batches and empty otherwise.
func (b *Batch) ContentEncoding() string { return b.encoding }

// MessageIDs returns the message identifiers in batch order.
func (b *Batch) MessageIDs() []string {
	ids := make([]string, len(b.events))
	for i, event := range b.events {
		ids[i] = event.MessageID
	}
	return ids
}

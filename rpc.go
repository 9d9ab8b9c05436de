package analytics_transport

import (
	"go.uber.org/zap"
)

// RPC provides RPC methods for PHP workers and other producers
type RPC struct {
	plugin *Plugin
	logger *zap.Logger
}

// NewRPC creates a new RPC instance
func NewRPC(plugin *Plugin, logger *zap.Logger) *RPC {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPC{
		plugin: plugin,
		logger: logger,
	}
}

// Submit queues a single event. The result is true when the event was
// accepted; delivery happens asynchronously.
func (r *RPC) Submit(submission *Submission, result *bool) error {
	if submission.Type == "" {
		*result = false
		return nil
	}

	r.logger.Debug("Received event via RPC",
		zap.String("type", submission.Type),
		zap.String("priority", submission.Priority))

	*result = r.accepted(submission.SubmitTo(r.plugin))
	return nil
}

// SubmitBatch queues several events in order
func (r *RPC) SubmitBatch(submissions []*Submission, result *[]bool) error {
	if len(submissions) == 0 {
		*result = []bool{}
		return nil
	}

	r.logger.Debug("Received batch of events via RPC",
		zap.Int("count", len(submissions)))

	results := make([]bool, len(submissions))
	for i, submission := range submissions {
		if submission == nil || submission.Type == "" {
			continue
		}
		results[i] = r.accepted(submission.SubmitTo(r.plugin))
	}

	*result = results
	return nil
}

// Flush delivers everything queued in one best-effort attempt
func (r *RPC) Flush(_ bool, result *bool) error {
	if err := r.plugin.Flush(); err != nil {
		*result = false
		return err
	}
	*result = true
	return nil
}

// Metrics returns current pipeline metrics
func (r *RPC) Metrics(_ bool, result *PipelineMetrics) error {
	*result = r.plugin.GetMetrics()
	return nil
}

// accepted reports an immediate resolution when there is one. A
// submission that armed the debounce timer resolves only after the
// send, so RPC callers are not held for it.
func (r *RPC) accepted(delivered <-chan bool) bool {
	select {
	case ok := <-delivered:
		return ok
	default:
		return true
	}
}

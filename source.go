package analytics_transport

import (
	"sync"

	"go.uber.org/zap"
)

// EventSource produces events for a Submitter. Subscribe starts
// delivering; the returned function stops it and must be safe to call
// more than once.
type EventSource interface {
	Subscribe(submitter Submitter) (unsubscribe func(), err error)
}

// Submission is a producer-side description of one event
type Submission struct {
	Type     string         `json:"type"`
	Data     map[string]any `json:"data,omitempty"`
	Custom   map[string]any `json:"custom,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

// Options converts the submission's priority into submit options
func (s *Submission) Options() []SubmitOption {
	if s.Priority == PriorityLow.String() {
		return []SubmitOption{WithPriority(PriorityLow)}
	}
	return nil
}

// SubmitTo forwards the submission
func (s *Submission) SubmitTo(submitter Submitter) <-chan bool {
	return submitter.Submit(s.Type, s.Data, s.Custom, s.Options()...)
}

// ChannelSource forwards submissions read from a channel until the
// channel is closed or the source is unsubscribed.
type ChannelSource struct {
	events <-chan Submission
	logger *zap.Logger
}

// NewChannelSource creates a source reading from events
func NewChannelSource(events <-chan Submission, logger *zap.Logger) *ChannelSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelSource{events: events, logger: logger}
}

// Subscribe implements EventSource
func (s *ChannelSource) Subscribe(submitter Submitter) (func(), error) {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			case submission, ok := <-s.events:
				if !ok {
					return
				}
				if submission.Type == "" {
					s.logger.Debug("Skipping submission without type")
					continue
				}
				submission.SubmitTo(submitter)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-stopped
	}, nil
}

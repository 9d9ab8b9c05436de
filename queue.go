package analytics_transport

import (
	"sync"
)

// EventQueue is the ordered buffer of entries waiting for the next
// batch. It is owned by a single Pipeline.
type EventQueue struct {
	mu      sync.Mutex
	entries []QueuedEntry
}

// NewEventQueue creates an empty queue
func NewEventQueue() *EventQueue {
	return &EventQueue{}
}

// Enqueue appends an entry and returns the new queue length
func (eq *EventQueue) Enqueue(entry QueuedEntry) int {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	eq.entries = append(eq.entries, entry)
	return len(eq.entries)
}

// Detach removes and returns every queued entry in insertion order.
// Entries enqueued after Detach returns belong to the next generation.
func (eq *EventQueue) Detach() []QueuedEntry {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	detached := eq.entries
	eq.entries = nil
	return detached
}

// Len returns the number of queued entries
func (eq *EventQueue) Len() int {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	return len(eq.entries)
}

// Custom errors
var (
	ErrPipelineClosed = &PluginError{Op: "pipeline_submit", Code: "pipeline_closed", Message: "pipeline is closed"}
	ErrNotConfigured  = &PluginError{Op: "plugin_submit", Code: "not_configured", Message: "plugin not initialized"}
)

// PluginError represents a plugin-specific error
type PluginError struct {
	Op      string
	Code    string
	Message string
}

func (e *PluginError) Error() string {
	return e.Message
}

package analytics_transport

import (
	"sync"
)

// Consent is consulted before every submission
type Consent interface {
	Allowed() bool
}

// ConsentFunc adapts a function to Consent
type ConsentFunc func() bool

func (f ConsentFunc) Allowed() bool { return f() }

// PrivacySignals are the browser-level opt-out signals
type PrivacySignals struct {
	DoNotTrack           bool
	GlobalPrivacyControl bool
}

// ConsentGate combines the privacy signals with an explicit
// enable/disable toggle. Listeners are told about every transition of
// Allowed, so the pipeline can clear the anonymous identifier on the
// way to disabled.
type ConsentGate struct {
	mu        sync.Mutex
	config    PrivacyConfig
	signals   PrivacySignals
	enabled   bool
	listeners []func(allowed bool)
}

// NewConsentGate creates an enabled gate honouring config
func NewConsentGate(config PrivacyConfig, signals PrivacySignals) *ConsentGate {
	return &ConsentGate{
		config:  config,
		signals: signals,
		enabled: true,
	}
}

// Allowed reports whether events may be collected and sent
func (g *ConsentGate) Allowed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowedLocked()
}

func (g *ConsentGate) allowedLocked() bool {
	if !g.enabled {
		return false
	}
	if g.signals.DoNotTrack && (g.config.RespectDoNotTrack == nil || *g.config.RespectDoNotTrack) {
		return false
	}
	if g.signals.GlobalPrivacyControl && (g.config.RespectGlobalPrivacyControl == nil || *g.config.RespectGlobalPrivacyControl) {
		return false
	}
	return true
}

// SetEnabled flips the explicit toggle
func (g *ConsentGate) SetEnabled(enabled bool) {
	g.update(func() { g.enabled = enabled })
}

// SetSignals replaces the privacy signals
func (g *ConsentGate) SetSignals(signals PrivacySignals) {
	g.update(func() { g.signals = signals })
}

// OnChange registers a listener called after Allowed changes value
func (g *ConsentGate) OnChange(listener func(allowed bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, listener)
}

func (g *ConsentGate) update(mutate func()) {
	g.mu.Lock()
	before := g.allowedLocked()
	mutate()
	after := g.allowedLocked()
	listeners := append([]func(bool){}, g.listeners...)
	g.mu.Unlock()

	if before == after {
		return
	}
	for _, listener := range listeners {
		listener(after)
	}
}

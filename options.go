package analytics_transport

import (
	"go.uber.org/zap"

	"github.com/your-org/roadrunner-analytics-transport/internal/clock"
)

// Option configures a Pipeline
type Option func(*options)

type options struct {
	logger        *zap.Logger
	clock         clock.Clock
	env           Environment
	identityStore IdentityStore
	consent       Consent
	signals       PrivacySignals
	transport     Transport
	beacon        Beacon
	beaconSet     bool
	metrics       *metricsCollector
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces the time source, tests pass clock.Fake
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithEnvironment(env Environment) Option {
	return func(o *options) { o.env = env }
}

func WithIdentityStore(store IdentityStore) Option {
	return func(o *options) { o.identityStore = store }
}

// WithConsent replaces the default ConsentGate
func WithConsent(consent Consent) Option {
	return func(o *options) { o.consent = consent }
}

// WithPrivacySignals seeds the default ConsentGate
func WithPrivacySignals(signals PrivacySignals) Option {
	return func(o *options) { o.signals = signals }
}

func WithTransport(transport Transport) Option {
	return func(o *options) { o.transport = transport }
}

// WithBeacon sets the teardown beacon. A nil beacon makes teardown use
// the transport.
func WithBeacon(beacon Beacon) Option {
	return func(o *options) {
		o.beacon = beacon
		o.beaconSet = true
	}
}

func withMetrics(metrics *metricsCollector) Option {
	return func(o *options) { o.metrics = metrics }
}

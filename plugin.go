package analytics_transport

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

// Plugin represents the main plugin structure
type Plugin struct {
	config   *Config
	logger   *zap.Logger
	pipeline *Pipeline
	metrics  *metricsCollector
	registry *Registry
	opts     []Option

	// Lifecycle
	stopCh chan struct{}
	doneCh chan struct{}
}

// Configurer interface for config plugin
type Configurer interface {
	UnmarshalKey(name string, out interface{}) error
	Has(name string) bool
}

// Logger interface for logger plugin
type Logger interface {
	NamedLogger(name string) *zap.Logger
}

// NewPlugin creates a plugin bound to registry, with extra pipeline
// options. Endure constructs a zero Plugin, which uses the process-wide
// registry.
func NewPlugin(registry *Registry, opts ...Option) *Plugin {
	return &Plugin{registry: registry, opts: opts}
}

// Init initializes the plugin
func (p *Plugin) Init(cfg Configurer, log Logger) error {
	const op = errors.Op("analytics_transport_init")

	// Check if configuration section exists
	if !cfg.Has(PluginName) {
		return errors.E(op, errors.Disabled)
	}

	// Unmarshal configuration
	config := &Config{}
	if err := cfg.UnmarshalKey(PluginName, config); err != nil {
		return errors.E(op, err)
	}

	// Initialize defaults and validate
	config.InitDefaults()
	if err := config.Validate(); err != nil {
		return errors.E(op, err)
	}

	// Check if plugin is enabled
	if !config.Enabled {
		return errors.E(op, errors.Disabled)
	}

	p.config = config
	p.logger = log.NamedLogger(PluginName)
	p.metrics = newMetricsCollector()
	if p.registry == nil {
		p.registry = defaultRegistry
	}

	opts := append([]Option{WithLogger(p.logger), withMetrics(p.metrics)}, p.opts...)
	pipeline, err := p.registry.Acquire(*config, opts...)
	if err != nil {
		return errors.E(op, err)
	}
	p.pipeline = pipeline
	// An existing pipeline keeps its own collector
	p.metrics = pipeline.metrics

	if config.DryRun {
		p.logger.Warn("Dry-run mode, events will be logged but not transmitted")
	}

	// Initialize lifecycle channels
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	p.logger.Info("Analytics transport plugin initialized",
		zap.Bool("enabled", config.Enabled),
		zap.String("endpoint", config.Endpoint),
		zap.Bool("dry_run", config.DryRun),
		zap.Duration("debounce", config.Debounce),
		zap.Int("max_attempts", config.Retry.MaxAttempts))

	return nil
}

// Serve starts the plugin
func (p *Plugin) Serve() chan error {
	errCh := make(chan error, 1)

	if p.config == nil {
		errCh <- errors.E(errors.Op("analytics_transport_serve"), errors.Str("plugin not initialized"))
		return errCh
	}

	go func() {
		defer close(p.doneCh)

		p.logger.Info("Analytics transport plugin started")

		<-p.stopCh
		p.logger.Info("Analytics transport plugin stopping")

		// Teardown flush, queued events leave in a single attempt
		if err := p.pipeline.Close(); err != nil {
			p.logger.Error("Error closing pipeline", zap.Error(err))
		}

		p.logger.Info("Analytics transport plugin stopped")
	}()

	return errCh
}

// Stop stops the plugin
func (p *Plugin) Stop(ctx context.Context) error {
	if p.stopCh == nil {
		return nil
	}
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}

	// Wait for graceful shutdown with timeout
	select {
	case <-p.doneCh:
	case <-ctx.Done():
		p.logger.Warn("Plugin stop timed out")
		return ctx.Err()
	}

	// Give teardown beacons the rest of the stop budget
	return p.registry.Destroy(ctx)
}

// Name returns the plugin name
func (p *Plugin) Name() string {
	return PluginName
}

// RPC returns the RPC interface
func (p *Plugin) RPC() interface{} {
	return NewRPC(p, p.logger)
}

// Provides returns the dependencies this plugin provides
func (p *Plugin) Provides() []*dep.Out {
	return []*dep.Out{
		dep.Bind((*Submitter)(nil), p.Submitter),
	}
}

// MetricsCollector exposes the plugin metrics to the metrics plugin
func (p *Plugin) MetricsCollector() []prometheus.Collector {
	if p.metrics == nil {
		return nil
	}
	return []prometheus.Collector{p.metrics}
}

// IsEnabled returns true if the plugin is enabled and configured
func (p *Plugin) IsEnabled() bool {
	return p.config != nil && p.config.Enabled
}

// Submitter returns the producer interface
func (p *Plugin) Submitter() Submitter {
	return p
}

// Submit implements Submitter
func (p *Plugin) Submit(eventType string, eventData, customData map[string]any, opts ...SubmitOption) <-chan bool {
	if p.pipeline == nil {
		result := make(chan bool, 1)
		result <- false
		return result
	}
	return p.pipeline.Submit(eventType, eventData, customData, opts...)
}

// Flush forces a teardown-style flush of the queue
func (p *Plugin) Flush() error {
	if p.pipeline == nil {
		return ErrNotConfigured
	}
	p.pipeline.Flush()
	return nil
}

// GetMetrics returns current pipeline metrics
func (p *Plugin) GetMetrics() PipelineMetrics {
	if p.pipeline == nil {
		return PipelineMetrics{}
	}
	return p.pipeline.GetMetrics()
}

package analytics_transport

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Registry is a slot holding at most one live Pipeline. Acquire builds
// the pipeline on first use and hands the same instance to later
// callers.
type Registry struct {
	mu       sync.Mutex
	pipeline *Pipeline
	config   Config
}

var defaultRegistry = &Registry{}

// Acquire returns the registered pipeline, creating it from config if
// the slot is empty. A later call with a different config still gets
// the existing pipeline, and the mismatch is logged.
func (r *Registry) Acquire(config Config, opts ...Option) (*Pipeline, error) {
	config.InitDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pipeline != nil && !r.pipeline.isClosed() {
		if !reflect.DeepEqual(r.config, config) {
			r.pipeline.logger.Warn("Analytics pipeline already exists with a different configuration, reusing it",
				zap.String("endpoint", r.config.Endpoint),
				zap.String("requested_endpoint", config.Endpoint))
		}
		return r.pipeline, nil
	}

	stored := config
	pipeline, err := NewPipeline(&stored, opts...)
	if err != nil {
		return nil, err
	}
	r.pipeline = pipeline
	r.config = config
	return pipeline, nil
}

// Current returns the registered pipeline or nil
func (r *Registry) Current() *Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipeline
}

// Destroy shuts the registered pipeline down and empties the slot
func (r *Registry) Destroy(ctx context.Context) error {
	r.mu.Lock()
	pipeline := r.pipeline
	r.pipeline = nil
	r.config = Config{}
	r.mu.Unlock()

	if pipeline == nil {
		return nil
	}
	return pipeline.Shutdown(ctx)
}

// Instance acquires the process-wide pipeline
func Instance(config Config, opts ...Option) (*Pipeline, error) {
	return defaultRegistry.Acquire(config, opts...)
}

// Destroy shuts down the process-wide pipeline
func Destroy(ctx context.Context) error {
	return defaultRegistry.Destroy(ctx)
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || p.closing
}

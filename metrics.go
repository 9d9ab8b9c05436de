package analytics_transport

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "rr_analytics_transport"
)

// metricsCollector implements prometheus.Collector interface
type metricsCollector struct {
	// Atomic counters for thread-safe metric updates
	eventsSubmitted  *uint64 // Events accepted into the queue
	eventsSuppressed *uint64 // Events refused by the consent gate
	sentBatches      *uint64 // Batches delivered with a 2xx
	failedBatches    *uint64 // Batches dropped after a terminal or network failure
	droppedBatches   *uint64 // Batches dropped after exhausting retries
	retries          *uint64 // Retry attempts scheduled
	recovered        *uint64 // Batches delivered after at least one retry
	teardownFlushes  *uint64 // Teardown flushes that carried events

	// Prometheus metric descriptors
	eventsSubmittedDesc  *prometheus.Desc
	eventsSuppressedDesc *prometheus.Desc
	sentBatchesDesc      *prometheus.Desc
	failedBatchesDesc    *prometheus.Desc
	droppedBatchesDesc   *prometheus.Desc
	retriesDesc          *prometheus.Desc
	recoveredDesc        *prometheus.Desc
	teardownFlushesDesc  *prometheus.Desc

	// Vector metric for events by type
	eventsByType *prometheus.CounterVec
}

// newMetricsCollector creates a new metrics collector
func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		eventsSubmitted:  ptrTo(uint64(0)),
		eventsSuppressed: ptrTo(uint64(0)),
		sentBatches:      ptrTo(uint64(0)),
		failedBatches:    ptrTo(uint64(0)),
		droppedBatches:   ptrTo(uint64(0)),
		retries:          ptrTo(uint64(0)),
		recovered:        ptrTo(uint64(0)),
		teardownFlushes:  ptrTo(uint64(0)),

		eventsSubmittedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_submitted_total"),
			"Total number of events accepted into the queue",
			nil, nil),

		eventsSuppressedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_suppressed_total"),
			"Total number of events refused by the consent gate",
			nil, nil),

		sentBatchesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "batches_sent_total"),
			"Total number of batches delivered",
			nil, nil),

		failedBatchesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "batches_failed_total"),
			"Total number of batches dropped after a terminal failure",
			nil, nil),

		droppedBatchesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "batches_dropped_total"),
			"Total number of batches dropped after exhausting retries",
			nil, nil),

		retriesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "retries_total"),
			"Total number of scheduled batch retries",
			nil, nil),

		recoveredDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "batches_recovered_total"),
			"Total number of batches delivered after at least one retry",
			nil, nil),

		teardownFlushesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "teardown_flushes_total"),
			"Total number of teardown flushes that carried events",
			nil, nil),

		eventsByType: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prometheus.BuildFQName(namespace, "", "events_by_type_total"),
				Help: "Total number of submitted events by event type",
			},
			[]string{"event_type"}),
	}
}

// Public methods for updating metrics (called from business logic)

func (mc *metricsCollector) IncEventsSubmitted()  { atomic.AddUint64(mc.eventsSubmitted, 1) }
func (mc *metricsCollector) IncEventsSuppressed() { atomic.AddUint64(mc.eventsSuppressed, 1) }
func (mc *metricsCollector) IncSentBatches()      { atomic.AddUint64(mc.sentBatches, 1) }
func (mc *metricsCollector) IncFailedBatches()    { atomic.AddUint64(mc.failedBatches, 1) }
func (mc *metricsCollector) IncDroppedBatches()   { atomic.AddUint64(mc.droppedBatches, 1) }
func (mc *metricsCollector) IncRetries()          { atomic.AddUint64(mc.retries, 1) }
func (mc *metricsCollector) IncRecovered()        { atomic.AddUint64(mc.recovered, 1) }
func (mc *metricsCollector) IncTeardownFlushes()  { atomic.AddUint64(mc.teardownFlushes, 1) }

// IncEventsByType increments events counter for specific event type.
// Custom event types are folded into "custom" to bound cardinality.
func (mc *metricsCollector) IncEventsByType(eventType string) {
	if !isStandardEventType(eventType) {
		eventType = "custom"
	}
	mc.eventsByType.WithLabelValues(eventType).Inc()
}

// snapshot copies the counters into a PipelineMetrics value
func (mc *metricsCollector) snapshot() PipelineMetrics {
	return PipelineMetrics{
		EventsSubmitted:  int64(atomic.LoadUint64(mc.eventsSubmitted)),
		EventsSuppressed: int64(atomic.LoadUint64(mc.eventsSuppressed)),
		BatchesSent:      int64(atomic.LoadUint64(mc.sentBatches)),
		BatchesFailed:    int64(atomic.LoadUint64(mc.failedBatches)),
		BatchesDropped:   int64(atomic.LoadUint64(mc.droppedBatches)),
		TotalRetries:     int64(atomic.LoadUint64(mc.retries)),
		Recovered:        int64(atomic.LoadUint64(mc.recovered)),
		TeardownFlushes:  int64(atomic.LoadUint64(mc.teardownFlushes)),
	}
}

// Implement prometheus.Collector interface

// Describe sends all metric descriptions to Prometheus
func (mc *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- mc.eventsSubmittedDesc
	ch <- mc.eventsSuppressedDesc
	ch <- mc.sentBatchesDesc
	ch <- mc.failedBatchesDesc
	ch <- mc.droppedBatchesDesc
	ch <- mc.retriesDesc
	ch <- mc.recoveredDesc
	ch <- mc.teardownFlushesDesc

	mc.eventsByType.Describe(ch)
}

// Collect sends current metric values to Prometheus
func (mc *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	counters := []struct {
		desc  *prometheus.Desc
		value *uint64
	}{
		{mc.eventsSubmittedDesc, mc.eventsSubmitted},
		{mc.eventsSuppressedDesc, mc.eventsSuppressed},
		{mc.sentBatchesDesc, mc.sentBatches},
		{mc.failedBatchesDesc, mc.failedBatches},
		{mc.droppedBatchesDesc, mc.droppedBatches},
		{mc.retriesDesc, mc.retries},
		{mc.recoveredDesc, mc.recovered},
		{mc.teardownFlushesDesc, mc.teardownFlushes},
	}
	for _, c := range counters {
		ch <- prometheus.MustNewConstMetric(
			c.desc,
			prometheus.CounterValue,
			float64(atomic.LoadUint64(c.value)))
	}

	mc.eventsByType.Collect(ch)
}

// Helper function for pointer creation
func ptrTo[T any](v T) *T {
	return &v
}

func isStandardEventType(eventType string) bool {
	switch eventType {
	case EventPageview, EventClick, EventFormSubmit, EventVisibilityChange, EventPageHide,
		EventScrollDepth, EventOutboundLink, EventAnonymousIDCreated, EventConsentChanged:
		return true
	}
	return false
}

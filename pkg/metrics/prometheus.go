// Package metrics provides Prometheus metrics for the herald notification service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Pipeline metrics
	eventsReceived   prometheus.Counter
	eventsDropped    *prometheus.CounterVec
	eventsDuplicate  prometheus.Counter
	eventsProcessed  prometheus.Counter
	eventsFailed     prometheus.Counter
	sideEffects      *prometheus.CounterVec
	pipelineLatency  prometheus.Histogram
	decisions        *prometheus.CounterVec
	profileVerdicts  *prometheus.CounterVec
	evaluations      prometheus.Counter
	evaluationErrors prometheus.Counter
	semanticFallback prometheus.Counter

	// Delivery metrics
	deliveryLatency  prometheus.Histogram
	deliveryFailures *prometheus.CounterVec
	outboxSize       prometheus.Gauge

	// Digest metrics
	digestRuns         *prometheus.CounterVec
	digestItems        *prometheus.HistogramVec
	digestLeaseContend prometheus.Counter

	// Queue metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueue       prometheus.Counter
	queueDequeue       prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker metrics
	workerCount   prometheus.Gauge
	workerBusy    prometheus.Gauge
	workerLatency prometheus.Histogram

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	ingestRequests      *prometheus.CounterVec

	// Error metrics
	errorsByComponent *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "herald",
		subsystem:        "pipeline",
		histogramBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of metric definitions
	// Pipeline
	m.eventsReceived = m.counter("events_received_total", "Total number of raw events received")
	m.eventsDropped = m.counterVec("events_dropped_total", "Events dropped by the classifier, by reason", "reason")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Events skipped because another delivery already claimed them")
	m.eventsProcessed = m.counter("events_processed_total", "Events advanced to processed")
	m.eventsFailed = m.counter("events_failed_total", "Events released for redelivery after a processing error")
	m.sideEffects = m.counterVec("side_effects_total", "Side-effect-only events applied, by kind", "kind")
	m.pipelineLatency = m.histogram("event_latency_milliseconds", "End-to-end latency of a claimed event", m.histogramBuckets)
	m.decisions = m.counterVec("decisions_total", "Delivery decisions emitted, by target kind", "target")
	m.profileVerdicts = m.counterVec("profile_verdicts_total", "Per-profile verdicts produced by the preference matcher", "outcome")
	m.evaluations = m.counter("subscriber_evaluations_total", "Subscriber evaluations executed")
	m.evaluationErrors = m.counter("subscriber_failures_total", "Subscriber evaluations that failed in isolation")
	m.semanticFallback = m.counter("keyword_semantic_fallbacks_total", "Semantic keyword checks that fell back to literal matching")

	// Delivery
	m.deliveryLatency = m.histogram("delivery_latency_milliseconds", "Latency of publishing a decision to the delivery collaborator", m.histogramBuckets)
	m.deliveryFailures = m.counterVec("delivery_failures_total", "Publishes that failed after retries", "kind")
	m.outboxSize = m.gauge("delivery_outbox_size", "Pending entries in the delivery outbox")

	// Digest
	m.digestRuns = m.counterVec("digest_runs_total", "Digest slot evaluations, by result", "result")
	m.digestItems = m.histogramVec("digest_items", "Items per digest bucket", []float64{0, 1, 2, 5, 10, 25, 50, 100}, "bucket")
	m.digestLeaseContend = m.counter("digest_lease_contended_total", "Digest slots skipped because another run held the lease")

	// Queue
	m.queueSize = m.gauge("queue_size", "Current size of the ingest queue")
	m.queueCapacity = m.gauge("queue_capacity", "Configured capacity of the ingest queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Ingest queue utilization (size / capacity)")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Events enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Events dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Enqueue attempts rejected")

	// Worker
	m.workerCount = m.gauge("worker_count", "Subscriber evaluation workers")
	m.workerBusy = m.gauge("worker_busy", "Workers currently evaluating a subscriber")
	m.workerLatency = m.histogram("worker_task_latency_milliseconds", "Latency of a single subscriber evaluation", m.histogramBuckets)

	// HTTP
	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		m.histogramBuckets, "endpoint", "method", "status_code")
	m.ingestRequests = m.counterVec("ingest_requests_total", "Events posted to the ingest endpoint, by kind and outcome", "kind", "outcome")

	// Errors
	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")

	// System
	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordEventReceived increments the received events counter.
func RecordEventReceived() { globalManager.eventsReceived.Inc() }

// RecordEventDropped increments the dropped events counter for a classifier reason.
func RecordEventDropped(reason string) { globalManager.eventsDropped.WithLabelValues(reason).Inc() }

// RecordEventDuplicate increments the duplicate events counter.
func RecordEventDuplicate() { globalManager.eventsDuplicate.Inc() }

// RecordEventProcessed increments the processed events counter.
func RecordEventProcessed() { globalManager.eventsProcessed.Inc() }

// RecordEventFailed increments the failed (released) events counter.
func RecordEventFailed() { globalManager.eventsFailed.Inc() }

// RecordSideEffect increments the side-effect counter for an event kind.
func RecordSideEffect(kind string) { globalManager.sideEffects.WithLabelValues(kind).Inc() }

// RecordEventLatency observes end-to-end latency for a claimed event.
func RecordEventLatency(latencyMs float64) { globalManager.pipelineLatency.Observe(latencyMs) }

// RecordDecision increments the decisions counter for a delivery target kind.
func RecordDecision(target string) { globalManager.decisions.WithLabelValues(target).Inc() }

// RecordProfileVerdict increments the verdict counter for a profile outcome.
func RecordProfileVerdict(outcome string) { globalManager.profileVerdicts.WithLabelValues(outcome).Inc() }

// RecordSubscriberEvaluation increments the evaluations counter.
func RecordSubscriberEvaluation() { globalManager.evaluations.Inc() }

// RecordSubscriberFailure increments the isolated evaluation failure counter.
func RecordSubscriberFailure() { globalManager.evaluationErrors.Inc() }

// RecordSemanticFallback increments the semantic keyword fallback counter.
func RecordSemanticFallback() { globalManager.semanticFallback.Inc() }

// RecordDeliveryLatency observes publish latency.
func RecordDeliveryLatency(latencyMs float64) { globalManager.deliveryLatency.Observe(latencyMs) }

// RecordDeliveryFailure increments the delivery failure counter ("decision" or "digest").
func RecordDeliveryFailure(kind string) { globalManager.deliveryFailures.WithLabelValues(kind).Inc() }

// UpdateOutboxSize sets the outbox gauge.
func UpdateOutboxSize(size int) { globalManager.outboxSize.Set(float64(size)) }

// RecordDigestRun increments the digest run counter ("sent", "suppressed", "failed").
func RecordDigestRun(result string) { globalManager.digestRuns.WithLabelValues(result).Inc() }

// RecordDigestItems observes the number of items in one digest bucket.
func RecordDigestItems(bucket string, n int) {
	globalManager.digestItems.WithLabelValues(bucket).Observe(float64(n))
}

// RecordDigestLeaseContended increments the lease contention counter.
func RecordDigestLeaseContended() { globalManager.digestLeaseContend.Inc() }

// UpdateQueueSize sets the queue size gauge.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity gauge.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization gauge.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueue.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeue.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// UpdateWorkerCount sets the worker count gauge.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// AddWorkerBusy adjusts the busy worker gauge by delta.
func AddWorkerBusy(delta int) { globalManager.workerBusy.Add(float64(delta)) }

// RecordWorkerLatency observes a single evaluation latency.
func RecordWorkerLatency(latencyMs float64) { globalManager.workerLatency.Observe(latencyMs) }

// RecordHTTPRequest increments the HTTP requests counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordIngest counts one ingest request by event kind and outcome.
func RecordIngest(kind, outcome string) {
	globalManager.ingestRequests.WithLabelValues(kind, outcome).Inc()
}

// RecordError increments the error counter for a component.
func RecordError(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the memory usage gauge.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime observes the average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the registry backing the package-level recorders.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

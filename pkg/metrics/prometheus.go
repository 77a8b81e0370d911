// Package metrics provides Prometheus metrics for the open source tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the tracker.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Collection Metrics - one per runCollectionCycle
	collectionRuns     *prometheus.CounterVec
	collectionDuration *prometheus.HistogramVec
	collectionShared   *prometheus.CounterVec
	samplesWritten     *prometheus.CounterVec
	recordsSkipped     *prometheus.CounterVec

	// Pager Metrics - upstream pagination
	pagerPages   *prometheus.CounterVec
	pagerRecords *prometheus.CounterVec
	pagerRetries *prometheus.CounterVec
	pagerStops   *prometheus.CounterVec

	// Store Metrics
	storeWriteLatency *prometheus.HistogramVec
	storeQueryLatency *prometheus.HistogramVec
	storeWriteRetries *prometheus.CounterVec
	storeSeries       prometheus.Gauge

	// Queue Metrics - collection request queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	queueDuplicates    prometheus.Counter

	// Worker Metrics
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Scheduler Metrics
	schedulerFires      prometheus.Counter
	schedulerMissed     prometheus.Counter
	schedulerLastUnix   prometheus.Gauge
	schedulerNextUnix   prometheus.Gauge
	schedulerJobLatency prometheus.Histogram

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tracker",
		subsystem:        "collector",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.collectionRuns = m.counterVec("collection_runs_total",
		"Total collection cycles by metric kind and outcome", "kind", "outcome")
	m.collectionDuration = m.histogramVec("collection_duration_milliseconds",
		"Collection cycle duration in milliseconds", "kind")
	m.collectionShared = m.counterVec("collection_shared_total",
		"Collection requests answered by an in-flight cycle for the same entity", "kind")
	m.samplesWritten = m.counterVec("samples_written_total",
		"Samples upserted into the time series store", "kind")
	m.recordsSkipped = m.counterVec("records_skipped_total",
		"Malformed upstream records skipped during collection", "kind")

	m.pagerPages = m.counterVec("pager_pages_total",
		"Pages fetched successfully by endpoint", "endpoint")
	m.pagerRecords = m.counterVec("pager_records_total",
		"Records received from upstream pages by endpoint", "endpoint")
	m.pagerRetries = m.counterVec("pager_retries_total",
		"Page request retries by endpoint", "endpoint")
	m.pagerStops = m.counterVec("pager_stops_total",
		"Finished pagination walks by endpoint and stop reason", "endpoint", "reason")

	m.storeWriteLatency = m.histogramVec("store_write_latency_milliseconds",
		"Store upsert latency in milliseconds", "driver")
	m.storeQueryLatency = m.histogramVec("store_query_latency_milliseconds",
		"Store range query latency in milliseconds", "driver")
	m.storeWriteRetries = m.counterVec("store_write_retries_total",
		"Store write attempts retried after a failure", "driver")
	m.storeSeries = m.gauge("store_series",
		"Number of (kind, entity) series known to the store")

	m.queueSize = m.gauge("queue_size", "Current number of pending collection requests")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Total number of collection requests enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Total number of collection requests dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Collection requests rejected by a full or closed queue")
	m.queueDuplicates = m.counter("queue_duplicates_total", "Collection requests dropped because an identical one is pending")

	m.workerActiveCount = m.gauge("worker_active_count", "Number of running workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Time from dequeue to finished collection in milliseconds")
	m.workerErrors = m.counter("worker_errors_total", "Collection requests that finished with an error")

	m.schedulerFires = m.counter("scheduler_fires_total", "Scheduled collection runs started")
	m.schedulerMissed = m.counter("scheduler_missed_total", "Scheduled fires skipped because the previous run overran")
	m.schedulerLastUnix = m.gauge("scheduler_last_fire_unix", "Unix timestamp of the last scheduled run")
	m.schedulerNextUnix = m.gauge("scheduler_next_fire_unix", "Unix timestamp of the next scheduled run")
	m.schedulerJobLatency = m.histogram("scheduler_job_duration_milliseconds", "Scheduled job duration in milliseconds")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Current heap allocation in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Current number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause time in milliseconds")

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Total number of errors by component", "component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total",
		"Total number of HTTP errors by endpoint", "endpoint", "method", "error_type")
}

// Collection Metrics Functions.

// RecordCollectionRun records one finished collection cycle.
func RecordCollectionRun(kind, outcome string, durationMs float64) {
	globalManager.collectionRuns.WithLabelValues(kind, outcome).Inc()
	globalManager.collectionDuration.WithLabelValues(kind).Observe(durationMs)
}

// RecordCollectionShared records a request that joined an in-flight cycle.
func RecordCollectionShared(kind string) {
	globalManager.collectionShared.WithLabelValues(kind).Inc()
}

// RecordSamplesWritten adds n written samples for kind.
func RecordSamplesWritten(kind string, n int) {
	globalManager.samplesWritten.WithLabelValues(kind).Add(float64(n))
}

// RecordRecordsSkipped adds n skipped upstream records for kind.
func RecordRecordsSkipped(kind string, n int) {
	globalManager.recordsSkipped.WithLabelValues(kind).Add(float64(n))
}

// Pager Metrics Functions.

// RecordPagerPage records a fetched page and its record count.
func RecordPagerPage(endpoint string, records int) {
	globalManager.pagerPages.WithLabelValues(endpoint).Inc()
	globalManager.pagerRecords.WithLabelValues(endpoint).Add(float64(records))
}

// RecordPagerRetry records a retried page request.
func RecordPagerRetry(endpoint string) {
	globalManager.pagerRetries.WithLabelValues(endpoint).Inc()
}

// RecordPagerStop records the end of a pagination walk.
func RecordPagerStop(endpoint, reason string) {
	globalManager.pagerStops.WithLabelValues(endpoint, reason).Inc()
}

// Store Metrics Functions.

// RecordStoreWriteLatency records an upsert latency.
func RecordStoreWriteLatency(driver string, latencyMs float64) {
	globalManager.storeWriteLatency.WithLabelValues(driver).Observe(latencyMs)
}

// RecordStoreQueryLatency records a range query latency.
func RecordStoreQueryLatency(driver string, latencyMs float64) {
	globalManager.storeQueryLatency.WithLabelValues(driver).Observe(latencyMs)
}

// RecordStoreWriteRetry records a retried store write.
func RecordStoreWriteRetry(driver string) {
	globalManager.storeWriteRetries.WithLabelValues(driver).Inc()
}

// UpdateStoreSeries sets the number of known series.
func UpdateStoreSeries(count int) {
	globalManager.storeSeries.Set(float64(count))
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueDuplicate increments the duplicate request counter.
func RecordQueueDuplicate() {
	globalManager.queueDuplicates.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// Scheduler Metrics Functions.

// RecordSchedulerFire records a started scheduled run.
func RecordSchedulerFire(unix int64) {
	globalManager.schedulerFires.Inc()
	globalManager.schedulerLastUnix.Set(float64(unix))
}

// RecordSchedulerMissed adds n skipped fires.
func RecordSchedulerMissed(n int) {
	globalManager.schedulerMissed.Add(float64(n))
}

// UpdateSchedulerNextFire sets the next planned fire time.
func UpdateSchedulerNextFire(unix int64) {
	globalManager.schedulerNextUnix.Set(float64(unix))
}

// RecordSchedulerJobLatency records how long a scheduled run took.
func RecordSchedulerJobLatency(latencyMs float64) {
	globalManager.schedulerJobLatency.Observe(latencyMs)
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// System Metrics Functions.

// UpdateSystemMemoryUsage sets the heap allocation in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records the average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// Error Metrics Functions.

// RecordErrorByEndpoint records an HTTP error response.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

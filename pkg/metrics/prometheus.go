// Package metrics provides Prometheus metrics for the SAGUARO counterpart service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Alert stream metrics
	noticesProcessed prometheus.Counter
	noticesRejected  *prometheus.CounterVec
	skymapParseSecs  prometheus.Histogram
	skymapFetchRetry prometheus.Counter

	// Candidate ingest metrics
	candidatesIngested  prometheus.Counter
	candidatesDuplicate prometheus.Counter
	coordinateErrors    prometheus.Counter

	// Association metrics
	associationsCreated prometheus.Counter
	associationsUpdated prometheus.Counter
	associationsRetired prometheus.Counter
	matchLatency        prometheus.Histogram
	reevalLatency       prometheus.Histogram

	// Credible region cache metrics
	regionCacheHits   prometheus.Counter
	regionCacheMisses prometheus.Counter

	// Operational health metrics
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	workerCount      prometheus.Gauge
	trackedEvents    prometheus.Gauge
	trackedCand      prometheus.Gauge
	storedAssoc      prometheus.Gauge

	// Query metrics
	queryLatency prometheus.Histogram

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorsByComponent *prometheus.CounterVec
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
		namespace:        "saguaro",
		subsystem:        "tom",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // metric declarations are long by nature
	auto := promauto.With(m.registry)

	m.noticesProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notices_processed_total",
		Help:      "Total number of event notices accepted by the sequence tracker",
	})

	m.noticesRejected = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "notices_rejected_total",
			Help:      "Total number of event notices rejected, by reason",
		},
		[]string{"reason"},
	)

	m.skymapParseSecs = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "skymap_parse_seconds",
		Help:      "Histogram of skymap decode and validation time in seconds",
		Buckets:   m.histogramBuckets,
	})

	m.skymapFetchRetry = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "skymap_fetch_retries_total",
		Help:      "Total number of retried skymap downloads",
	})

	m.candidatesIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "candidates_ingested_total",
		Help:      "Total number of candidate detections run through matching",
	})

	m.candidatesDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "candidates_duplicate_total",
		Help:      "Total number of duplicate candidate detections skipped",
	})

	m.coordinateErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "coordinate_errors_total",
		Help:      "Total number of candidates with unresolvable sky coordinates",
	})

	m.associationsCreated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "associations_created_total",
		Help:      "Total number of candidate-event associations created",
	})

	m.associationsUpdated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "associations_updated_total",
		Help:      "Total number of associations recomputed under a revised localization",
	})

	m.associationsRetired = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "associations_retired_total",
		Help:      "Total number of associations flipped to non-viable",
	})

	m.matchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "match_latency_milliseconds",
		Help:      "Histogram of per-candidate matching latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.reevalLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reevaluation_latency_milliseconds",
		Help:      "Histogram of per-event re-evaluation latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.regionCacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "credible_region_cache_hits_total",
		Help:      "Total number of memoized credible region lookups",
	})

	m.regionCacheMisses = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "credible_region_cache_misses_total",
		Help:      "Total number of credible region computations",
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current size of the detection queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Configured capacity of the detection queue",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_utilization",
		Help:      "Detection queue utilization ratio in [0,1]",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Current number of matching workers",
	})

	m.trackedEvents = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "tracked_events",
		Help:      "Number of gravitational-wave events tracked",
	})

	m.trackedCand = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "tracked_candidates",
		Help:      "Number of candidate detections stored",
	})

	m.storedAssoc = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stored_associations",
		Help:      "Number of candidate-event associations stored, viable or not",
	})

	m.queryLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "query_latency_milliseconds",
		Help:      "Histogram of ranked candidate query latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorsByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_total",
			Help:      "Total errors by component and type",
		},
		[]string{"component", "type"},
	)
}

// Package-level helpers delegating to the global manager.

// RecordNoticeProcessed increments the accepted notice counter.
func RecordNoticeProcessed() {
	globalManager.noticesProcessed.Inc()
}

// RecordNoticeRejected increments the rejected notice counter for a reason.
func RecordNoticeRejected(reason string) {
	globalManager.noticesRejected.WithLabelValues(reason).Inc()
}

// RecordSkymapParse observes skymap decode time in seconds.
func RecordSkymapParse(seconds float64) {
	globalManager.skymapParseSecs.Observe(seconds)
}

// RecordSkymapFetchRetry increments the retried download counter.
func RecordSkymapFetchRetry() {
	globalManager.skymapFetchRetry.Inc()
}

// RecordCandidateIngested increments the ingested candidate counter.
func RecordCandidateIngested() {
	globalManager.candidatesIngested.Inc()
}

// RecordCandidateDuplicate increments the duplicate candidate counter.
func RecordCandidateDuplicate() {
	globalManager.candidatesDuplicate.Inc()
}

// RecordCoordinateError increments the unresolvable coordinate counter.
func RecordCoordinateError() {
	globalManager.coordinateErrors.Inc()
}

// RecordAssociationCreated increments the created association counter.
func RecordAssociationCreated() {
	globalManager.associationsCreated.Inc()
}

// RecordAssociationUpdated increments the recomputed association counter.
func RecordAssociationUpdated() {
	globalManager.associationsUpdated.Inc()
}

// RecordAssociationRetired increments the non-viable flip counter.
func RecordAssociationRetired() {
	globalManager.associationsRetired.Inc()
}

// RecordMatchLatency observes per-candidate matching latency in milliseconds.
func RecordMatchLatency(latencyMs float64) {
	globalManager.matchLatency.Observe(latencyMs)
}

// RecordReevaluationLatency observes per-event re-evaluation latency in milliseconds.
func RecordReevaluationLatency(latencyMs float64) {
	globalManager.reevalLatency.Observe(latencyMs)
}

// RecordRegionCacheHit increments the credible region cache hit counter.
func RecordRegionCacheHit() {
	globalManager.regionCacheHits.Inc()
}

// RecordRegionCacheMiss increments the credible region cache miss counter.
func RecordRegionCacheMiss() {
	globalManager.regionCacheMisses.Inc()
}

// UpdateQueueSize sets the current detection queue size gauge.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the detection queue capacity gauge.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the detection queue utilization gauge.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// UpdateWorkerCount sets the matching worker count gauge.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateTrackedEvents sets the tracked event count gauge.
func UpdateTrackedEvents(count int) {
	globalManager.trackedEvents.Set(float64(count))
}

// UpdateTrackedCandidates sets the stored candidate count gauge.
func UpdateTrackedCandidates(count int) {
	globalManager.trackedCand.Set(float64(count))
}

// UpdateStoredAssociations sets the stored association count gauge.
func UpdateStoredAssociations(count int) {
	globalManager.storedAssoc.Set(float64(count))
}

// RecordQueryLatency observes ranked query latency in milliseconds.
func RecordQueryLatency(latencyMs float64) {
	globalManager.queryLatency.Observe(latencyMs)
}

// RecordHTTPRequest counts an HTTP request by endpoint, method and status.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent counts an error by component and type.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry for serving /healthz.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

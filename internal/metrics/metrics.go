package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the response cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records response cache lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records response cache store attempts.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup reused a cached response.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no cached response was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed due to an error.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the response was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the store operation failed.
	CacheStoreError CacheStoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for gateway activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	fetchRequests *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	fetchRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contentgate",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Total requests dispatched through the gateway strategies.",
	}, []string{"category", "strategy", "outcome", "status_code"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "contentgate",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed gateway requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"category", "strategy", "outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contentgate",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Response cache operations executed by the gateway.",
	}, []string{"category", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "contentgate",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for response cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"category", "operation", "result"})

	reg.MustRegister(fetchRequests, fetchLatency, cacheOperations, cacheLatency)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		fetchRequests:   fetchRequests,
		fetchLatency:    fetchLatency,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveFetch records the outcome and latency for a completed gateway
// request.
func (r *Recorder) ObserveFetch(category, strategy, outcome string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	categoryLabel := normalizeLabel(category)
	strategyLabel := normalizeLabel(strategy)
	outcomeLabel := normalizeLabel(outcome)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.fetchRequests.WithLabelValues(categoryLabel, strategyLabel, outcomeLabel, statusLabel).Inc()
	r.fetchLatency.WithLabelValues(categoryLabel, strategyLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a response cache lookup.
func (r *Recorder) ObserveCacheLookup(category string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(category), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a response cache store attempt.
func (r *Recorder) ObserveCacheStore(category string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(normalizeLabel(category), CacheOperationStore, resultLabel, duration)
}

func (r *Recorder) observeCache(category string, operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(category, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(category, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSnapshot is a lightweight summary of process level counters.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	BatchItemsProcessed      uint64    `json:"batch_items_processed"`
	BatchItemsFailed         uint64    `json:"batch_items_failed"`
	BatchRuns                uint64    `json:"batch_runs"`
	BulkResults              uint64    `json:"bulk_results"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	batchItems      *prometheus.CounterVec
	batchClaims     *prometheus.CounterVec
	batchRuns       *prometheus.CounterVec
	batchRunTime    prometheus.Histogram
	bulkResults     *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	batchItemCount       uint64
	batchFailureCount    uint64
	batchRunCount        uint64
	bulkResultCount      uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	batchItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_action_items_total",
		Help: "Batch action items processed by outcome",
	}, []string{"action_type", "outcome"})

	batchClaims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_action_claims_total",
		Help: "Scheduler tick results",
	}, []string{"result"})

	batchRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_action_runs_total",
		Help: "Completed batch action runs by result",
	}, []string{"result"})

	batchRunTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_action_run_duration_seconds",
		Help:    "Duration of one batch action run",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	bulkResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_action_results_total",
		Help: "Bulk action per entity results by outcome",
	}, []string{"action_type", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, batchItems, batchClaims, batchRuns, batchRunTime, bulkResults, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		batchItems:      batchItems,
		batchClaims:     batchClaims,
		batchRuns:       batchRuns,
		batchRunTime:    batchRunTime,
		bulkResults:     bulkResults,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordBatchItem counts one processed batch action item.
func (m *MetricsService) RecordBatchItem(actionType string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
		atomic.AddUint64(&m.batchFailureCount, 1)
	}
	m.batchItems.WithLabelValues(actionType, outcome).Inc()
	atomic.AddUint64(&m.batchItemCount, 1)
}

// RecordBatchClaim counts a scheduler tick by result (claimed, idle, busy, error).
func (m *MetricsService) RecordBatchClaim(result string) {
	if m == nil {
		return
	}
	m.batchClaims.WithLabelValues(result).Inc()
}

// ObserveBatchRun records a finished run.
func (m *MetricsService) ObserveBatchRun(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchRuns.WithLabelValues(result).Inc()
	m.batchRunTime.Observe(duration.Seconds())
	atomic.AddUint64(&m.batchRunCount, 1)
}

// RecordBulkResult counts one bulk action entity result.
func (m *MetricsService) RecordBulkResult(actionType string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.bulkResults.WithLabelValues(actionType, outcome).Inc()
	atomic.AddUint64(&m.bulkResultCount, 1)
}

// Snapshot returns aggregated metrics suitable for status endpoints.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		BatchItemsProcessed:      atomic.LoadUint64(&m.batchItemCount),
		BatchItemsFailed:         atomic.LoadUint64(&m.batchFailureCount),
		BatchRuns:                atomic.LoadUint64(&m.batchRunCount),
		BulkResults:              atomic.LoadUint64(&m.bulkResultCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

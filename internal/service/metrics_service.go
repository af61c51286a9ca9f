package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sufragio-api/internal/models"
	"github.com/noah-isme/sufragio-api/pkg/ledger"
)

// Operation outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	ledgerTxDuration *prometheus.HistogramVec
	ledgerTxAttempts prometheus.Histogram
	operations       *prometheus.CounterVec
	projection       *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	ledgerTxCount        uint64
	ledgerTxDurationSum  uint64
	ledgerConflicts      uint64
	projectionApplied    uint64
	projectionSkipped    uint64
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

	ledgerTxDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_transaction_duration_seconds",
		Help:    "Duration of ledger transactions including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	ledgerTxAttempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_transaction_attempts",
		Help:    "Number of attempts a ledger transaction needed",
		Buckets: []float64{1, 2, 3, 4, 5, 8},
	})

	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sufragio_operations_total",
		Help: "Voting record operations by outcome",
	}, []string{"operation", "outcome"})

	projection := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sufragio_projection_revisions_total",
		Help: "Journal revisions handled by the projection",
	}, []string{"result"})

	registry.MustRegister(
		requestDuration, requestTotal, ledgerTxDuration, ledgerTxAttempts, operations, projection,
		collectors.NewGoCollector(),
	)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		ledgerTxDuration: ledgerTxDuration,
		ledgerTxAttempts: ledgerTxAttempts,
		operations:       operations,
		projection:       projection,
	}
}

// TrackProjectionBacklog exports the number of revisions waiting for a projection worker.
func (m *MetricsService) TrackProjectionBacklog(pending func() int) {
	if m == nil || pending == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sufragio_projection_backlog",
		Help: "Journal revisions waiting for a projection worker",
	}, func() float64 { return float64(pending()) }))
}

// Registry exposes the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// ObserveLedgerTx implements ledger.Observer.
func (m *MetricsService) ObserveLedgerTx(outcome string, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	m.ledgerTxDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.ledgerTxAttempts.Observe(float64(attempts))
	atomic.AddUint64(&m.ledgerTxCount, 1)
	atomic.AddUint64(&m.ledgerTxDurationSum, uint64(duration.Nanoseconds()))
	if outcome == ledger.OutcomeConflicted {
		atomic.AddUint64(&m.ledgerConflicts, 1)
	}
}

// RecordOperation counts a lifecycle operation by outcome.
func (m *MetricsService) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// RecordProjection counts a projected revision as applied or skipped.
func (m *MetricsService) RecordProjection(applied bool) {
	if m == nil {
		return
	}
	if applied {
		m.projection.WithLabelValues("applied").Inc()
		atomic.AddUint64(&m.projectionApplied, 1)
		return
	}
	m.projection.WithLabelValues("skipped").Inc()
	atomic.AddUint64(&m.projectionSkipped, 1)
}

// Snapshot returns aggregated metrics suitable for the summary endpoint.
func (m *MetricsService) Snapshot() models.MetricsSnapshot {
	if m == nil {
		return models.MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	txCount := atomic.LoadUint64(&m.ledgerTxCount)
	txDuration := atomic.LoadUint64(&m.ledgerTxDurationSum)

	return models.MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: averageMs(reqDuration, requests),
		LedgerTransactions:       txCount,
		LedgerConflicts:          atomic.LoadUint64(&m.ledgerConflicts),
		AverageLedgerTxMs:        averageMs(txDuration, txCount),
		ProjectionApplied:        atomic.LoadUint64(&m.projectionApplied),
		ProjectionSkipped:        atomic.LoadUint64(&m.projectionSkipped),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

func averageMs(totalNanos, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return float64(totalNanos) / float64(count) / float64(time.Millisecond)
}

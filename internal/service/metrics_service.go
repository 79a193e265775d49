package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/cdp-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation. A nil *MetricsService is valid and records nothing.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	cacheLatency      prometheus.Observer
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	emailsTotal       *prometheus.CounterVec
	batchDuration     prometheus.Observer
	importRows        *prometheus.CounterVec
	importRollbacks   prometheus.Counter
	renderFallbacks   *prometheus.CounterVec
	requestCount      uint64
	requestDurationNs uint64
	emailsSent        uint64
	emailsFailed      uint64
	importsCompleted  uint64
}

// NewMetricsService registers the collectors on a private registry.
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	emailsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emails_total",
		Help: "Send attempts by final log status",
	}, []string{"status"})

	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "email_batch_duration_seconds",
		Help:    "Wall-clock duration of batch sends including pauses",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	importRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "import_rows_total",
		Help: "Spreadsheet rows processed by outcome",
	}, []string{"result"})

	importRollbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "import_rollbacks_total",
		Help: "Imports aborted and rolled back",
	})

	renderFallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "certificate_render_fallbacks_total",
		Help: "Certificate renders that degraded to a fallback tier",
	}, []string{"tier"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheHits, cacheMisses, emailsTotal,
		batchDuration, importRows, importRollbacks, renderFallbacks, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		emailsTotal:     emailsTotal,
		batchDuration:   batchDuration,
		importRows:      importRows,
		importRollbacks: importRollbacks,
		renderFallbacks: renderFallbacks,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationNs, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hits and misses.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

// RecordEmail counts one send attempt by its final status.
func (m *MetricsService) RecordEmail(status models.EmailStatus) {
	if m == nil {
		return
	}
	m.emailsTotal.WithLabelValues(string(status)).Inc()
	if status == models.EmailStatusError {
		atomic.AddUint64(&m.emailsFailed, 1)
		return
	}
	atomic.AddUint64(&m.emailsSent, 1)
}

// ObserveBatch records the duration of a finished batch.
func (m *MetricsService) ObserveBatch(duration time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(duration.Seconds())
}

// RecordImport counts rows of a committed import.
func (m *MetricsService) RecordImport(succeeded, failed int) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues("ok").Add(float64(succeeded))
	m.importRows.WithLabelValues("error").Add(float64(failed))
	atomic.AddUint64(&m.importsCompleted, 1)
}

// RecordImportRollback counts an import that was rolled back.
func (m *MetricsService) RecordImportRollback() {
	if m == nil {
		return
	}
	m.importRollbacks.Inc()
}

// ObserveRenderFallback counts certificate renders that used a fallback tier.
func (m *MetricsService) ObserveRenderFallback(tier string) {
	if m == nil {
		return
	}
	m.renderFallbacks.WithLabelValues(tier).Inc()
}

// Snapshot returns aggregated counters for the admin summary endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{GeneratedAt: time.Now().UTC()}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(atomic.LoadUint64(&m.requestDurationNs)) / float64(requests) / float64(time.Millisecond)
	}
	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		EmailsSent:               atomic.LoadUint64(&m.emailsSent),
		EmailsFailed:             atomic.LoadUint64(&m.emailsFailed),
		ImportsCompleted:         atomic.LoadUint64(&m.importsCompleted),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

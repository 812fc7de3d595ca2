package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	storeDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
	fieldCountBuckets    = []float64{0, 1, 2, 5, 10, 20, 50, 100}
)

// Metrics holds all Prometheus metric instruments of the service. Every
// recording helper is safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Rendering metrics
	RendersTotal         *prometheus.CounterVec
	RenderFieldsVisible  prometheus.Histogram
	ConditionErrorsTotal *prometheus.CounterVec
	ValidationsTotal     *prometheus.CounterVec

	// Store metrics
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec

	// Cache metrics
	FieldCacheHitsTotal      prometheus.Counter
	FieldCacheMissesTotal    prometheus.Counter
	IdempotencyReplaysTotal  prometheus.Counter
	SeedDocumentsLoadedTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regelwerk_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regelwerk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regelwerk_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regelwerk_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Rendering
		RendersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regelwerk_render_total",
			Help: "Total number of template renders.",
		}, []string{"role"}),
		RenderFieldsVisible: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "regelwerk_render_fields_visible",
			Help:    "Number of fields left visible by a render.",
			Buckets: fieldCountBuckets,
		}),
		ConditionErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regelwerk_condition_errors_total",
			Help: "Dependency conditions that could not be evaluated.",
		}, []string{"operator"}),
		ValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regelwerk_validation_total",
			Help: "Field value validations by outcome.",
		}, []string{"field_type", "result"}),

		// Store
		StoreOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regelwerk_store_operation_duration_seconds",
			Help:    "Store operation duration in seconds.",
			Buckets: storeDurationBuckets,
		}, []string{"operation"}),
		StoreErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regelwerk_store_errors_total",
			Help: "Store operations that failed with an internal error.",
		}, []string{"operation"}),

		// Cache
		FieldCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regelwerk_field_cache_hits_total",
			Help: "Total field cache hits.",
		}),
		FieldCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regelwerk_field_cache_misses_total",
			Help: "Total field cache misses.",
		}),
		IdempotencyReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regelwerk_idempotency_replays_total",
			Help: "Create requests answered from the idempotency store.",
		}),
		SeedDocumentsLoadedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regelwerk_seed_documents_loaded_total",
			Help: "Seed documents imported, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.RendersTotal,
		m.RenderFieldsVisible,
		m.ConditionErrorsTotal,
		m.ValidationsTotal,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
		m.FieldCacheHitsTotal,
		m.FieldCacheMissesTotal,
		m.IdempotencyReplaysTotal,
		m.SeedDocumentsLoadedTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordRender records one template render and its visible field count.
func (m *Metrics) RecordRender(role string, visibleFields int) {
	if m == nil {
		return
	}
	if role == "" {
		role = "none"
	}
	m.RendersTotal.WithLabelValues(role).Inc()
	m.RenderFieldsVisible.Observe(float64(visibleFields))
}

// RecordConditionError records a dependency condition that failed to evaluate.
func (m *Metrics) RecordConditionError(operator string) {
	if m == nil {
		return
	}
	m.ConditionErrorsTotal.WithLabelValues(operator).Inc()
}

// RecordValidation records a field value validation outcome.
func (m *Metrics) RecordValidation(fieldType string, valid bool) {
	if m == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.ValidationsTotal.WithLabelValues(fieldType, result).Inc()
}

// RecordStoreOperation records the duration of a store call and whether it
// failed.
func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if failed {
		m.StoreErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// RecordFieldCacheHit records a field cache hit.
func (m *Metrics) RecordFieldCacheHit() {
	if m == nil {
		return
	}
	m.FieldCacheHitsTotal.Inc()
}

// RecordFieldCacheMiss records a field cache miss.
func (m *Metrics) RecordFieldCacheMiss() {
	if m == nil {
		return
	}
	m.FieldCacheMissesTotal.Inc()
}

// RecordIdempotencyReplay records a create answered from a stored response.
func (m *Metrics) RecordIdempotencyReplay() {
	if m == nil {
		return
	}
	m.IdempotencyReplaysTotal.Inc()
}

// RecordSeedDocuments records imported seed documents of one kind.
func (m *Metrics) RecordSeedDocuments(kind string, count int) {
	if m == nil {
		return
	}
	m.SeedDocumentsLoadedTotal.WithLabelValues(kind).Add(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

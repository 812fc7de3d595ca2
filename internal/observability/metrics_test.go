package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/api/templates", 200, time.Millisecond, 0, 100)
	m.RecordRender("admin", 3)
	m.RecordConditionError("between")
	m.RecordValidation("text", false)
	m.RecordStoreOperation("get_template", time.Millisecond, true)
	m.RecordFieldCacheHit()
	m.RecordFieldCacheMiss()
	m.RecordIdempotencyReplay()
	m.RecordSeedDocuments("field", 2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"regelwerk_http_requests_total",
		"regelwerk_http_request_duration_seconds",
		"regelwerk_http_request_size_bytes",
		"regelwerk_http_response_size_bytes",
		"regelwerk_render_total",
		"regelwerk_render_fields_visible",
		"regelwerk_condition_errors_total",
		"regelwerk_validation_total",
		"regelwerk_store_operation_duration_seconds",
		"regelwerk_store_errors_total",
		"regelwerk_field_cache_hits_total",
		"regelwerk_field_cache_misses_total",
		"regelwerk_idempotency_replays_total",
		"regelwerk_seed_documents_loaded_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHelpers_nilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordHTTPRequest("GET", "/", 200, time.Millisecond, 0, 0)
	m.RecordRender("admin", 1)
	m.RecordConditionError("equals")
	m.RecordValidation("text", true)
	m.RecordStoreOperation("list_fields", time.Millisecond, false)
	m.RecordFieldCacheHit()
	m.RecordFieldCacheMiss()
	m.RecordIdempotencyReplay()
	m.RecordSeedDocuments("template", 1)
}

func TestRecordRender(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRender("klient", 2)
	m.RecordRender("klient", 0)
	m.RecordRender("", 1)

	if v := testutil.ToFloat64(m.RendersTotal.WithLabelValues("klient")); v != 2 {
		t.Errorf("klient renders = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.RendersTotal.WithLabelValues("none")); v != 1 {
		t.Errorf("renders without role = %v, want 1", v)
	}
	if testutil.CollectAndCount(m.RenderFieldsVisible) == 0 {
		t.Error("expected visible fields histogram to have observations")
	}
}

func TestRecordStoreOperation(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordStoreOperation("save_field", 5*time.Millisecond, false)
	m.RecordStoreOperation("save_field", 5*time.Millisecond, true)

	if v := testutil.ToFloat64(m.StoreErrorsTotal.WithLabelValues("save_field")); v != 1 {
		t.Errorf("store errors = %v, want 1", v)
	}
}

func TestMetricsMiddleware_recordsRoutePattern(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Route("/api", func(r chi.Router) {
		r.Get("/templates/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/templates/t-42", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/templates/{id}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
	if testutil.CollectAndCount(m.HTTPResponseSizeBytes) == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/api/fields", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/fields", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/fields", "400"))
	if val != 1 {
		t.Errorf("400 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordRender("admin", 1)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "regelwerk_render_total") {
		t.Error("metrics response should contain regelwerk_render_total")
	}
}

func TestHistogramBuckets(t *testing.T) {
	for name, buckets := range map[string][]float64{
		"http":   httpDurationBuckets,
		"store":  storeDurationBuckets,
		"body":   bodySizeBuckets,
		"fields": fieldCountBuckets,
	} {
		for i := 1; i < len(buckets); i++ {
			if buckets[i] <= buckets[i-1] {
				t.Errorf("%s buckets not sorted at index %d", name, i)
			}
		}
	}
}

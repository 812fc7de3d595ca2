package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/regelwerk/internal/config"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func spanAttrMap(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string, len(s.Attributes))
	for _, kv := range s.Attributes {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}

func TestInitTracing_disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{}, "regelwerk", "test")
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInitTracing_stdout(t *testing.T) {
	cfg := config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}
	shutdown, err := InitTracing(context.Background(), cfg, "regelwerk", "test")
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInitTracing_unsupportedExporter(t *testing.T) {
	cfg := config.TracingConfig{Enabled: true, Exporter: "zipkin"}
	if _, err := InitTracing(context.Background(), cfg, "regelwerk", "test"); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestStartSpan_attributes(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "template.render",
		AttrTemplateID.String("tpl-1"),
		AttrRole.String("klient"),
	)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := spanAttrMap(spans[0])
	if attrs["regelwerk.template_id"] != "tpl-1" {
		t.Errorf("regelwerk.template_id = %q, want tpl-1", attrs["regelwerk.template_id"])
	}
	if attrs["regelwerk.role"] != "klient" {
		t.Errorf("regelwerk.role = %q, want klient", attrs["regelwerk.role"])
	}
	if trace.SpanFromContext(ctx) != span {
		t.Error("context should carry the created span")
	}
}

func TestStartSpan_parentChild(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, parent := StartSpan(context.Background(), "templates.render")
	_, child := StartSpan(ctx, "template.render")
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].SpanContext.TraceID() != spans[1].SpanContext.TraceID() {
		t.Error("parent and child should share the same trace ID")
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("child parent span ID should match parent span ID")
	}
}

func TestEndSpanWithError(t *testing.T) {
	exporter := setupTestTracer(t)

	_, failed := StartSpan(context.Background(), "store.get")
	EndSpanWithError(failed, errors.New("connection refused"))
	_, ok := StartSpan(context.Background(), "store.list")
	EndSpanWithError(ok, nil)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "connection refused" {
		t.Errorf("failed span status = %+v", spans[0].Status)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected the error to be recorded as an event")
	}
	if spans[1].Status.Code == codes.Error {
		t.Error("status should not be Error when err is nil")
	}
}

func TestTraceIDFromContext(t *testing.T) {
	setupTestTracer(t)

	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("TraceIDFromContext without span = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "trace.id")
	defer span.End()
	if got, want := TraceIDFromContext(ctx), span.SpanContext().TraceID().String(); got != want {
		t.Errorf("TraceIDFromContext = %q, want %q", got, want)
	}
}

func TestTracingMiddleware_serverSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/templates", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name != "POST /api/templates" {
		t.Errorf("span name = %q, want %q", s.Name, "POST /api/templates")
	}
	if s.SpanKind != trace.SpanKindServer {
		t.Errorf("span kind = %v, want Server", s.SpanKind)
	}
	attrs := spanAttrMap(s)
	if attrs["http.request.method"] != "POST" {
		t.Errorf("http.request.method = %q, want POST", attrs["http.request.method"])
	}
	if attrs["http.response.status_code"] != "201" {
		t.Errorf("http.response.status_code = %q, want 201", attrs["http.response.status_code"])
	}
	if rec.Header().Get("Traceparent") == "" {
		t.Error("response should carry a Traceparent header")
	}
}

func TestTracingMiddleware_usesRoutePattern(t *testing.T) {
	exporter := setupTestTracer(t)

	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	r.Get("/api/templates/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/templates/abc-123", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "GET /api/templates/{id}" {
		t.Errorf("span name = %q, want the route pattern", spans[0].Name)
	}
	if got := spanAttrMap(spans[0])["http.route"]; got != "/api/templates/{id}" {
		t.Errorf("http.route = %q", got)
	}
}

func TestTracingMiddleware_500_setsErrorStatus(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/templates/render", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status code = %v, want Error for 500 response", spans[0].Status.Code)
	}
}

func TestTracingMiddleware_extractsTraceparent(t *testing.T) {
	exporter := setupTestTracer(t)

	traceID := "0af7651916cd43dd8448eb211c80319c"
	parentSpanID := "b7ad6b7169203331"

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/fields", nil)
	req.Header.Set("Traceparent", "00-"+traceID+"-"+parentSpanID+"-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].SpanContext.TraceID().String(); got != traceID {
		t.Errorf("trace ID = %q, want %q", got, traceID)
	}
	if got := spans[0].Parent.SpanID().String(); got != parentSpanID {
		t.Errorf("parent span ID = %q, want %q", got, parentSpanID)
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "TraceIDRatioBased{0.1}"},
		{0.5, "TraceIDRatioBased{0.5}"},
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		desc := newSampler(config.TracingConfig{SamplingRate: tt.rate}).Description()
		if !strings.Contains(desc, tt.want) {
			t.Errorf("rate %v: sampler = %q, want it to contain %q", tt.rate, desc, tt.want)
		}
	}
}

// Package integration provides a reusable test harness for end-to-end
// integration testing of the regelwerk server. It starts a full HTTP server
// over a real store, optionally a Redis idempotency store, and seeds it from
// YAML definitions.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/regelwerk/internal/config"
	"github.com/pitabwire/regelwerk/internal/idempotency"
	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/internal/seed"
	"github.com/pitabwire/regelwerk/internal/service"
	"github.com/pitabwire/regelwerk/internal/store"
	"github.com/pitabwire/regelwerk/internal/transport"
)

// TestHarness encapsulates a fully wired regelwerk instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Store       store.Store
	Services    *service.Services
	Idempotency idempotency.Store
	Redis       *miniredis.Miniredis
	Registry    *prometheus.Registry
	SeedResult  seed.Result

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	storeDriver    string
	definitionDirs []string
	noSeed         bool
	redis          *miniredis.Miniredis
	useRedis       bool
	handlerTimeout time.Duration
	maxBodyBytes   int64
}

// WithStore selects the store driver: memory (default) or sqlite. The sqlite
// database lives in a per-test temporary directory.
func WithStore(driver string) HarnessOption {
	return func(c *harnessConfig) {
		c.storeDriver = driver
	}
}

// WithDefinitions sets the seed directories. Relative paths are resolved from
// the testdata directory.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithoutSeed starts with an empty store.
func WithoutSeed() HarnessOption {
	return func(c *harnessConfig) {
		c.noSeed = true
	}
}

// WithRedisIdempotency backs the idempotency store with an in-process Redis.
// Pass an existing server to share it between harnesses.
func WithRedisIdempotency(srv *miniredis.Miniredis) HarnessOption {
	return func(c *harnessConfig) {
		c.useRedis = true
		c.redis = srv
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithMaxBodyBytes limits request bodies.
func WithMaxBodyBytes(n int64) HarnessOption {
	return func(c *harnessConfig) {
		c.maxBodyBytes = n
	}
}

// NewTestHarness creates and starts a full regelwerk test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		storeDriver:    config.DriverMemory,
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{"definitions"}
	}
	dirs := make([]string, len(hc.definitionDirs))
	for i, d := range hc.definitionDirs {
		if !filepath.IsAbs(d) {
			d = filepath.Join(testdataDir(), d)
		}
		dirs[i] = d
	}

	ctx := context.Background()
	logger := zap.NewNop()

	// Step 1: Configuration.
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	if hc.maxBodyBytes > 0 {
		cfg.Server.MaxBodyBytes = hc.maxBodyBytes
	}
	cfg.Server.CORS.AllowedOrigins = []string{"https://forms.example.com"}
	cfg.Store.Driver = hc.storeDriver

	h := &TestHarness{t: t, cfg: cfg}

	// Step 2: Metrics.
	h.Registry = prometheus.NewRegistry()
	metrics := observability.InitMetrics(h.Registry)

	// Step 3: Store.
	var raw store.Store
	switch hc.storeDriver {
	case config.DriverMemory:
		raw = store.NewMemoryStore()
	case config.DriverSQLite:
		s, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "regelwerk.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		if _, err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate sqlite: %v", err)
		}
		raw = s
	default:
		t.Fatalf("unsupported store driver %q", hc.storeDriver)
	}
	t.Cleanup(func() { _ = raw.Close() })
	h.Store = store.Instrument(raw, metrics)

	// Step 4: Idempotency store.
	if hc.useRedis {
		srv := hc.redis
		if srv == nil {
			srv = miniredis.RunT(t)
		}
		client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		h.Redis = srv
		h.Idempotency = idempotency.NewRedisStore(client)
		cfg.Idempotency.Store.Driver = config.DriverRedis
	} else {
		h.Idempotency = idempotency.NewMemoryStore()
	}

	// Step 5: Services and seed definitions.
	h.Services = service.New(h.Store, service.WithLogger(logger), service.WithMetrics(metrics))
	if !hc.noSeed {
		res, err := seed.NewImporter(h.Services, logger, metrics).LoadAndImport(ctx, dirs)
		if err != nil {
			t.Fatalf("seed definitions: %v", err)
		}
		h.SeedResult = res
	}

	// Step 6: HTTP router.
	router := transport.NewRouter(transport.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		Gatherer:    h.Registry,
		Services:    h.Services,
		Idempotency: h.Idempotency,
		Readiness: observability.ReadinessChecks{
			Store:            h.Store,
			IdempotencyStore: h.Idempotency,
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

// URL returns the base URL of the test server.
func (h *TestHarness) URL() string {
	return h.server.URL
}

// Config returns the configuration the server runs with.
func (h *TestHarness) Config() *config.Config {
	return h.cfg
}

// --- HTTP client helpers ---

// GET performs a GET request.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, nil)
}

// GETWithHeaders performs a GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, headers)
}

// POST performs a POST request with a JSON body.
func (h *TestHarness) POST(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, nil)
}

// POSTWithHeaders performs a POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, headers)
}

// PUT performs a PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, nil)
}

// DELETE performs a DELETE request.
func (h *TestHarness) DELETE(path string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, nil)
}

// RawRequest sends body verbatim, for malformed and oversized payloads.
func (h *TestHarness) RawRequest(method, path, body string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(method, path, json.RawMessage(body), headers)
}

func (h *TestHarness) doRequest(method, path string, body any, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		bodyReader = strings.NewReader(string(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorCode checks the status and the error envelope code.
func (h *TestHarness) AssertErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// FieldIDs returns the id attribute of each element of a decoded field list.
func FieldIDs(fields []map[string]any) []string {
	ids := make([]string, len(fields))
	for i, f := range fields {
		ids[i], _ = f["id"].(string)
	}
	return ids
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

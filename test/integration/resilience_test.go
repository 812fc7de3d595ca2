package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pitabwire/regelwerk/internal/transport"
)

// ==========================================================================
// Idempotency
// ==========================================================================

func TestResilience_IdempotentCreateAcrossInstances(t *testing.T) {
	shared := miniredis.RunT(t)
	first := NewTestHarness(t, WithoutSeed(), WithRedisIdempotency(shared))
	second := NewTestHarness(t, WithoutSeed(), WithRedisIdempotency(shared))

	body := map[string]any{"name": map[string]any{"de": "Strasse"}}
	headers := map[string]string{transport.HeaderIdempotencyKey: "create-street"}

	var created map[string]any
	first.AssertJSON(t, first.POSTWithHeaders("/api/fields", body, headers), http.StatusCreated, &created)

	resp := second.POSTWithHeaders("/api/fields", body, headers)
	if resp.Header.Get(transport.HeaderIdempotentReplay) != "true" {
		t.Error("the second instance should replay the stored response")
	}
	var replayed map[string]any
	second.AssertJSON(t, resp, http.StatusCreated, &replayed)
	if replayed["id"] != created["id"] {
		t.Errorf("replayed id = %v, want %v", replayed["id"], created["id"])
	}

	var fields []map[string]any
	second.AssertJSON(t, second.GET("/api/fields"), http.StatusOK, &fields)
	if len(fields) != 0 {
		t.Errorf("second instance created %d fields, want 0", len(fields))
	}
}

func TestResilience_IdempotencyKeyReuseConflicts(t *testing.T) {
	h := NewTestHarness(t, WithoutSeed(), WithRedisIdempotency(nil))
	headers := map[string]string{transport.HeaderIdempotencyKey: "k"}

	h.AssertStatus(t, h.POSTWithHeaders("/api/fields",
		map[string]any{"name": map[string]any{"de": "A"}}, headers), http.StatusCreated)
	h.AssertErrorCode(t, h.POSTWithHeaders("/api/fields",
		map[string]any{"name": map[string]any{"de": "B"}}, headers), http.StatusConflict, "CONFLICT")

	// Another user may use the same key.
	h.AssertStatus(t, h.POSTWithHeaders("/api/fields?userId=other",
		map[string]any{"name": map[string]any{"de": "B"}}, headers), http.StatusCreated)
}

func TestResilience_IdempotencyKeysExpire(t *testing.T) {
	h := NewTestHarness(t, WithoutSeed(), WithRedisIdempotency(nil))
	body := map[string]any{"name": map[string]any{"de": "Ort"}}
	headers := map[string]string{transport.HeaderIdempotencyKey: "expiring"}

	h.AssertStatus(t, h.POSTWithHeaders("/api/fields", body, headers), http.StatusCreated)
	h.Redis.FastForward(h.Config().Idempotency.Store.DefaultTTL + time.Minute)

	resp := h.POSTWithHeaders("/api/fields", body, headers)
	if resp.Header.Get(transport.HeaderIdempotentReplay) != "" {
		t.Error("an expired key should not replay")
	}
	h.AssertStatus(t, resp, http.StatusCreated)

	var fields []map[string]any
	h.AssertJSON(t, h.GET("/api/fields"), http.StatusOK, &fields)
	if len(fields) != 2 {
		t.Errorf("fields = %d, want 2", len(fields))
	}
}

// ==========================================================================
// Degraded dependencies
// ==========================================================================

func TestResilience_RedisOutage(t *testing.T) {
	h := NewTestHarness(t, WithRedisIdempotency(nil))
	h.AssertStatus(t, h.GET("/ready"), http.StatusOK)

	h.Redis.Close()

	var ready struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	h.AssertJSON(t, h.GET("/ready"), http.StatusServiceUnavailable, &ready)
	if ready.Status != "not_ready" || ready.Checks["store"].Status != "ok" {
		t.Errorf("readiness = %+v", ready)
	}

	// Keyed creates cannot be deduplicated and are refused.
	h.AssertErrorCode(t, h.POSTWithHeaders("/api/fields",
		map[string]any{"name": map[string]any{"de": "X"}},
		map[string]string{transport.HeaderIdempotencyKey: "during-outage"}),
		http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE")

	// Everything else keeps working.
	h.AssertStatus(t, h.POST("/api/fields", map[string]any{"name": map[string]any{"de": "X"}}), http.StatusCreated)
	h.AssertStatus(t, h.POST("/api/templates/render",
		map[string]any{"template_ids": []string{"registration"}}), http.StatusOK)
}

func TestResilience_HealthIsIndependentOfDependencies(t *testing.T) {
	h := NewTestHarness(t, WithRedisIdempotency(nil))
	h.Redis.Close()

	var health map[string]any
	h.AssertJSON(t, h.GET("/health"), http.StatusOK, &health)
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}
}

func TestResilience_MetricsRecordTraffic(t *testing.T) {
	h := NewTestHarness(t)
	h.AssertStatus(t, h.POST("/api/templates/render",
		map[string]any{"template_ids": []string{"registration"}}), http.StatusOK)

	families, err := h.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := map[string]bool{
		"regelwerk_http_requests_total":              false,
		"regelwerk_render_total":                     false,
		"regelwerk_store_operation_duration_seconds": false,
		"regelwerk_seed_documents_loaded_total":      false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

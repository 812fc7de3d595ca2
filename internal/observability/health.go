package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
type ReadinessChecks struct {
	// Store is required; a nil Store reports not ready.
	Store HealthChecker

	// IdempotencyStore is only checked when configured.
	IdempotencyStore HealthChecker
}

const checkTimeout = 2 * time.Second

var errNotConfigured = errors.New("not configured")

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady returns an HTTP handler for the readiness endpoint. Checks run
// in parallel, each bounded by its own timeout.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targets := map[string]HealthChecker{"store": checks.Store}
		if checks.IdempotencyStore != nil {
			targets["idempotency_store"] = checks.IdempotencyStore
		}

		results := make(map[string]CheckResult, len(targets))
		var mu sync.Mutex
		var wg sync.WaitGroup
		for name, checker := range targets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res := runCheck(r.Context(), checker)
				mu.Lock()
				results[name] = res
				mu.Unlock()
			}()
		}
		wg.Wait()

		status := "ready"
		httpStatus := http.StatusOK
		for _, result := range results {
			if result.Status != "ok" {
				status = "not_ready"
				httpStatus = http.StatusServiceUnavailable
				break
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(httpStatus)
		_ = json.NewEncoder(w).Encode(ReadinessResponse{
			Status: status,
			Checks: results,
		})
	}
}

func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	if checker == nil {
		return CheckResult{Status: "error", Error: errNotConfigured.Error()}
	}
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return CheckResult{Status: "error", LatencyMs: latency, Error: err.Error()}
	}
	return CheckResult{Status: "ok", LatencyMs: latency}
}

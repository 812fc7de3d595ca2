package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/regelwerk/internal/idempotency"
	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/model"
)

// counterHandler echoes the body with the given status and counts calls.
func counterHandler(calls *atomic.Int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var v map[string]any
		if err := decodeJSON(r, &v, false); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, status, v)
	})
}

func idemRequest(key, body, user string) *http.Request {
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	ctx := model.WithRequestContext(req.Context(), &model.RequestContext{UserID: user})
	return req.WithContext(ctx)
}

func TestIdempotent_replaysSameRequest(t *testing.T) {
	var calls atomic.Int32
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	store := idempotency.NewMemoryStore()
	handler := Idempotent(store, "fields.create", time.Hour, metrics)(counterHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, idemRequest("k1", `{"id":"a"}`, "u-1"))
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}
	if first.Header().Get(HeaderIdempotentReplay) != "" {
		t.Error("first response should not be marked as a replay")
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, idemRequest("k1", `{"id":"a"}`, "u-1"))
	if second.Code != http.StatusCreated {
		t.Errorf("replay status = %d, want 201", second.Code)
	}
	if second.Header().Get(HeaderIdempotentReplay) != "true" {
		t.Error("replay should set the Idempotent-Replay header")
	}
	if got, want := second.Body.String(), strings.TrimSpace(first.Body.String()); got != want {
		t.Errorf("replay body = %q, want %q", got, want)
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
	if got := testutil.ToFloat64(metrics.IdempotencyReplaysTotal); got != 1 {
		t.Errorf("replays = %v, want 1", got)
	}
}

func TestIdempotent_conflictOnDifferentBody(t *testing.T) {
	var calls atomic.Int32
	handler := Idempotent(idempotency.NewMemoryStore(), "fields.create", 0, nil)(counterHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), idemRequest("k1", `{"id":"a"}`, "u-1"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, idemRequest("k1", `{"id":"b"}`, "u-1"))
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
}

func TestIdempotent_keysAreScopedPerUser(t *testing.T) {
	var calls atomic.Int32
	handler := Idempotent(idempotency.NewMemoryStore(), "fields.create", 0, nil)(counterHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), idemRequest("k1", `{"id":"a"}`, "u-1"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, idemRequest("k1", `{"id":"b"}`, "u-2"))

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
	if calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", calls.Load())
	}
}

func TestIdempotent_failuresAreNotStored(t *testing.T) {
	var calls atomic.Int32
	store := idempotency.NewMemoryStore()
	handler := Idempotent(store, "fields.create", 0, nil)(counterHandler(&calls, http.StatusCreated))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, idemRequest("k1", `{"id":`, "u-1"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if store.Len() != 0 {
		t.Errorf("store holds %d entries, want 0", store.Len())
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, idemRequest("k1", `{"id":`, "u-1"))
	if w.Header().Get(HeaderIdempotentReplay) != "" {
		t.Error("a failed response must not be replayed")
	}
	if calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", calls.Load())
	}
}

func TestIdempotent_passThrough(t *testing.T) {
	var calls atomic.Int32
	store := idempotency.NewMemoryStore()

	withoutKey := Idempotent(store, "s", 0, nil)(counterHandler(&calls, http.StatusCreated))
	withoutKey.ServeHTTP(httptest.NewRecorder(), idemRequest("", `{}`, "u-1"))
	withoutKey.ServeHTTP(httptest.NewRecorder(), idemRequest("", `{}`, "u-1"))

	disabled := Idempotent(nil, "s", 0, nil)(counterHandler(&calls, http.StatusCreated))
	disabled.ServeHTTP(httptest.NewRecorder(), idemRequest("k", `{}`, "u-1"))
	disabled.ServeHTTP(httptest.NewRecorder(), idemRequest("k", `{}`, "u-1"))

	if calls.Load() != 4 {
		t.Errorf("handler calls = %d, want 4", calls.Load())
	}
	if store.Len() != 0 {
		t.Errorf("store holds %d entries, want 0", store.Len())
	}
}

type unavailableStore struct{ idempotency.Store }

func (unavailableStore) Check(context.Context, string, string) (*idempotency.Response, bool, error) {
	return nil, false, errors.Join(model.NewUnavailableError("idempotency store unavailable"), errors.New("dial tcp: refused"))
}

func TestIdempotent_storeFailure(t *testing.T) {
	var calls atomic.Int32
	handler := Idempotent(unavailableStore{}, "s", 0, nil)(counterHandler(&calls, http.StatusCreated))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, idemRequest("k", `{}`, "u-1"))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if calls.Load() != 0 {
		t.Error("handler should not run when the store check fails")
	}
}

func TestRouter_idempotentCreate(t *testing.T) {
	c := newAPIClient(t)

	var first, second model.Field
	r1 := c.do("POST", "/api/fields", `{"name":{"de":"Ort"}}`, &first, HeaderIdempotencyKey, "create-1")
	r2 := c.do("POST", "/api/fields", `{"name":{"de":"Ort"}}`, &second, HeaderIdempotencyKey, "create-1")

	if r1.StatusCode != http.StatusCreated || r2.StatusCode != http.StatusCreated {
		t.Fatalf("statuses = %d, %d", r1.StatusCode, r2.StatusCode)
	}
	if r2.Header.Get(HeaderIdempotentReplay) != "true" {
		t.Error("second create should be a replay")
	}
	if first.ID != second.ID {
		t.Errorf("replayed id = %q, want %q", second.ID, first.ID)
	}

	var list []model.Field
	c.do("GET", "/api/fields", "", &list)
	if len(list) != 1 {
		t.Errorf("fields = %d, want 1", len(list))
	}
}

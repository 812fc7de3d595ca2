package transport

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/regelwerk/internal/idempotency"
	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/model"
)

// Idempotency headers.
const (
	HeaderIdempotencyKey   = "X-Idempotency-Key"
	HeaderIdempotentReplay = "Idempotent-Replay"
	defaultIdempotencyTTL  = 24 * time.Hour
)

// Idempotent returns middleware that replays the stored response when a
// request repeats an X-Idempotency-Key with the same body, and rejects a
// reused key with a different body. Keys are scoped per scope and user.
// Only successful responses are stored. A nil store disables the middleware.
func Idempotent(store idempotency.Store, scope string, ttl time.Duration, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				respondError(w, r, bodyError(err))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			storeKey := idempotency.FormatKey(scope+":"+model.RequestContextFrom(r.Context()).Actor(), key)
			hash := idempotency.HashInput(body)
			prev, found, err := store.Check(r.Context(), storeKey, hash)
			if err != nil {
				var ee *model.ErrorEnvelope
				if !errors.As(err, &ee) {
					observability.LoggerFrom(r.Context(), zap.NewNop()).Error("idempotency check failed",
						zap.String("scope", scope), zap.Error(err))
					err = model.NewUnavailableError("idempotency store unavailable")
				}
				respondError(w, r, err)
				return
			}
			if found {
				metrics.RecordIdempotencyReplay()
				w.Header().Set(HeaderIdempotentReplay, "true")
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(prev.Status)
				_, _ = w.Write(prev.Body)
				return
			}

			rec := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status >= 300 {
				return
			}
			resp := idempotency.Response{Status: rec.status, Body: bytes.TrimSpace(rec.body.Bytes())}
			if err := store.Save(r.Context(), storeKey, hash, resp, ttl); err != nil {
				observability.LoggerFrom(r.Context(), zap.NewNop()).Warn("idempotency save failed",
					zap.String("scope", scope), zap.Error(err))
			}
		})
	}
}

// capturingWriter copies the response body while writing it through.
type capturingWriter struct {
	http.ResponseWriter
	status  int
	written bool
	body    bytes.Buffer
}

func (w *capturingWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.written = true
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Package service orchestrates storage, caching and the rendering and
// validation engines behind the HTTP API.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/internal/store"
	"github.com/pitabwire/regelwerk/model"
)

// Option configures the services.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	newID     func() string
	cacheSize int
	cacheTTL  time.Duration
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics enables metrics recording.
func WithMetrics(m *observability.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithIDGenerator replaces the random UUID generator.
func WithIDGenerator(fn func() string) Option { return func(o *options) { o.newID = fn } }

// WithFieldCacheSize sets the capacity of the field cache. Zero disables it.
func WithFieldCacheSize(n int) Option { return func(o *options) { o.cacheSize = n } }

// WithFieldCacheTTL sets how long a cached field is served.
func WithFieldCacheTTL(d time.Duration) Option { return func(o *options) { o.cacheTTL = d } }

func buildOptions(opts []Option) options {
	o := options{
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
		cacheSize: DefaultFieldCacheSize,
		cacheTTL:  DefaultFieldCacheTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Services bundles the services sharing one store, field cache and change
// log.
type Services struct {
	Templates *TemplateService
	Fields    *FieldService
	ChangeLog *ChangeLogService
}

// New wires the services on top of st.
func New(st store.Store, opts ...Option) *Services {
	o := buildOptions(opts)
	changes := newChangeLogService(st, o)
	cache := NewFieldCache(st, o.cacheSize, o.cacheTTL, o.metrics)
	fields := newFieldService(st, cache, changes, o)
	return &Services{
		Templates: newTemplateService(st, cache, changes, o),
		Fields:    fields,
		ChangeLog: changes,
	}
}

// storeError passes envelopes through and wraps anything else as an
// internal error, logging the cause.
func storeError(ctx context.Context, logger *zap.Logger, op string, err error) error {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env
	}
	observability.LoggerFrom(ctx, logger).Error("store operation failed",
		zap.String("operation", op),
		zap.Bool("malformed_record", errors.Is(err, store.ErrMalformedRecord)),
		zap.Error(err),
	)
	return fmt.Errorf("%s: %w", op, errors.Join(model.NewInternalError(), err))
}

// toMap converts an entity into the generic form kept in the change log.
func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	m := map[string]any{}
	_ = json.Unmarshal(b, &m)
	return m
}

// bookkeeping keys never show up as changes.
var bookkeeping = map[string]bool{
	"id": true, "version": true, "created_at": true, "updated_at": true,
	"created_by": true, "updated_by": true,
}

// diff returns the top-level attributes whose value differs between before and
// after, with their new values.
func diff(before, after any) map[string]any {
	b, a := toMap(before), toMap(after)
	out := map[string]any{}
	for k, v := range a {
		if bookkeeping[k] {
			continue
		}
		if !cmp.Equal(b[k], v) {
			out[k] = v
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok && !bookkeeping[k] {
			out[k] = nil
		}
	}
	return out
}

package store

import (
	"context"
	"time"

	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/model"
)

// Instrumented wraps a Store and records the duration and failures of every
// operation. NOT_FOUND and CONFLICT results are outcomes, not failures.
type Instrumented struct {
	next    Store
	metrics *observability.Metrics
}

// Instrument wraps s with metrics. A nil metrics returns s unchanged.
func Instrument(s Store, m *observability.Metrics) Store {
	if m == nil {
		return s
	}
	return &Instrumented{next: s, metrics: m}
}

func observe[T any](m *observability.Metrics, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	failed := err != nil && !model.IsCode(err, model.ErrNotFound) && !model.IsCode(err, model.ErrConflict)
	m.RecordStoreOperation(op, time.Since(start), failed)
	return v, err
}

func observeErr(m *observability.Metrics, op string, fn func() error) error {
	_, err := observe(m, op, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (s *Instrumented) ListTemplates(ctx context.Context) ([]model.Template, error) {
	return observe(s.metrics, "list_templates", func() ([]model.Template, error) { return s.next.ListTemplates(ctx) })
}

func (s *Instrumented) GetTemplate(ctx context.Context, id string) (model.Template, error) {
	return observe(s.metrics, "get_template", func() (model.Template, error) { return s.next.GetTemplate(ctx, id) })
}

func (s *Instrumented) CreateTemplate(ctx context.Context, t model.Template) (model.Template, error) {
	return observe(s.metrics, "create_template", func() (model.Template, error) { return s.next.CreateTemplate(ctx, t) })
}

func (s *Instrumented) UpdateTemplate(ctx context.Context, t model.Template) (model.Template, error) {
	return observe(s.metrics, "update_template", func() (model.Template, error) { return s.next.UpdateTemplate(ctx, t) })
}

func (s *Instrumented) DeleteTemplate(ctx context.Context, id string) error {
	return observeErr(s.metrics, "delete_template", func() error { return s.next.DeleteTemplate(ctx, id) })
}

func (s *Instrumented) ListFields(ctx context.Context) ([]model.Field, error) {
	return observe(s.metrics, "list_fields", func() ([]model.Field, error) { return s.next.ListFields(ctx) })
}

func (s *Instrumented) GetField(ctx context.Context, id string) (model.Field, error) {
	return observe(s.metrics, "get_field", func() (model.Field, error) { return s.next.GetField(ctx, id) })
}

func (s *Instrumented) GetFields(ctx context.Context, ids []string) ([]model.Field, error) {
	return observe(s.metrics, "get_fields", func() ([]model.Field, error) { return s.next.GetFields(ctx, ids) })
}

func (s *Instrumented) CreateField(ctx context.Context, f model.Field) (model.Field, error) {
	return observe(s.metrics, "create_field", func() (model.Field, error) { return s.next.CreateField(ctx, f) })
}

func (s *Instrumented) UpdateField(ctx context.Context, f model.Field) (model.Field, error) {
	return observe(s.metrics, "update_field", func() (model.Field, error) { return s.next.UpdateField(ctx, f) })
}

func (s *Instrumented) DeleteField(ctx context.Context, id string) error {
	return observeErr(s.metrics, "delete_field", func() error { return s.next.DeleteField(ctx, id) })
}

func (s *Instrumented) AppendChange(ctx context.Context, e model.ChangeLogEntry) error {
	return observeErr(s.metrics, "append_change", func() error { return s.next.AppendChange(ctx, e) })
}

func (s *Instrumented) ListChanges(ctx context.Context, f ChangeFilter) ([]model.ChangeLogEntry, error) {
	return observe(s.metrics, "list_changes", func() ([]model.ChangeLogEntry, error) { return s.next.ListChanges(ctx, f) })
}

func (s *Instrumented) Verify(ctx context.Context) ([]*MalformedRecordError, error) {
	return s.next.Verify(ctx)
}

func (s *Instrumented) HealthCheck(ctx context.Context) error { return s.next.HealthCheck(ctx) }

func (s *Instrumented) Close() error { return s.next.Close() }

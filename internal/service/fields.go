package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/internal/store"
	"github.com/pitabwire/regelwerk/internal/validation"
	"github.com/pitabwire/regelwerk/model"
)

// ValidationReport is the outcome of validating a value against a stored
// field.
type ValidationReport struct {
	FieldID string      `json:"field_id"`
	Value   model.Value `json:"value"`
	Valid   bool        `json:"valid"`
	Errors  []string    `json:"errors"`
}

// SchemaReport lists the rules a field type supports.
type SchemaReport struct {
	FieldType         string                       `json:"field_type"`
	ValidationOptions map[string]map[string]string `json:"validation_options"`
}

// FieldService manages field definitions.
type FieldService struct {
	store     store.Store
	cache     *FieldCache
	changes   *ChangeLogService
	validator *validation.Engine
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func newFieldService(st store.Store, cache *FieldCache, changes *ChangeLogService, o options) *FieldService {
	return &FieldService{
		store:     st,
		cache:     cache,
		changes:   changes,
		validator: validation.NewEngine(o.logger, o.metrics),
		logger:    o.logger,
		now:       o.now,
		newID:     o.newID,
	}
}

// List returns all fields.
func (s *FieldService) List(ctx context.Context) ([]model.Field, error) {
	fields, err := s.store.ListFields(ctx)
	if err != nil {
		return nil, storeError(ctx, s.logger, "list fields", err)
	}
	return fields, nil
}

// Get returns one field.
func (s *FieldService) Get(ctx context.Context, id string) (model.Field, error) {
	f, err := s.store.GetField(ctx, id)
	if err != nil {
		return model.Field{}, storeError(ctx, s.logger, "get field", err)
	}
	return f, nil
}

// Create stores a new field. A missing id, and missing option ids, are
// generated.
func (s *FieldService) Create(ctx context.Context, f model.Field) (model.Field, error) {
	f = f.Clone()
	if f.ID == "" {
		f.ID = s.newID()
	}
	now := s.now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	if err := s.prepare(ctx, &f, nil); err != nil {
		return model.Field{}, err
	}

	created, err := s.store.CreateField(ctx, f)
	if err != nil {
		return model.Field{}, storeError(ctx, s.logger, "create field", err)
	}
	s.cache.Invalidate(created.ID)
	s.changes.record(ctx, model.EntityField, created.ID, model.ActionCreated, toMap(created))
	observability.LoggerFrom(ctx, s.logger).Info("field created",
		zap.String("field_id", created.ID), zap.String("field_type", created.Type.String()))
	return created, nil
}

// Update replaces the field with the given id. A zero Version updates
// whatever version is stored; any other Version must match. An update that
// changes nothing returns the stored field without a new version.
func (s *FieldService) Update(ctx context.Context, id string, f model.Field) (model.Field, error) {
	current, err := s.store.GetField(ctx, id)
	if err != nil {
		return model.Field{}, storeError(ctx, s.logger, "get field", err)
	}
	f = f.Clone()
	f.ID = id
	f.CreatedAt = current.CreatedAt
	f.UpdatedAt = s.now().UTC()
	if f.Version == 0 {
		f.Version = current.Version
	}
	if err := s.prepare(ctx, &f, &current); err != nil {
		return model.Field{}, err
	}
	changes := diff(current, f)
	if len(changes) == 0 {
		return current, nil
	}

	updated, err := s.store.UpdateField(ctx, f)
	if err != nil {
		return model.Field{}, storeError(ctx, s.logger, "update field", err)
	}
	s.cache.Invalidate(id)
	s.changes.record(ctx, model.EntityField, id, model.ActionUpdated, changes)
	return updated, nil
}

// Delete removes the field. Templates and dependencies that still reference
// it keep the dangling id; rendering skips it.
func (s *FieldService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteField(ctx, id); err != nil {
		return storeError(ctx, s.logger, "delete field", err)
	}
	s.cache.Invalidate(id)
	s.changes.record(ctx, model.EntityField, id, model.ActionDeleted, nil)
	return nil
}

// ValidateValue checks value against the stored field.
func (s *FieldService) ValidateValue(ctx context.Context, fieldID string, value model.Value) (ValidationReport, error) {
	ctx, span := observability.StartSpan(ctx, "regelwerk.validate",
		observability.AttrFieldID.String(fieldID))
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	fields, err := s.cache.Get(ctx, []string{fieldID})
	if err != nil {
		err = storeError(ctx, s.logger, "get field", err)
		return ValidationReport{}, err
	}
	if len(fields) == 0 {
		err = model.NewNotFoundError(fmt.Sprintf("field %q not found", fieldID))
		return ValidationReport{}, err
	}
	field := fields[0]
	span.SetAttributes(observability.AttrFieldType.String(field.Type.String()))

	res := s.validator.Validate(field, value)
	return ValidationReport{FieldID: fieldID, Value: value, Valid: res.Valid, Errors: res.Errors}, nil
}

// ValidationSchema describes the rules available for a field type.
func (s *FieldService) ValidationSchema(fieldType string) SchemaReport {
	return SchemaReport{FieldType: fieldType, ValidationOptions: validation.Schema(fieldType)}
}

// prepare normalizes f and checks it against its invariants and the fields
// it depends on. Options without an id keep the id of the current option with
// the same value, or get a new one.
func (s *FieldService) prepare(ctx context.Context, f *model.Field, current *model.Field) error {
	sanitizeField(f)
	f.ApplyDefaults()
	known := map[string]string{}
	if current != nil {
		for _, o := range current.Options {
			known[o.Value] = o.ID
		}
	}
	for i := range f.Options {
		if f.Options[i].ID != "" {
			continue
		}
		if id, ok := known[f.Options[i].Value]; ok {
			f.Options[i].ID = id
			continue
		}
		f.Options[i].ID = s.newID()
	}

	details := f.Validate()
	refs := make([]string, 0, len(f.Dependencies))
	for _, d := range f.Dependencies {
		if d.FieldID != "" && d.FieldID != f.ID {
			refs = append(refs, d.FieldID)
		}
	}
	missing, err := missingFields(ctx, s.store, refs)
	if err != nil {
		return storeError(ctx, s.logger, "resolve dependencies", err)
	}
	for i, d := range f.Dependencies {
		if missing[d.FieldID] {
			details = append(details, model.FieldError{
				Field:   fmt.Sprintf("dependencies[%d].field_id", i),
				Code:    "unknown_field",
				Message: fmt.Sprintf("field %q does not exist", d.FieldID),
			})
		}
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// missingFields returns the subset of ids that no stored field has.
func missingFields(ctx context.Context, st store.Store, ids []string) (map[string]bool, error) {
	missing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return missing, nil
	}
	found, err := st.GetFields(ctx, ids)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(found))
	for _, f := range found {
		known[f.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			missing[id] = true
		}
	}
	return missing, nil
}

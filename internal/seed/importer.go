package seed

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/internal/service"
	"github.com/pitabwire/regelwerk/model"
)

// Result counts what an import did.
type Result struct {
	FieldsCreated      int `json:"fields_created"`
	FieldsUpdated      int `json:"fields_updated"`
	FieldsUnchanged    int `json:"fields_unchanged"`
	TemplatesCreated   int `json:"templates_created"`
	TemplatesUpdated   int `json:"templates_updated"`
	TemplatesUnchanged int `json:"templates_unchanged"`
}

// ValidationError carries every problem found in a set of seed documents.
type ValidationError struct {
	Errors []VError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("seed validation failed with %d error(s): %v", len(e.Errors), e.Errors[0])
}

// Importer upserts seed documents through the services, so that seeded
// entities get the same normalization and change log entries as API writes.
type Importer struct {
	services  *service.Services
	validator *Validator
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewImporter creates an Importer. A nil logger discards output.
func NewImporter(svc *service.Services, logger *zap.Logger, metrics *observability.Metrics) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{services: svc, validator: NewValidator(), logger: logger, metrics: metrics}
}

// LoadAndImport loads every seed file below directories and imports them.
func (im *Importer) LoadAndImport(ctx context.Context, directories []string) (Result, error) {
	docs, err := NewLoader().LoadAll(directories)
	if err != nil {
		return Result{}, err
	}
	return im.Import(ctx, docs)
}

// Import validates docs as a whole and, when they are valid, creates missing
// entities and updates existing ones. Fields are written before templates and
// in dependency order. Write failures are collected; the import continues
// with the remaining entities.
func (im *Importer) Import(ctx context.Context, docs []Document) (Result, error) {
	var res Result

	stored, err := im.services.Fields.List(ctx)
	if err != nil {
		return res, err
	}
	existing := make(map[string]bool, len(stored))
	for _, f := range stored {
		existing[f.ID] = true
	}

	if verrs := im.validator.Validate(docs, func(id string) bool { return existing[id] }); len(verrs) > 0 {
		return res, &ValidationError{Errors: verrs}
	}

	var fields []model.Field
	var templates []model.Template
	for _, doc := range docs {
		fields = append(fields, doc.Fields...)
		templates = append(templates, doc.Templates...)
		im.logger.Debug("seed document loaded",
			zap.String("file", doc.SourceFile),
			zap.String("checksum", doc.Checksum),
			zap.Int("fields", len(doc.Fields)),
			zap.Int("templates", len(doc.Templates)),
		)
	}
	fields, _ = dependencyOrder(fields)

	var errs []error
	for _, f := range fields {
		created, changed, err := im.upsertField(ctx, f)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("field %q: %w", f.ID, err))
		case created:
			res.FieldsCreated++
		case changed:
			res.FieldsUpdated++
		default:
			res.FieldsUnchanged++
		}
	}
	for _, t := range templates {
		created, changed, err := im.upsertTemplate(ctx, t)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("template %q: %w", t.ID, err))
		case created:
			res.TemplatesCreated++
		case changed:
			res.TemplatesUpdated++
		default:
			res.TemplatesUnchanged++
		}
	}

	im.metrics.RecordSeedDocuments(model.EntityField, res.FieldsCreated+res.FieldsUpdated)
	im.metrics.RecordSeedDocuments(model.EntityTemplate, res.TemplatesCreated+res.TemplatesUpdated)
	im.logger.Info("seed import finished",
		zap.Int("documents", len(docs)),
		zap.Int("fields_created", res.FieldsCreated),
		zap.Int("fields_updated", res.FieldsUpdated),
		zap.Int("templates_created", res.TemplatesCreated),
		zap.Int("templates_updated", res.TemplatesUpdated),
		zap.Int("failures", len(errs)),
	)
	return res, errors.Join(errs...)
}

func (im *Importer) upsertField(ctx context.Context, f model.Field) (created, changed bool, err error) {
	current, err := im.services.Fields.Get(ctx, f.ID)
	if model.IsCode(err, model.ErrNotFound) {
		_, err = im.services.Fields.Create(ctx, f)
		return err == nil, false, err
	}
	if err != nil {
		return false, false, err
	}
	f.Version = 0
	updated, err := im.services.Fields.Update(ctx, f.ID, f)
	if err != nil {
		return false, false, err
	}
	return false, updated.Version != current.Version, nil
}

func (im *Importer) upsertTemplate(ctx context.Context, t model.Template) (created, changed bool, err error) {
	current, err := im.services.Templates.Get(ctx, t.ID)
	if model.IsCode(err, model.ErrNotFound) {
		_, err = im.services.Templates.Create(ctx, t)
		return err == nil, false, err
	}
	if err != nil {
		return false, false, err
	}
	t.Version = 0
	updated, err := im.services.Templates.Update(ctx, t.ID, t)
	if err != nil {
		return false, false, err
	}
	return false, updated.Version != current.Version, nil
}

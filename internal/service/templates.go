package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/regelwerk/internal/dependency"
	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/internal/schema"
	"github.com/pitabwire/regelwerk/internal/store"
	"github.com/pitabwire/regelwerk/model"
)

// renderParallelism bounds the templates rendered at once by one request.
const renderParallelism = 8

// RenderRequest asks for several templates rendered for one context.
type RenderRequest struct {
	TemplateIDs []string               `json:"template_ids"`
	Role        model.Role             `json:"role"`
	CustomerID  string                 `json:"customer_id"`
	Language    model.Language         `json:"language"`
	FieldValues map[string]model.Value `json:"field_values"`
}

// RenderResponse holds the rendered templates in request order and all of
// their visible fields in the same order.
type RenderResponse struct {
	Templates []model.RenderedTemplate `json:"templates"`
	Fields    []model.FieldView        `json:"fields"`
}

// SimulateRequest previews one template.
type SimulateRequest struct {
	TemplateID  string
	Role        model.Role
	CustomerID  string
	Language    model.Language
	FieldValues map[string]model.Value
}

// SimulationInfo echoes the simulated context.
type SimulationInfo struct {
	Role                  model.Role `json:"role"`
	CustomerID            string     `json:"customer_id"`
	DependenciesProcessed bool       `json:"dependencies_processed"`
}

// SimulationResult is the preview of one template.
type SimulationResult struct {
	Template          model.RenderedTemplate `json:"template"`
	FieldValues       map[string]model.Value `json:"field_values"`
	VisibleFieldCount int                    `json:"visible_field_count"`
	SimulationInfo    SimulationInfo         `json:"simulation_info"`
}

// FieldExport is the exported form of a field.
type FieldExport struct {
	ID           string              `json:"id"`
	Type         model.FieldType     `json:"type"`
	Name         model.LocalizedText `json:"name"`
	Dependencies []model.Dependency  `json:"dependencies"`
}

// TemplateExport is the exported form of a template with its fields.
type TemplateExport struct {
	ID          string               `json:"id"`
	Name        model.LocalizedText  `json:"name"`
	Description *model.LocalizedText `json:"description,omitempty"`
	Fields      []FieldExport        `json:"fields"`
}

// TemplateService manages templates and renders them.
type TemplateService struct {
	store   store.Store
	cache   *FieldCache
	changes *ChangeLogService
	engine  *dependency.Engine
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

func newTemplateService(st store.Store, cache *FieldCache, changes *ChangeLogService, o options) *TemplateService {
	return &TemplateService{
		store:   st,
		cache:   cache,
		changes: changes,
		engine:  dependency.NewEngine(o.logger, o.metrics),
		logger:  o.logger,
		now:     o.now,
		newID:   o.newID,
	}
}

// List returns all templates.
func (s *TemplateService) List(ctx context.Context) ([]model.Template, error) {
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, storeError(ctx, s.logger, "list templates", err)
	}
	return templates, nil
}

// Get returns one template.
func (s *TemplateService) Get(ctx context.Context, id string) (model.Template, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return model.Template{}, storeError(ctx, s.logger, "get template", err)
	}
	return t, nil
}

// Create stores a new template. A missing id is generated.
func (s *TemplateService) Create(ctx context.Context, t model.Template) (model.Template, error) {
	if t.ID == "" {
		t.ID = s.newID()
	}
	actor := model.RequestContextFrom(ctx).Actor()
	t.CreatedBy, t.UpdatedBy = actor, actor
	now := s.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if err := s.prepare(ctx, &t); err != nil {
		return model.Template{}, err
	}

	created, err := s.store.CreateTemplate(ctx, t)
	if err != nil {
		return model.Template{}, storeError(ctx, s.logger, "create template", err)
	}
	s.changes.record(ctx, model.EntityTemplate, created.ID, model.ActionCreated, toMap(created))
	observability.LoggerFrom(ctx, s.logger).Info("template created",
		zap.String("template_id", created.ID), zap.Int("fields", len(created.Fields)))
	return created, nil
}

// Update replaces the template with the given id. A zero Version updates
// whatever version is stored; any other Version must match. An update that
// changes nothing returns the stored template.
func (s *TemplateService) Update(ctx context.Context, id string, t model.Template) (model.Template, error) {
	current, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return model.Template{}, storeError(ctx, s.logger, "get template", err)
	}
	t.ID = id
	t.CreatedBy, t.CreatedAt = current.CreatedBy, current.CreatedAt
	t.UpdatedBy = model.RequestContextFrom(ctx).Actor()
	t.UpdatedAt = s.now().UTC()
	if t.Version == 0 {
		t.Version = current.Version
	}
	if err := s.prepare(ctx, &t); err != nil {
		return model.Template{}, err
	}
	changes := diff(current, t)
	if len(changes) == 0 {
		return current, nil
	}

	updated, err := s.store.UpdateTemplate(ctx, t)
	if err != nil {
		return model.Template{}, storeError(ctx, s.logger, "update template", err)
	}
	s.changes.record(ctx, model.EntityTemplate, id, model.ActionUpdated, changes)
	return updated, nil
}

// Delete removes the template.
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		return storeError(ctx, s.logger, "delete template", err)
	}
	s.changes.record(ctx, model.EntityTemplate, id, model.ActionDeleted, nil)
	return nil
}

// Render renders every requested template for the same context. Unknown
// template ids are skipped.
func (s *TemplateService) Render(ctx context.Context, req RenderRequest) (RenderResponse, error) {
	ctx, span := observability.StartSpan(ctx, "regelwerk.render",
		observability.AttrTemplateCount.Int(len(req.TemplateIDs)),
		observability.AttrRole.String(req.Role.String()),
		observability.AttrCustomerID.String(req.CustomerID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	rc := model.RenderContext{
		Role:        req.Role,
		CustomerID:  req.CustomerID,
		FieldValues: req.FieldValues,
		Language:    languageOr(ctx, req.Language),
	}

	rendered := make([]*model.RenderedTemplate, len(req.TemplateIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(renderParallelism)
	for i, id := range req.TemplateIDs {
		g.Go(func() error {
			rt, err := s.renderOne(gctx, id, rc)
			if model.IsCode(err, model.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			rendered[i] = &rt
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return RenderResponse{}, err
	}

	resp := RenderResponse{Templates: []model.RenderedTemplate{}, Fields: []model.FieldView{}}
	for _, rt := range rendered {
		if rt == nil {
			continue
		}
		resp.Templates = append(resp.Templates, *rt)
		resp.Fields = append(resp.Fields, rt.Fields...)
	}
	span.SetAttributes(observability.AttrVisibleFields.Int(len(resp.Fields)))
	return resp, nil
}

// Simulate renders one template for a role, customer and set of values.
func (s *TemplateService) Simulate(ctx context.Context, req SimulateRequest) (SimulationResult, error) {
	ctx, span := observability.StartSpan(ctx, "regelwerk.simulate",
		observability.AttrTemplateID.String(req.TemplateID),
		observability.AttrRole.String(req.Role.String()),
		observability.AttrCustomerID.String(req.CustomerID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	values := req.FieldValues
	if values == nil {
		values = map[string]model.Value{}
	}
	rt, err := s.renderOne(ctx, req.TemplateID, model.RenderContext{
		Role:        req.Role,
		CustomerID:  req.CustomerID,
		FieldValues: values,
		Language:    languageOr(ctx, req.Language),
	})
	if err != nil {
		return SimulationResult{}, err
	}
	span.SetAttributes(observability.AttrVisibleFields.Int(len(rt.Fields)))

	return SimulationResult{
		Template:          rt,
		FieldValues:       values,
		VisibleFieldCount: len(rt.Fields),
		SimulationInfo: SimulationInfo{
			Role:                  req.Role,
			CustomerID:            req.CustomerID,
			DependenciesProcessed: true,
		},
	}, nil
}

// JSONSchema returns the submission schema of the template rendered for rc.
func (s *TemplateService) JSONSchema(ctx context.Context, id string, rc model.RenderContext) (*openapi3.Schema, error) {
	rc.Language = languageOr(ctx, rc.Language)
	rt, err := s.renderOne(ctx, id, rc)
	if err != nil {
		return nil, err
	}
	return schema.Build(rt, rc.Language), nil
}

// Export returns one template with its fields.
func (s *TemplateService) Export(ctx context.Context, id string) (TemplateExport, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return TemplateExport{}, storeError(ctx, s.logger, "get template", err)
	}
	return s.export(ctx, t)
}

// ExportMany exports the templates with the given ids in order. Blank ids are
// ignored and unknown ids skipped; at least one id is required.
func (s *TemplateService) ExportMany(ctx context.Context, ids []string) ([]TemplateExport, error) {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return nil, model.NewBadRequestError("No template ids provided")
	}

	out := make([]TemplateExport, 0, len(clean))
	for _, id := range clean {
		exp, err := s.Export(ctx, id)
		if model.IsCode(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

func (s *TemplateService) export(ctx context.Context, t model.Template) (TemplateExport, error) {
	fields, err := s.orderedFields(ctx, t)
	if err != nil {
		return TemplateExport{}, err
	}
	exp := TemplateExport{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Fields:      make([]FieldExport, 0, len(fields)),
	}
	for _, f := range fields {
		exp.Fields = append(exp.Fields, FieldExport{
			ID:           f.ID,
			Type:         f.Type,
			Name:         f.Name,
			Dependencies: f.Dependencies,
		})
	}
	return exp, nil
}

func (s *TemplateService) renderOne(ctx context.Context, id string, rc model.RenderContext) (model.RenderedTemplate, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return model.RenderedTemplate{}, storeError(ctx, s.logger, "get template", err)
	}
	fields, err := s.cache.Get(ctx, t.Fields)
	if err != nil {
		return model.RenderedTemplate{}, storeError(ctx, s.logger, "get fields", err)
	}
	return s.engine.Render(t, fields, rc), nil
}

// orderedFields resolves the template's field references in template order,
// dropping dangling ids.
func (s *TemplateService) orderedFields(ctx context.Context, t model.Template) ([]model.Field, error) {
	fields, err := s.cache.Get(ctx, t.Fields)
	if err != nil {
		return nil, storeError(ctx, s.logger, "get fields", err)
	}
	byID := make(map[string]model.Field, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}
	out := make([]model.Field, 0, len(t.Fields))
	for _, id := range t.Fields {
		if f, ok := byID[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *TemplateService) prepare(ctx context.Context, t *model.Template) error {
	sanitizeTemplate(t)
	t.ApplyDefaults()

	details := t.Validate()
	missing, err := missingFields(ctx, s.store, t.Fields)
	if err != nil {
		return storeError(ctx, s.logger, "resolve fields", err)
	}
	for i, id := range t.Fields {
		if id != "" && missing[id] {
			details = append(details, model.FieldError{
				Field:   fmt.Sprintf("fields[%d]", i),
				Code:    "unknown_field",
				Message: fmt.Sprintf("field %q does not exist", id),
			})
		}
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// languageOr returns lang, or the request language, or German.
func languageOr(ctx context.Context, lang model.Language) model.Language {
	if lang.Valid() {
		return lang
	}
	if rc := model.RequestContextFrom(ctx); rc != nil && rc.Language.Valid() {
		return rc.Language
	}
	return model.LanguageDE
}

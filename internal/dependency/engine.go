// Package dependency decides which fields of a template are shown for a
// given role, customer and set of current field values.
package dependency

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/model"
)

// Engine renders templates. It holds no per-render state and is safe for
// concurrent use.
type Engine struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewEngine creates an Engine. A nil logger discards output; nil metrics
// disable recording.
func NewEngine(logger *zap.Logger, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger, metrics: metrics}
}

// Render resolves the template's field references against fields and runs
// the role, customer and dependency filters in that order. Field order in the
// result follows the template; references to unknown fields are dropped.
func (e *Engine) Render(tmpl model.Template, fields []model.Field, rc model.RenderContext) model.RenderedTemplate {
	byID := make(map[string]model.Field, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}

	resolved := make([]model.Field, 0, len(tmpl.Fields))
	for _, id := range tmpl.Fields {
		if f, ok := byID[id]; ok {
			resolved = append(resolved, f)
		}
	}

	visible := e.FilterByRole(resolved, rc.Role)
	visible = FilterByCustomer(visible, rc.CustomerID)
	visible = e.FilterByDependencies(visible, rc.FieldValues)

	out := model.RenderedTemplate{
		ID:          tmpl.ID,
		Name:        tmpl.Name,
		Description: tmpl.Description,
		Fields:      make([]model.FieldView, 0, len(visible)),
	}
	for _, f := range visible {
		out.Fields = append(out.Fields, view(f, rc.Language))
	}

	e.metrics.RecordRender(string(rc.Role), len(out.Fields))
	return out
}

// FilterByRole keeps fields the role may see. A field without role
// configuration, or without an entry for role, is kept. A field with an entry
// is kept only when the entry marks it visible, and the entry's overrides are
// applied to a copy of the field.
func (e *Engine) FilterByRole(fields []model.Field, role model.Role) []model.Field {
	out := make([]model.Field, 0, len(fields))
	for _, f := range fields {
		override, ok := f.RoleConfig[role]
		if !ok {
			out = append(out, f)
			continue
		}
		if override.Visible == nil || !*override.Visible {
			continue
		}
		cp := f.Clone()
		applyOverride(&cp, override)
		out = append(out, cp)
	}
	return out
}

func applyOverride(f *model.Field, o model.RoleOverride) {
	switch {
	case o.Visibility != nil:
		f.Visibility = *o.Visibility
	case o.Editable != nil && *o.Editable:
		f.Visibility = model.VisibilityEditable
	case o.Editable != nil:
		f.Visibility = model.VisibilityVisible
	}
	switch {
	case o.Requirement != nil:
		f.Requirement = *o.Requirement
	case o.Required != nil && *o.Required:
		f.Requirement = model.RequirementRequired
	case o.Required != nil:
		f.Requirement = model.RequirementOptional
	}
}

// FilterByCustomer keeps fields that are not customer specific. When
// customerID is set, customer specific fields listing it are kept as well.
func FilterByCustomer(fields []model.Field, customerID string) []model.Field {
	out := make([]model.Field, 0, len(fields))
	for _, f := range fields {
		if !f.CustomerSpecific || (customerID != "" && f.HasCustomer(customerID)) {
			out = append(out, f)
		}
	}
	return out
}

// FilterByDependencies keeps fields whose dependencies all hold.
func (e *Engine) FilterByDependencies(fields []model.Field, values map[string]model.Value) []model.Field {
	out := make([]model.Field, 0, len(fields))
	for _, f := range fields {
		if e.ShouldShowField(f, values) {
			out = append(out, f)
		}
	}
	return out
}

// ShouldShowField reports whether every dependency of f holds. A condition
// that cannot be evaluated counts as false.
func (e *Engine) ShouldShowField(f model.Field, values map[string]model.Value) bool {
	for _, dep := range f.Dependencies {
		if !e.evaluate(f.ID, dep, values) {
			return false
		}
	}
	return true
}

func (e *Engine) evaluate(fieldID string, dep model.Dependency, values map[string]model.Value) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.conditionFailed(fieldID, dep, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()

	ok, err := Evaluate(dep, values)
	if err != nil {
		e.conditionFailed(fieldID, dep, err)
		return false
	}
	return ok
}

func (e *Engine) conditionFailed(fieldID string, dep model.Dependency, err error) {
	e.logger.Warn("dependency condition failed, hiding field",
		zap.String("field_id", fieldID),
		zap.String("depends_on", dep.FieldID),
		zap.String("operator", dep.Operator),
		zap.Error(err),
	)
	e.metrics.RecordConditionError(dep.Operator)
}

func view(f model.Field, lang model.Language) model.FieldView {
	f = f.Clone()
	v := model.FieldView{
		ID:                  f.ID,
		Name:                f.Name,
		Type:                f.Type,
		Visibility:          f.Visibility,
		Requirement:         f.Requirement,
		Validation:          f.Validation,
		SelectType:          f.SelectType,
		Options:             f.Options,
		DocumentMode:        f.DocumentMode,
		DocumentConstraints: f.DocumentConstraints,
		Dependencies:        f.Dependencies,
	}
	if lang != "" {
		v.Label = f.Name.Get(lang)
	}
	if v.Options == nil {
		v.Options = []model.SelectOption{}
	}
	if v.Dependencies == nil {
		v.Dependencies = []model.Dependency{}
	}
	return v
}

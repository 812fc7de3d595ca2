package model

import (
	"fmt"
	"slices"
	"time"
)

// Template is an ordered collection of field references with role and
// customer visibility defaults.
type Template struct {
	ID                  string         `json:"id"                    yaml:"id"`
	Name                LocalizedText  `json:"name"                  yaml:"name"`
	Description         *LocalizedText `json:"description,omitempty" yaml:"description"`
	Fields              []string       `json:"fields"                yaml:"fields"`
	RoleConfig          RoleConfig     `json:"role_config"           yaml:"role_config"`
	CustomerSpecific    bool           `json:"customer_specific"     yaml:"customer_specific"`
	VisibleForCustomers []string       `json:"visible_for_customers" yaml:"visible_for_customers"`
	CreatedBy           string         `json:"created_by"            yaml:"-"`
	UpdatedBy           string         `json:"updated_by"            yaml:"-"`
	CreatedAt           time.Time      `json:"created_at"            yaml:"-"`
	UpdatedAt           time.Time      `json:"updated_at"            yaml:"-"`
	Version             int            `json:"version"               yaml:"-"`
}

// ApplyDefaults replaces nil collections with empty ones.
func (t *Template) ApplyDefaults() {
	if t.Fields == nil {
		t.Fields = []string{}
	}
	if t.RoleConfig == nil {
		t.RoleConfig = RoleConfig{}
	}
	if t.VisibleForCustomers == nil {
		t.VisibleForCustomers = []string{}
	}
}

// Validate checks the structural invariants of t.
func (t *Template) Validate() []FieldError {
	var errs []FieldError
	if t.Name.IsZero() {
		errs = append(errs, FieldError{Field: "name", Code: "required", Message: "name needs at least one translation"})
	}
	seen := make(map[string]bool, len(t.Fields))
	for i, id := range t.Fields {
		switch {
		case id == "":
			errs = append(errs, FieldError{
				Field: fmt.Sprintf("fields[%d]", i), Code: "required", Message: "field id is required",
			})
		case seen[id]:
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("fields[%d]", i),
				Code:    "duplicate",
				Message: fmt.Sprintf("field %q is listed more than once", id),
			})
		}
		seen[id] = true
	}
	return errs
}

// Clone returns a deep copy of t.
func (t Template) Clone() Template {
	out := t
	if t.Description != nil {
		d := *t.Description
		out.Description = &d
	}
	out.Fields = slices.Clone(t.Fields)
	out.VisibleForCustomers = slices.Clone(t.VisibleForCustomers)
	if t.RoleConfig != nil {
		out.RoleConfig = make(RoleConfig, len(t.RoleConfig))
		for k, v := range t.RoleConfig {
			out.RoleConfig[k] = v
		}
	}
	return out
}

package model

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// LocalizedText holds one text per supported language.
type LocalizedText struct {
	DE string `json:"de" yaml:"de"`
	FR string `json:"fr" yaml:"fr"`
	IT string `json:"it" yaml:"it"`
}

// Get returns the text for lang, falling back to German when the requested
// translation is empty.
func (t LocalizedText) Get(lang Language) string {
	var s string
	switch lang {
	case LanguageFR:
		s = t.FR
	case LanguageIT:
		s = t.IT
	default:
		s = t.DE
	}
	if s == "" {
		return t.DE
	}
	return s
}

// IsZero reports whether no translation is set.
func (t LocalizedText) IsZero() bool { return t.DE == "" && t.FR == "" && t.IT == "" }

// Map returns the non-empty translations keyed by language code.
func (t LocalizedText) Map() map[Language]string {
	m := make(map[Language]string, 3)
	if t.DE != "" {
		m[LanguageDE] = t.DE
	}
	if t.FR != "" {
		m[LanguageFR] = t.FR
	}
	if t.IT != "" {
		m[LanguageIT] = t.IT
	}
	return m
}

// SelectOption is one choice of a select field.
type SelectOption struct {
	ID    string        `json:"id"    yaml:"id"`
	Label LocalizedText `json:"label" yaml:"label"`
	Value string        `json:"value" yaml:"value"`
}

// DocumentConstraints limits what may be uploaded to a document field.
type DocumentConstraints struct {
	MaxSizeMB        *float64 `json:"max_size_mb,omitempty"        yaml:"max_size_mb"`
	AllowedFormats   []string `json:"allowed_formats,omitempty"    yaml:"allowed_formats"`
	AllowedMimeTypes []string `json:"allowed_mime_types,omitempty" yaml:"allowed_mime_types"`
}

// Dependency makes a field's visibility conditional on another field's value.
type Dependency struct {
	FieldID        string `json:"field_id"        yaml:"field_id"`
	Operator       string `json:"operator"        yaml:"operator"`
	ConditionValue Value  `json:"condition_value" yaml:"condition_value"`
}

// RoleOverride is the per-role configuration of a field or template. A field
// with an override entry for a role is only shown to that role when Visible
// is true.
type RoleOverride struct {
	Visible     *bool        `json:"visible,omitempty"     yaml:"visible"`
	Editable    *bool        `json:"editable,omitempty"    yaml:"editable"`
	Required    *bool        `json:"required,omitempty"    yaml:"required"`
	Visibility  *Visibility  `json:"visibility,omitempty"  yaml:"visibility"`
	Requirement *Requirement `json:"requirement,omitempty" yaml:"requirement"`
}

// RoleConfig maps roles to their overrides.
type RoleConfig map[Role]RoleOverride

// StringRules constrain the textual form of a value.
type StringRules struct {
	MinLength    *int   `json:"min_length,omitempty"    yaml:"min_length"`
	MaxLength    *int   `json:"max_length,omitempty"    yaml:"max_length"`
	Pattern      string `json:"pattern,omitempty"       yaml:"pattern"`
	PatternError string `json:"pattern_error,omitempty" yaml:"pattern_error"`
	Format       string `json:"format,omitempty"        yaml:"format"`
}

// NumberRules constrain the numeric form of a value.
type NumberRules struct {
	MinValue         *float64 `json:"min_value,omitempty"          yaml:"min_value"`
	MaxValue         *float64 `json:"max_value,omitempty"          yaml:"max_value"`
	IntegerOnly      bool     `json:"integer_only,omitempty"       yaml:"integer_only"`
	MaxDecimalPlaces *int     `json:"max_decimal_places,omitempty" yaml:"max_decimal_places"`
}

// DateRules constrain a value interpreted as a calendar date. Format uses
// yyyy/MM/dd style tokens and defaults to yyyy-MM-dd.
type DateRules struct {
	Format        string `json:"format,omitempty"          yaml:"format"`
	MinDate       string `json:"min_date,omitempty"        yaml:"min_date"`
	MaxDate       string `json:"max_date,omitempty"        yaml:"max_date"`
	NoFutureDates bool   `json:"no_future_dates,omitempty" yaml:"no_future_dates"`
	NoPastDates   bool   `json:"no_past_dates,omitempty"   yaml:"no_past_dates"`
}

// DocumentRules add to a field's DocumentConstraints.
type DocumentRules struct {
	MaxSizeMB         *float64 `json:"max_size_mb,omitempty"        yaml:"max_size_mb"`
	AllowedExtensions []string `json:"allowed_extensions,omitempty" yaml:"allowed_extensions"`
	AllowedMimeTypes  []string `json:"allowed_mime_types,omitempty" yaml:"allowed_mime_types"`
}

// ValidationSchema groups a field's validation rules by value interpretation.
// A group that is present but empty still counts as configured.
//
// File is the name the rule catalog uses for the document group. It is
// accepted on input and folded into Document by Field.ApplyDefaults; setting
// both is a validation error.
type ValidationSchema struct {
	String   *StringRules   `json:"string,omitempty"   yaml:"string"`
	Number   *NumberRules   `json:"number,omitempty"   yaml:"number"`
	Date     *DateRules     `json:"date,omitempty"     yaml:"date"`
	Document *DocumentRules `json:"document,omitempty" yaml:"document"`
	File     *DocumentRules `json:"file,omitempty"     yaml:"file,omitempty"`
}

// IsEmpty reports whether no rule group is configured.
func (s ValidationSchema) IsEmpty() bool {
	return s.String == nil && s.Number == nil && s.Date == nil && s.Document == nil && s.File == nil
}

// DocumentRules returns the document group under either of its names.
func (s ValidationSchema) DocumentRules() *DocumentRules {
	if s.Document != nil {
		return s.Document
	}
	return s.File
}

// Field is a single form input definition.
type Field struct {
	ID                  string              `json:"id"                            yaml:"id"`
	Name                LocalizedText       `json:"name"                          yaml:"name"`
	Type                FieldType           `json:"type"                          yaml:"type"`
	Visibility          Visibility          `json:"visibility"                    yaml:"visibility"`
	Requirement         Requirement         `json:"requirement"                   yaml:"requirement"`
	Validation          ValidationSchema    `json:"validation"                    yaml:"validation"`
	SelectType          *SelectType         `json:"select_type,omitempty"         yaml:"select_type"`
	Options             []SelectOption      `json:"options"                       yaml:"options"`
	DocumentMode        *DocumentMode       `json:"document_mode,omitempty"       yaml:"document_mode"`
	DocumentConstraints DocumentConstraints `json:"document_constraints"          yaml:"document_constraints"`
	RoleConfig          RoleConfig          `json:"role_config"                   yaml:"role_config"`
	CustomerSpecific    bool                `json:"customer_specific"             yaml:"customer_specific"`
	VisibleForCustomers []string            `json:"visible_for_customers"         yaml:"visible_for_customers"`
	Dependencies        []Dependency        `json:"dependencies"                  yaml:"dependencies"`
	CreatedAt           time.Time           `json:"created_at"                    yaml:"-"`
	UpdatedAt           time.Time           `json:"updated_at"                    yaml:"-"`
	Version             int                 `json:"version"                       yaml:"-"`
}

// ApplyDefaults fills unset enums with their defaults: text, editable and
// optional.
func (f *Field) ApplyDefaults() {
	if f.Type == "" {
		f.Type = FieldTypeText
	}
	if f.Visibility == "" {
		f.Visibility = VisibilityEditable
	}
	if f.Requirement == "" {
		f.Requirement = RequirementOptional
	}
	if f.Options == nil {
		f.Options = []SelectOption{}
	}
	if f.VisibleForCustomers == nil {
		f.VisibleForCustomers = []string{}
	}
	if f.Dependencies == nil {
		f.Dependencies = []Dependency{}
	}
	if f.RoleConfig == nil {
		f.RoleConfig = RoleConfig{}
	}
	if v := &f.Validation; v.File != nil && v.Document == nil {
		v.Document, v.File = v.File, nil
	}
}

// Validate checks the structural invariants of f and returns one FieldError
// per violation.
func (f *Field) Validate() []FieldError {
	var errs []FieldError
	add := func(field, code, msg string) {
		errs = append(errs, FieldError{Field: field, Code: code, Message: msg})
	}

	if !f.Type.Valid() {
		add("type", "invalid", fmt.Sprintf("unknown field type %q", f.Type))
	}
	if !f.Visibility.Valid() {
		add("visibility", "invalid", fmt.Sprintf("unknown visibility %q", f.Visibility))
	}
	if !f.Requirement.Valid() {
		add("requirement", "invalid", fmt.Sprintf("unknown requirement %q", f.Requirement))
	}
	if f.SelectType != nil && f.Type != FieldTypeSelect {
		add("select_type", "not_applicable", "select_type is only allowed on select fields")
	}
	if f.DocumentMode != nil && f.Type != FieldTypeDocument {
		add("document_mode", "not_applicable", "document_mode is only allowed on document fields")
	}

	seen := make(map[string]bool, len(f.Options))
	for i, opt := range f.Options {
		if seen[opt.Value] {
			add(fmt.Sprintf("options[%d].value", i), "duplicate",
				fmt.Sprintf("option value %q is not unique", opt.Value))
		}
		seen[opt.Value] = true
	}

	for i, dep := range f.Dependencies {
		if dep.FieldID == "" {
			add(fmt.Sprintf("dependencies[%d].field_id", i), "required", "field_id is required")
		}
		if dep.FieldID != "" && dep.FieldID == f.ID {
			add(fmt.Sprintf("dependencies[%d].field_id", i), "self_reference",
				"a field cannot depend on itself")
		}
		if !KnownOperator(dep.Operator) {
			add(fmt.Sprintf("dependencies[%d].operator", i), "invalid",
				fmt.Sprintf("unknown operator %q", dep.Operator))
		}
	}

	if f.Validation.Document != nil && f.Validation.File != nil {
		add("validation.file", "duplicate", "document rules are given as both document and file")
	}
	if c := f.DocumentConstraints.MaxSizeMB; c != nil && *c <= 0 {
		add("document_constraints.max_size_mb", "invalid", "max_size_mb must be positive")
	}
	return errs
}

// Clone returns a deep copy of f, so that per-render overrides never touch a
// shared instance.
func (f Field) Clone() Field {
	out := f
	if f.SelectType != nil {
		st := *f.SelectType
		out.SelectType = &st
	}
	if f.DocumentMode != nil {
		dm := *f.DocumentMode
		out.DocumentMode = &dm
	}
	out.Options = slices.Clone(f.Options)
	out.VisibleForCustomers = slices.Clone(f.VisibleForCustomers)
	out.DocumentConstraints.AllowedFormats = slices.Clone(f.DocumentConstraints.AllowedFormats)
	out.DocumentConstraints.AllowedMimeTypes = slices.Clone(f.DocumentConstraints.AllowedMimeTypes)
	if f.Dependencies != nil {
		out.Dependencies = make([]Dependency, len(f.Dependencies))
		for i, d := range f.Dependencies {
			d.ConditionValue = d.ConditionValue.Clone()
			out.Dependencies[i] = d
		}
	}
	if f.RoleConfig != nil {
		out.RoleConfig = make(RoleConfig, len(f.RoleConfig))
		for k, v := range f.RoleConfig {
			out.RoleConfig[k] = v
		}
	}
	return out
}

// HasCustomer reports whether customerID is in VisibleForCustomers.
func (f *Field) HasCustomer(customerID string) bool {
	for _, c := range f.VisibleForCustomers {
		if c == customerID {
			return true
		}
	}
	return false
}

// ErrMissingID is returned when an entity without an identifier is stored.
var ErrMissingID = errors.New("model: entity id is required")

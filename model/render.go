package model

// RenderContext is the per-call input of a render. It is owned by the caller
// and never persisted.
type RenderContext struct {
	Role        Role
	CustomerID  string
	FieldValues map[string]Value
	Language    Language
}

// FieldView is the rendered representation of one visible field.
type FieldView struct {
	ID                  string              `json:"id"`
	Name                LocalizedText       `json:"name"`
	Label               string              `json:"label,omitempty"`
	Type                FieldType           `json:"type"`
	Visibility          Visibility          `json:"visibility"`
	Requirement         Requirement         `json:"requirement"`
	Validation          ValidationSchema    `json:"validation"`
	SelectType          *SelectType         `json:"select_type,omitempty"`
	Options             []SelectOption      `json:"options"`
	DocumentMode        *DocumentMode       `json:"document_mode,omitempty"`
	DocumentConstraints DocumentConstraints `json:"document_constraints"`
	Dependencies        []Dependency        `json:"dependencies"`
}

// RenderedTemplate is a template filtered for one render context.
type RenderedTemplate struct {
	ID          string         `json:"id"`
	Name        LocalizedText  `json:"name"`
	Description *LocalizedText `json:"description,omitempty"`
	Fields      []FieldView    `json:"fields"`
}

// ValidationResult is the outcome of validating one submitted value.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

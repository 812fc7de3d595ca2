package seed

import (
	"fmt"
	"strings"

	"github.com/pitabwire/regelwerk/model"
)

// VError describes a single validation error in a seed document.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks seed documents structurally and referentially, across all
// documents at once.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all documents. exists reports fields already stored; it may
// be nil, in which case references must resolve within the documents.
func (v *Validator) Validate(docs []Document, exists func(id string) bool) []VError {
	if exists == nil {
		exists = func(string) bool { return false }
	}
	var errs []VError

	seeded := map[string]string{}
	var fields []model.Field
	for i, doc := range docs {
		for j, f := range doc.Fields {
			fp := fmt.Sprintf("%s.fields[%d]", docPrefix(i, doc), j)
			if f.ID == "" {
				errs = append(errs, VError{Path: fp + ".id", Code: "REQUIRED", Message: "id is required"})
				continue
			}
			if prev, ok := seeded[f.ID]; ok {
				errs = append(errs, VError{
					Path:    fp + ".id",
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("field %q is already defined at %s", f.ID, prev),
				})
				continue
			}
			seeded[f.ID] = fp
			fields = append(fields, f)
		}
	}
	known := func(id string) bool {
		_, ok := seeded[id]
		return ok || exists(id)
	}

	for i, doc := range docs {
		prefix := docPrefix(i, doc)
		for j, f := range doc.Fields {
			errs = append(errs, v.validateField(fmt.Sprintf("%s.fields[%d]", prefix, j), f, known)...)
		}
	}

	if _, cycle := dependencyOrder(fields); len(cycle) > 0 {
		errs = append(errs, VError{
			Path:    seeded[cycle[0]] + ".dependencies",
			Code:    "CYCLE",
			Message: fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")),
		})
	}

	templateIDs := map[string]bool{}
	for i, doc := range docs {
		prefix := docPrefix(i, doc)
		for j, t := range doc.Templates {
			tp := fmt.Sprintf("%s.templates[%d]", prefix, j)
			if t.ID == "" {
				errs = append(errs, VError{Path: tp + ".id", Code: "REQUIRED", Message: "id is required"})
			} else if templateIDs[t.ID] {
				errs = append(errs, VError{
					Path: tp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("template %q is defined twice", t.ID),
				})
			}
			templateIDs[t.ID] = true
			errs = append(errs, v.validateTemplate(tp, t, known)...)
		}
	}

	return errs
}

func (v *Validator) validateField(prefix string, f model.Field, known func(string) bool) []VError {
	var errs []VError

	f.ApplyDefaults()
	for _, fe := range f.Validate() {
		errs = append(errs, fromFieldError(prefix, fe))
	}
	for i, d := range f.Dependencies {
		if d.FieldID != "" && d.FieldID != f.ID && !known(d.FieldID) {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.dependencies[%d].field_id", prefix, i),
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("field %q not found", d.FieldID),
			})
		}
	}

	return errs
}

func (v *Validator) validateTemplate(prefix string, t model.Template, known func(string) bool) []VError {
	var errs []VError

	t.ApplyDefaults()
	for _, fe := range t.Validate() {
		errs = append(errs, fromFieldError(prefix, fe))
	}
	for i, id := range t.Fields {
		if id != "" && !known(id) {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.fields[%d]", prefix, i),
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("field %q not found", id),
			})
		}
	}

	return errs
}

func fromFieldError(prefix string, fe model.FieldError) VError {
	return VError{Path: prefix + "." + fe.Field, Code: strings.ToUpper(fe.Code), Message: fe.Message}
}

func docPrefix(i int, doc Document) string {
	if doc.SourceFile != "" {
		return doc.SourceFile
	}
	return fmt.Sprintf("documents[%d]", i)
}

// dependencyOrder sorts fields so that every field follows the seeded fields
// it depends on. References outside fields are ignored. When the dependencies
// form a cycle, the ids along the cycle are returned instead.
func dependencyOrder(fields []model.Field) ([]model.Field, []string) {
	byID := make(map[string]model.Field, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(fields))
	order := make([]model.Field, 0, len(fields))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		switch state[id] {
		case done:
			return nil
		case visiting:
			for i, s := range stack {
				if s == id {
					return append(append([]string{}, stack[i:]...), id)
				}
			}
			return []string{id}
		}
		state[id] = visiting
		stack = append(stack, id)
		for _, d := range byID[id].Dependencies {
			if _, ok := byID[d.FieldID]; !ok || d.FieldID == id {
				continue
			}
			if cycle := visit(d.FieldID); cycle != nil {
				return cycle
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		order = append(order, byID[id])
		return nil
	}

	for _, f := range fields {
		if cycle := visit(f.ID); cycle != nil {
			return nil, cycle
		}
	}
	return order, nil
}

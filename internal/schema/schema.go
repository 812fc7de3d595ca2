// Package schema derives JSON schemas for template submissions from rendered
// templates.
package schema

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/regelwerk/internal/validation"
	"github.com/pitabwire/regelwerk/model"
)

// ExtFieldType is the schema extension carrying the field type.
const ExtFieldType = "x-regelwerk-field-type"

const bytesPerMB = 1024 * 1024

// Build returns the schema of a submission for rt: an object with one
// property per visible field. Titles use lang.
func Build(rt model.RenderedTemplate, lang model.Language) *openapi3.Schema {
	root := openapi3.NewObjectSchema()
	root.Title = rt.Name.Get(lang)
	if rt.Description != nil {
		root.Description = rt.Description.Get(lang)
	}
	for _, f := range rt.Fields {
		prop := fieldSchema(f)
		prop.Title = f.Name.Get(lang)
		prop.ReadOnly = f.Visibility == model.VisibilityVisible
		prop.Extensions = map[string]any{ExtFieldType: f.Type.String()}
		root.WithProperty(f.ID, prop)
		if f.Requirement == model.RequirementRequired {
			root.Required = append(root.Required, f.ID)
		}
	}
	return root
}

func fieldSchema(f model.FieldView) *openapi3.Schema {
	switch f.Type {
	case model.FieldTypeSelect:
		return selectSchema(f)
	case model.FieldTypeDocument:
		return documentSchema(f)
	default:
		return textSchema(f.Validation)
	}
}

func textSchema(v model.ValidationSchema) *openapi3.Schema {
	if v.String == nil && v.Date == nil && v.Number != nil {
		s := openapi3.NewFloat64Schema()
		if v.Number.IntegerOnly {
			s = openapi3.NewIntegerSchema()
		}
		if v.Number.MinValue != nil {
			s.WithMin(*v.Number.MinValue)
		}
		if v.Number.MaxValue != nil {
			s.WithMax(*v.Number.MaxValue)
		}
		return s
	}

	s := openapi3.NewStringSchema()
	if r := v.String; r != nil {
		if r.MinLength != nil {
			s.WithMinLength(int64(*r.MinLength))
		}
		if r.MaxLength != nil {
			s.WithMaxLength(int64(*r.MaxLength))
		}
		if r.Pattern != "" {
			s.WithPattern(r.Pattern)
		}
		switch r.Format {
		case "email":
			s.WithFormat("email")
		case "url":
			s.WithFormat("uri")
		case "phone":
			s.WithFormat("phone")
		}
	}
	if r := v.Date; r != nil && s.Format == "" {
		if validation.Layout(r.Format) == validation.Layout("") {
			s.WithFormat("date")
		}
	}
	return s
}

func selectSchema(f model.FieldView) *openapi3.Schema {
	values := make([]any, len(f.Options))
	for i, o := range f.Options {
		values[i] = o.Value
	}
	item := openapi3.NewStringSchema()
	if len(values) > 0 {
		item.WithEnum(values...)
	}
	if f.SelectType != nil && *f.SelectType == model.SelectTypeMultiple {
		s := openapi3.NewArraySchema().WithItems(item)
		s.UniqueItems = true
		return s
	}
	return item
}

func documentSchema(f model.FieldView) *openapi3.Schema {
	maxMB := f.DocumentConstraints.MaxSizeMB
	mimes := f.DocumentConstraints.AllowedMimeTypes
	if d := f.Validation.DocumentRules(); d != nil {
		if maxMB == nil {
			maxMB = d.MaxSizeMB
		}
		if len(mimes) == 0 {
			mimes = d.AllowedMimeTypes
		}
	}

	size := openapi3.NewIntegerSchema().WithMin(0)
	if maxMB != nil {
		size.WithMax(*maxMB * bytesPerMB)
	}
	contentType := openapi3.NewStringSchema()
	if len(mimes) > 0 {
		values := make([]any, len(mimes))
		for i, m := range mimes {
			values[i] = m
		}
		contentType.WithEnum(values...)
	}

	return openapi3.NewObjectSchema().
		WithProperty("filename", openapi3.NewStringSchema()).
		WithProperty("file_name", openapi3.NewStringSchema()).
		WithProperty("size", size).
		WithProperty("content_type", contentType)
}

package store

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pitabwire/regelwerk/model"
)

// Column lists shared by the SQL stores. Scan order in scanField and
// scanTemplate follows them.
const (
	fieldColumns = `id, name, type, visibility, requirement, validation,
		select_type, options, document_mode, document_constraints,
		role_config, customer_specific, visible_for_customers, dependencies,
		version, created_at, updated_at`

	templateColumns = `id, name, description, fields, role_config,
		customer_specific, visible_for_customers, created_by, updated_by,
		version, created_at, updated_at`

	changeColumns = `id, entity_type, entity_id, action, changes,
		user_id, user_name, created_at`
)

// scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// timeDest adapts a time destination to what the driver can scan into.
type timeDest func(*time.Time) any

func nativeTime(t *time.Time) any { return t }

// fieldRow is a field in column form.
type fieldRow struct {
	Name                []byte
	Validation          []byte
	SelectType          *string
	Options             []byte
	DocumentMode        *string
	DocumentConstraints []byte
	RoleConfig          []byte
	VisibleForCustomers []byte
	Dependencies        []byte
}

func encodeField(f model.Field) (fieldRow, error) {
	var (
		r   fieldRow
		err error
	)
	enc := func(v any) []byte {
		if err != nil {
			return nil
		}
		var b []byte
		b, err = json.Marshal(v)
		return b
	}
	r.Name = enc(f.Name)
	r.Validation = enc(f.Validation)
	r.Options = enc(nonNil(f.Options))
	r.DocumentConstraints = enc(f.DocumentConstraints)
	r.RoleConfig = enc(nonNilMap(f.RoleConfig))
	r.VisibleForCustomers = enc(nonNil(f.VisibleForCustomers))
	r.Dependencies = enc(nonNil(f.Dependencies))
	if err != nil {
		return fieldRow{}, fmt.Errorf("encode field %q: %w", f.ID, err)
	}
	if f.SelectType != nil {
		s := f.SelectType.String()
		r.SelectType = &s
	}
	if f.DocumentMode != nil {
		s := f.DocumentMode.String()
		r.DocumentMode = &s
	}
	return r, nil
}

// scanField reads one field row. A scan failure is returned as is, so that
// callers can map "no rows"; a decode failure is a *MalformedRecordError.
func scanField(row scanner, ts timeDest) (model.Field, error) {
	var (
		f             model.Field
		r             fieldRow
		typ, vis, req string
	)
	if err := row.Scan(
		&f.ID, &r.Name, &typ, &vis, &req, &r.Validation,
		&r.SelectType, &r.Options, &r.DocumentMode, &r.DocumentConstraints,
		&r.RoleConfig, &f.CustomerSpecific, &r.VisibleForCustomers, &r.Dependencies,
		&f.Version, ts(&f.CreatedAt), ts(&f.UpdatedAt),
	); err != nil {
		return model.Field{}, err
	}

	d := decoder{entity: model.EntityField, id: f.ID}
	d.json("name", r.Name, &f.Name)
	d.text("type", typ, &f.Type)
	d.text("visibility", vis, &f.Visibility)
	d.text("requirement", req, &f.Requirement)
	d.json("validation", r.Validation, &f.Validation)
	if r.SelectType != nil {
		f.SelectType = new(model.SelectType)
		d.text("select_type", *r.SelectType, f.SelectType)
	}
	d.json("options", r.Options, &f.Options)
	if r.DocumentMode != nil {
		f.DocumentMode = new(model.DocumentMode)
		d.text("document_mode", *r.DocumentMode, f.DocumentMode)
	}
	d.json("document_constraints", r.DocumentConstraints, &f.DocumentConstraints)
	d.json("role_config", r.RoleConfig, &f.RoleConfig)
	d.json("visible_for_customers", r.VisibleForCustomers, &f.VisibleForCustomers)
	d.json("dependencies", r.Dependencies, &f.Dependencies)
	if d.err != nil {
		return model.Field{}, d.err
	}
	f.ApplyDefaults()
	return f, nil
}

// templateRow is a template in column form.
type templateRow struct {
	Name                []byte
	Description         []byte
	Fields              []byte
	RoleConfig          []byte
	VisibleForCustomers []byte
}

func encodeTemplate(t model.Template) (templateRow, error) {
	var (
		r   templateRow
		err error
	)
	enc := func(v any) []byte {
		if err != nil {
			return nil
		}
		var b []byte
		b, err = json.Marshal(v)
		return b
	}
	r.Name = enc(t.Name)
	if t.Description != nil {
		r.Description = enc(t.Description)
	}
	r.Fields = enc(nonNil(t.Fields))
	r.RoleConfig = enc(nonNilMap(t.RoleConfig))
	r.VisibleForCustomers = enc(nonNil(t.VisibleForCustomers))
	if err != nil {
		return templateRow{}, fmt.Errorf("encode template %q: %w", t.ID, err)
	}
	return r, nil
}

func scanTemplate(row scanner, ts timeDest) (model.Template, error) {
	var (
		t model.Template
		r templateRow
	)
	if err := row.Scan(
		&t.ID, &r.Name, &r.Description, &r.Fields, &r.RoleConfig,
		&t.CustomerSpecific, &r.VisibleForCustomers, &t.CreatedBy, &t.UpdatedBy,
		&t.Version, ts(&t.CreatedAt), ts(&t.UpdatedAt),
	); err != nil {
		return model.Template{}, err
	}

	d := decoder{entity: model.EntityTemplate, id: t.ID}
	d.json("name", r.Name, &t.Name)
	d.json("description", r.Description, &t.Description)
	d.json("fields", r.Fields, &t.Fields)
	d.json("role_config", r.RoleConfig, &t.RoleConfig)
	d.json("visible_for_customers", r.VisibleForCustomers, &t.VisibleForCustomers)
	if d.err != nil {
		return model.Template{}, d.err
	}
	t.ApplyDefaults()
	return t, nil
}

func scanChange(row scanner, ts timeDest) (model.ChangeLogEntry, error) {
	var (
		e       model.ChangeLogEntry
		changes []byte
	)
	if err := row.Scan(
		&e.ID, &e.EntityType, &e.EntityID, &e.Action, &changes,
		&e.UserID, &e.UserName, ts(&e.Timestamp),
	); err != nil {
		return model.ChangeLogEntry{}, err
	}
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &e.Changes); err != nil {
			return model.ChangeLogEntry{}, &MalformedRecordError{
				Entity: "change", ID: e.ID, Column: "changes", Err: err,
			}
		}
	}
	if e.Changes == nil {
		e.Changes = map[string]any{}
	}
	return e, nil
}

// decoder keeps the first column that fails to decode strictly.
type decoder struct {
	entity, id string
	err        error
}

func (d *decoder) json(column string, data []byte, v any) {
	if d.err != nil || len(data) == 0 {
		return
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		d.fail(column, err)
	}
}

func (d *decoder) text(column, s string, v encoding.TextUnmarshaler) {
	if d.err != nil {
		return
	}
	if err := v.UnmarshalText([]byte(s)); err != nil {
		d.fail(column, err)
	}
}

func (d *decoder) fail(column string, err error) {
	d.err = &MalformedRecordError{Entity: d.entity, ID: d.id, Column: column, Err: err}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nonNilMap(m model.RoleConfig) model.RoleConfig {
	if m == nil {
		return model.RoleConfig{}
	}
	return m
}

func encodeChanges(e model.ChangeLogEntry) ([]byte, error) {
	changes := e.Changes
	if changes == nil {
		changes = map[string]any{}
	}
	b, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("encode changes of %q: %w", e.ID, err)
	}
	return b, nil
}

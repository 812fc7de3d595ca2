// Package store persists templates, fields and the change log.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pitabwire/regelwerk/model"
)

// Store is the persistence boundary of the service. Implementations own their
// locking and are safe for concurrent use. Entities are returned by value and
// never alias the stored copy.
type Store interface {
	// ListTemplates returns all templates ordered by creation time.
	ListTemplates(ctx context.Context) ([]model.Template, error)

	// GetTemplate returns NOT_FOUND when no template has the given id.
	GetTemplate(ctx context.Context, id string) (model.Template, error)

	// CreateTemplate inserts t at version 1. Returns CONFLICT when the id is
	// taken.
	CreateTemplate(ctx context.Context, t model.Template) (model.Template, error)

	// UpdateTemplate replaces the stored template when t.Version matches the
	// stored version and returns it with the version incremented. Returns
	// CONFLICT on a version mismatch.
	UpdateTemplate(ctx context.Context, t model.Template) (model.Template, error)

	// DeleteTemplate returns NOT_FOUND when no template has the given id.
	DeleteTemplate(ctx context.Context, id string) error

	// ListFields returns all fields ordered by creation time.
	ListFields(ctx context.Context) ([]model.Field, error)

	// GetField returns NOT_FOUND when no field has the given id.
	GetField(ctx context.Context, id string) (model.Field, error)

	// GetFields returns the fields with the given ids. Unknown ids are
	// skipped and the result order is unspecified.
	GetFields(ctx context.Context, ids []string) ([]model.Field, error)

	// CreateField inserts f at version 1.
	CreateField(ctx context.Context, f model.Field) (model.Field, error)

	// UpdateField replaces the stored field with optimistic locking.
	UpdateField(ctx context.Context, f model.Field) (model.Field, error)

	// DeleteField returns NOT_FOUND when no field has the given id.
	DeleteField(ctx context.Context, id string) error

	// AppendChange adds an entry to the append-only change log.
	AppendChange(ctx context.Context, entry model.ChangeLogEntry) error

	// ListChanges returns change log entries, newest first.
	ListChanges(ctx context.Context, filter ChangeFilter) ([]model.ChangeLogEntry, error)

	// Verify decodes every stored record and reports those that no longer
	// decode strictly.
	Verify(ctx context.Context) ([]*MalformedRecordError, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// ChangeFilter narrows ListChanges. Zero values match everything; a Limit of
// zero means DefaultChangeLimit.
type ChangeFilter struct {
	EntityType string
	EntityID   string
	Limit      int
}

// DefaultChangeLimit caps change log listings.
const DefaultChangeLimit = 100

func (f ChangeFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultChangeLimit
	}
	return f.Limit
}

func (f ChangeFilter) matches(e model.ChangeLogEntry) bool {
	return (f.EntityType == "" || e.EntityType == f.EntityType) &&
		(f.EntityID == "" || e.EntityID == f.EntityID)
}

// ErrMalformedRecord is matched by every MalformedRecordError.
var ErrMalformedRecord = errors.New("store: malformed record")

// MalformedRecordError reports a stored row whose columns do not decode into
// the typed model.
type MalformedRecordError struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Column string `json:"column"`
	Err    error  `json:"-"`
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("%s %q: column %s: %v", e.Entity, e.ID, e.Column, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformedRecord) hold.
func (e *MalformedRecordError) Is(target error) bool { return target == ErrMalformedRecord }

func templateNotFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("template %q not found", id))
}

func fieldNotFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("field %q not found", id))
}

func alreadyExists(entity, id string) error {
	return model.NewConflictError(fmt.Sprintf("%s %q already exists", entity, id))
}

func versionConflict(entity, id string, expected int) error {
	return model.NewConflictError(
		fmt.Sprintf("%s %q version conflict (expected %d)", entity, id, expected),
	)
}

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pitabwire/regelwerk/model"
)

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]model.Template
	fields    map[string]model.Field
	changes   []model.ChangeLogEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]model.Template),
		fields:    make(map[string]model.Field),
	}
}

func (s *MemoryStore) ListTemplates(_ context.Context) ([]model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetTemplate(_ context.Context, id string) (model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return model.Template{}, templateNotFound(id)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) CreateTemplate(_ context.Context, t model.Template) (model.Template, error) {
	if t.ID == "" {
		return model.Template{}, model.ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[t.ID]; exists {
		return model.Template{}, alreadyExists(model.EntityTemplate, t.ID)
	}
	t.Version = 1
	s.templates[t.ID] = t.Clone()
	return t, nil
}

func (s *MemoryStore) UpdateTemplate(_ context.Context, t model.Template) (model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.templates[t.ID]
	if !ok {
		return model.Template{}, templateNotFound(t.ID)
	}
	if existing.Version != t.Version {
		return model.Template{}, versionConflict(model.EntityTemplate, t.ID, t.Version)
	}
	t.Version++
	s.templates[t.ID] = t.Clone()
	return t, nil
}

func (s *MemoryStore) DeleteTemplate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return templateNotFound(id)
	}
	delete(s.templates, id)
	return nil
}

func (s *MemoryStore) ListFields(_ context.Context) ([]model.Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Field, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetField(_ context.Context, id string) (model.Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.fields[id]
	if !ok {
		return model.Field{}, fieldNotFound(id)
	}
	return f.Clone(), nil
}

func (s *MemoryStore) GetFields(_ context.Context, ids []string) ([]model.Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Field, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if f, ok := s.fields[id]; ok {
			out = append(out, f.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateField(_ context.Context, f model.Field) (model.Field, error) {
	if f.ID == "" {
		return model.Field{}, model.ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.fields[f.ID]; exists {
		return model.Field{}, alreadyExists(model.EntityField, f.ID)
	}
	f.Version = 1
	s.fields[f.ID] = f.Clone()
	return f, nil
}

func (s *MemoryStore) UpdateField(_ context.Context, f model.Field) (model.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.fields[f.ID]
	if !ok {
		return model.Field{}, fieldNotFound(f.ID)
	}
	if existing.Version != f.Version {
		return model.Field{}, versionConflict(model.EntityField, f.ID, f.Version)
	}
	f.Version++
	s.fields[f.ID] = f.Clone()
	return f, nil
}

func (s *MemoryStore) DeleteField(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fields[id]; !ok {
		return fieldNotFound(id)
	}
	delete(s.fields, id)
	return nil
}

func (s *MemoryStore) AppendChange(_ context.Context, entry model.ChangeLogEntry) error {
	if entry.ID == "" {
		return model.ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.changes = append(s.changes, entry)
	return nil
}

func (s *MemoryStore) ListChanges(_ context.Context, filter ChangeFilter) ([]model.ChangeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.limit()
	out := make([]model.ChangeLogEntry, 0, min(limit, len(s.changes)))
	// Entries are appended in time order; walk backwards for newest first.
	for i := len(s.changes) - 1; i >= 0 && len(out) < limit; i-- {
		if filter.matches(s.changes[i]) {
			out = append(out, s.changes[i])
		}
	}
	return out, nil
}

// Verify always succeeds: the memory store only ever holds typed values.
func (s *MemoryStore) Verify(_ context.Context) ([]*MalformedRecordError, error) {
	return nil, nil
}

func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

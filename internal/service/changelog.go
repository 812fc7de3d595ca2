package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/internal/store"
	"github.com/pitabwire/regelwerk/model"
)

// DefaultUserName is recorded when the request carries no user name.
const DefaultUserName = "System User"

// ChangeLogService records and lists entity changes.
type ChangeLogService struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func newChangeLogService(st store.Store, o options) *ChangeLogService {
	return &ChangeLogService{store: st, logger: o.logger, now: o.now, newID: o.newID}
}

// List returns the newest entries, optionally restricted to one entity type.
// A non-positive limit means store.DefaultChangeLimit.
func (s *ChangeLogService) List(ctx context.Context, limit int, entityType string) ([]model.ChangeLogEntry, error) {
	entries, err := s.store.ListChanges(ctx, store.ChangeFilter{EntityType: entityType, Limit: limit})
	if err != nil {
		return nil, storeError(ctx, s.logger, "list changes", err)
	}
	return entries, nil
}

// ForEntity returns the newest entries of one entity.
func (s *ChangeLogService) ForEntity(ctx context.Context, entityID string) ([]model.ChangeLogEntry, error) {
	entries, err := s.store.ListChanges(ctx, store.ChangeFilter{EntityID: entityID})
	if err != nil {
		return nil, storeError(ctx, s.logger, "list entity changes", err)
	}
	return entries, nil
}

// record appends an entry for the actor of ctx. A failed append is logged and
// does not fail the write it describes.
func (s *ChangeLogService) record(ctx context.Context, entityType, entityID, action string, changes map[string]any) {
	rc := model.RequestContextFrom(ctx)
	name := DefaultUserName
	if rc != nil && rc.UserName != "" {
		name = rc.UserName
	}
	if changes == nil {
		changes = map[string]any{}
	}
	entry := model.ChangeLogEntry{
		ID:         s.newID(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Changes:    changes,
		UserID:     rc.Actor(),
		UserName:   name,
		Timestamp:  s.now().UTC(),
	}
	if err := s.store.AppendChange(ctx, entry); err != nil {
		observability.LoggerFrom(ctx, s.logger).Error("change log append failed",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

package model

import "time"

// Change log entity types.
const (
	EntityTemplate = "template"
	EntityField    = "field"
)

// Change log actions.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// ChangeLogEntry records one create, update or delete of a template or field.
type ChangeLogEntry struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	Changes    map[string]any `json:"changes"`
	UserID     string         `json:"user_id"`
	UserName   string         `json:"user_name"`
	Timestamp  time.Time      `json:"timestamp"`
}

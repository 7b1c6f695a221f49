package models

import (
	"encoding/json"
	"time"
)

// ChangeType classifies a single field-level diff entry.
type ChangeType string

const (
	ChangeTypeCreate  ChangeType = "create"
	ChangeTypeUpdate  ChangeType = "update"
	ChangeTypeDelete  ChangeType = "delete"
	ChangeTypeRestore ChangeType = "restore"
)

// Change records one field-level difference between two versions of an entity.
type Change struct {
	Field      string          `json:"field"`
	OldValue   json.RawMessage `json:"oldValue"`
	NewValue   json.RawMessage `json:"newValue"`
	ChangeType ChangeType      `json:"changeType"`
}

// EntityVersion is one immutable, numbered snapshot of a single entity.
// Data always holds the full post-mutation payload, never a delta.
type EntityVersion struct {
	ID          string          `json:"id"`
	EntityType  string          `json:"entityType"`
	EntityID    string          `json:"entityId"`
	Version     int             `json:"version"`
	Data        json.RawMessage `json:"data,omitempty"`
	Changes     []Change        `json:"changes"`
	CreatedBy   string          `json:"createdBy"`
	Description string          `json:"description,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	IsAutoSave  bool            `json:"isAutoSave"`
	Size        int64           `json:"size"`
	CreatedAt   time.Time       `json:"createdAt"`
}

package models

import (
	"encoding/json"
	"time"
)

// RestoreStatus is the lifecycle state of a restore attempt.
type RestoreStatus string

const (
	RestoreStatusPending    RestoreStatus = "pending"
	RestoreStatusInProgress RestoreStatus = "in_progress"
	RestoreStatusCompleted  RestoreStatus = "completed"
	RestoreStatusFailed     RestoreStatus = "failed"
	RestoreStatusPartial    RestoreStatus = "partial"
)

// ConflictResolution selects how the restore engine treats items that
// already exist in the live store.
type ConflictResolution string

const (
	ResolutionKeepCurrent ConflictResolution = "keep_current"
	ResolutionUseBackup   ConflictResolution = "use_backup"
	ResolutionMerge       ConflictResolution = "merge"
	ResolutionSkip        ConflictResolution = "skip"
)

// RestoreConflict records one item-level collision or failure during restore.
type RestoreConflict struct {
	EntityType   string             `json:"entityType"`
	EntityID     string             `json:"entityId"`
	Field        string             `json:"field,omitempty"`
	CurrentValue json.RawMessage    `json:"currentValue,omitempty"`
	BackupValue  json.RawMessage    `json:"backupValue,omitempty"`
	Resolution   ConflictResolution `json:"resolution"`
	Reason       string             `json:"reason,omitempty"`
}

// RestoreHistory is the persisted record of one restore attempt. Immutable
// once CompletedAt is set.
type RestoreHistory struct {
	ID               string            `json:"id"`
	BackupID         string            `json:"backupId"`
	EntityType       string            `json:"entityType"` // A single type, or "full".
	EntityIDs        []string          `json:"entityIds,omitempty"`
	Status           RestoreStatus     `json:"status"`
	RestoredEntities int               `json:"restoredEntities"`
	FailedEntities   int               `json:"failedEntities"`
	Conflicts        []RestoreConflict `json:"conflicts"`
	CreatedBy        string            `json:"createdBy"`
	Notes            string            `json:"notes,omitempty"`
	Error            *BackupError      `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	CompletedAt      *time.Time        `json:"completedAt,omitempty"`
	DurationMS       int64             `json:"duration"`
}

// RestoreResult is the aggregate outcome returned to the caller of a restore.
type RestoreResult struct {
	Success   int               `json:"success"`
	Failed    int               `json:"failed"`
	Conflicts []RestoreConflict `json:"conflicts"`
}

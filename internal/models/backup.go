package models

import (
	"encoding/json"
	"time"
)

// BackupType distinguishes what baseline a snapshot was taken against.
type BackupType string

const (
	BackupTypeFull         BackupType = "full"
	BackupTypeIncremental  BackupType = "incremental"
	BackupTypeDifferential BackupType = "differential"
)

// BackupStatus is the lifecycle state of a backup. Terminal states are
// completed, failed and corrupted; a backup never leaves a terminal state.
type BackupStatus string

const (
	BackupStatusPending    BackupStatus = "pending"
	BackupStatusInProgress BackupStatus = "in_progress"
	BackupStatusCompleted  BackupStatus = "completed"
	BackupStatusFailed     BackupStatus = "failed"
	BackupStatusCorrupted  BackupStatus = "corrupted"
)

// BackupFrequency is a recurrence period for scheduled backups.
type BackupFrequency string

const (
	FrequencyHourly  BackupFrequency = "hourly"
	FrequencyDaily   BackupFrequency = "daily"
	FrequencyWeekly  BackupFrequency = "weekly"
	FrequencyMonthly BackupFrequency = "monthly"
)

// CompressionInfo describes whether and how a snapshot payload was compressed.
type CompressionInfo struct {
	Enabled   bool    `json:"enabled"`
	Algorithm string  `json:"algorithm,omitempty"`
	Ratio     float64 `json:"ratio,omitempty"`
}

// BackupMetadata carries integrity and sizing information for a snapshot.
// Checksum is computed over the uncompressed canonical serialization of the
// snapshot, so it can be re-verified after decompression on restore.
type BackupMetadata struct {
	TotalEntities int             `json:"totalEntities"`
	TotalSize     int64           `json:"totalSize"`
	Compression   CompressionInfo `json:"compression"`
	Checksum      string          `json:"checksum"`
	Version       string          `json:"version"`
}

// BackupSchedule records why an automatic backup exists. It is descriptive
// only; the live recurrence handle lives in the scheduler's task registry.
type BackupSchedule struct {
	Enabled    bool            `json:"enabled"`
	Frequency  BackupFrequency `json:"frequency,omitempty"`
	Time       string          `json:"time,omitempty"`
	DayOfWeek  int             `json:"dayOfWeek,omitempty"`
	DayOfMonth int             `json:"dayOfMonth,omitempty"`
	NextRun    *time.Time      `json:"nextRun,omitempty"`
	LastRun    *time.Time      `json:"lastRun,omitempty"`
}

// BackupRetention is the per-backup cleanup policy. It is only acted on when
// AutoCleanup is set and the backup was created automatically.
type BackupRetention struct {
	KeepDays    int  `json:"keepDays"`
	MaxBackups  int  `json:"maxBackups"`
	AutoCleanup bool `json:"autoCleanup"`
}

// BackupError preserves the failure cause of a backup for operator diagnosis.
type BackupError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Backup is one snapshot of the registered entity stores. Data is either the
// raw snapshot object keyed by entity-type plural, or a compressed envelope
// {"compressed": true, "data": "<base64>"} when compression paid off.
type Backup struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        BackupType      `json:"type"`
	Status      BackupStatus    `json:"status"`
	Data        json.RawMessage `json:"-"` // Large; fetched only via the download endpoint.
	Metadata    BackupMetadata  `json:"metadata"`
	Schedule    *BackupSchedule `json:"schedule,omitempty"`
	Retention   BackupRetention `json:"retention"`
	CreatedBy   string          `json:"createdBy"`
	IsAutomatic bool            `json:"isAutomatic"`
	Tags        []string        `json:"tags,omitempty"`
	Error       *BackupError    `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	DurationMS  int64           `json:"duration"`
}

// Pagination describes one page of a list response.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// BackupPage is a paginated backup listing.
type BackupPage struct {
	Items      []Backup   `json:"items"`
	Pagination Pagination `json:"pagination"`
}

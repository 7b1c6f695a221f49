package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/folio-vault-be/internal/apperrors"
	"github.com/isdelr/folio-vault-be/internal/models"
	"github.com/isdelr/folio-vault-be/internal/registry"
	"github.com/isdelr/folio-vault-be/internal/snapshot"
	"github.com/rs/zerolog/log"
)

// backupTimeout bounds one snapshot run. A timed-out backup is marked failed
// rather than left in_progress.
const backupTimeout = 10 * time.Minute

// Notifier pushes progress messages to connected admin clients. Safe to
// leave nil.
type Notifier interface {
	Publish(topic, action string, payload interface{})
}

// BackupServiceProvider defines the interface for backup services.
type BackupServiceProvider interface {
	CreateBackup(ctx context.Context, params CreateBackupParams) (models.Backup, error)
	GetBackupByID(ctx context.Context, backupID string) (models.Backup, error)
	GetBackupData(ctx context.Context, backupID string) (json.RawMessage, error)
	ListBackups(ctx context.Context, filter BackupFilter, page, limit int) (models.BackupPage, error)
	DeleteBackup(ctx context.Context, backupID string) error
	LatestCompletedBackup(ctx context.Context, backupType models.BackupType) (*models.Backup, error)
	ReconcileStale(ctx context.Context, maxAge time.Duration) (int, error)
	RunRetention(ctx context.Context, hardWindow time.Duration) (int, error)
}

// CreateBackupParams carries the inputs for one snapshot run. Since is nil
// for full backups; for incremental and differential backups the caller
// supplies the baseline timestamp (the engine never decides the baseline).
type CreateBackupParams struct {
	Type        models.BackupType
	Name        string
	Description string
	CreatedBy   string
	Since       *time.Time
	IsAutomatic bool
	Schedule    *models.BackupSchedule
	Retention   models.BackupRetention
	Tags        []string
}

// BackupFilter narrows a backup listing.
type BackupFilter struct {
	Type   models.BackupType
	Status models.BackupStatus
}

// BackupService orchestrates full, incremental and differential snapshots
// across every registered entity type.
type BackupService struct {
	db       *sql.DB
	registry *registry.Registry
	eventSvc EventServiceProvider
	notifier Notifier
}

// NewBackupService creates a new BackupService.
func NewBackupService(db *sql.DB, reg *registry.Registry, eventSvc EventServiceProvider, notifier Notifier) *BackupService {
	return &BackupService{db: db, registry: reg, eventSvc: eventSvc, notifier: notifier}
}

// CreateBackup runs one snapshot. Creation is all-or-nothing: any entity
// read failure aborts the run, marks the backup failed and discards the
// partially collected data.
func (s *BackupService) CreateBackup(ctx context.Context, params CreateBackupParams) (models.Backup, error) {
	switch params.Type {
	case models.BackupTypeFull:
		if params.Since != nil {
			return models.Backup{}, apperrors.Validation("a full backup takes no baseline timestamp")
		}
	case models.BackupTypeIncremental, models.BackupTypeDifferential:
		if params.Since == nil {
			return models.Backup{}, apperrors.Validation("%s backups require a baseline timestamp", params.Type)
		}
	default:
		return models.Backup{}, apperrors.Validation("unknown backup type %q", params.Type)
	}
	if params.Name == "" {
		params.Name = fmt.Sprintf("%s-backup-%s", params.Type, time.Now().UTC().Format("20060102-150405"))
	}

	backup := models.Backup{
		ID:          uuid.New().String(),
		Name:        params.Name,
		Description: params.Description,
		Type:        params.Type,
		Status:      models.BackupStatusInProgress,
		Retention:   params.Retention,
		Schedule:    params.Schedule,
		CreatedBy:   params.CreatedBy,
		IsAutomatic: params.IsAutomatic,
		Tags:        params.Tags,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.insertBackup(ctx, &backup); err != nil {
		return models.Backup{}, apperrors.Storage(err, "failed to create backup record")
	}
	s.publish("backups", "backup.started", map[string]string{"id": backup.ID, "type": string(backup.Type)})

	runCtx, cancel := context.WithTimeout(ctx, backupTimeout)
	defer cancel()

	raw, totalEntities, err := s.assembleSnapshot(runCtx, params.Since)
	if err != nil {
		return s.failBackup(ctx, backup, err)
	}

	checksum, err := snapshot.DigestCanonical(raw)
	if err != nil {
		return s.failBackup(ctx, backup, err)
	}
	payload, compressed, ratio, err := snapshot.Pack(raw)
	if err != nil {
		return s.failBackup(ctx, backup, err)
	}

	backup.Data = payload
	backup.Metadata = models.BackupMetadata{
		TotalEntities: totalEntities,
		TotalSize:     int64(len(raw)),
		Compression: models.CompressionInfo{
			Enabled:   compressed,
			Algorithm: compressionAlgorithm(compressed),
			Ratio:     ratio,
		},
		Checksum: checksum,
		Version:  snapshot.SchemaVersion,
	}
	backup.Status = models.BackupStatusCompleted
	completedAt := time.Now().UTC()
	backup.CompletedAt = &completedAt
	backup.DurationMS = completedAt.Sub(backup.CreatedAt).Milliseconds()

	if err := s.finishBackup(ctx, &backup); err != nil {
		return models.Backup{}, apperrors.Storage(err, "failed to persist completed backup")
	}

	s.eventSvc.CreateEvent("backup.create", "info",
		fmt.Sprintf("Backup '%s' (%s) completed: %d entities, %d bytes.", backup.Name, backup.Type, totalEntities, backup.Metadata.TotalSize), nil)
	s.publish("backups", "backup.completed", map[string]interface{}{"id": backup.ID, "totalEntities": totalEntities})
	return backup, nil
}

// assembleSnapshot reads every registered entity type into a snapshot object
// keyed by plural type name. Singleton types contribute their one record (if
// it exists and, for scoped backups, was touched since the baseline).
func (s *BackupService) assembleSnapshot(ctx context.Context, since *time.Time) ([]byte, int, error) {
	snap := make(map[string]interface{})
	totalEntities := 0

	for _, entry := range s.registry.Entries() {
		if entry.Singleton {
			doc, err := entry.Accessor.FindOne(ctx)
			if err != nil {
				return nil, 0, apperrors.Storage(err, "failed to read %s", entry.Name)
			}
			if doc == nil {
				continue
			}
			if since != nil && doc.UpdatedAt.Before(*since) && doc.CreatedAt.Before(*since) {
				continue
			}
			snap[entry.Plural] = doc
			totalEntities++
			continue
		}

		var docs []models.Document
		var err error
		if since != nil {
			docs, err = entry.Accessor.FindUpdatedSince(ctx, *since)
		} else {
			docs, err = entry.Accessor.FindAll(ctx)
		}
		if err != nil {
			return nil, 0, apperrors.Storage(err, "failed to read %s", entry.Plural)
		}
		snap[entry.Plural] = docs
		totalEntities += len(docs)
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, 0, err
	}
	return raw, totalEntities, nil
}

// failBackup transitions a backup to failed and records the cause. The
// returned error is the original failure.
func (s *BackupService) failBackup(ctx context.Context, backup models.Backup, cause error) (models.Backup, error) {
	backup.Status = models.BackupStatusFailed
	backup.Error = &models.BackupError{Message: cause.Error()}
	completedAt := time.Now().UTC()
	backup.CompletedAt = &completedAt
	backup.DurationMS = completedAt.Sub(backup.CreatedAt).Milliseconds()
	backup.Data = nil

	if err := s.finishBackup(ctx, &backup); err != nil {
		log.Error().Err(err).Str("backup_id", backup.ID).Msg("Failed to mark backup as failed")
	}
	s.eventSvc.CreateEvent("backup.fail", "error",
		fmt.Sprintf("Backup '%s' failed: %v", backup.Name, cause), nil)
	s.publish("backups", "backup.failed", map[string]string{"id": backup.ID, "error": cause.Error()})
	return backup, cause
}

// GetBackupByID retrieves a single backup record without its data payload.
func (s *BackupService) GetBackupByID(ctx context.Context, backupID string) (models.Backup, error) {
	row := s.db.QueryRowContext(ctx, selectBackupColumns+" FROM backups WHERE id = ?", backupID)
	backup, err := scanBackup(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Backup{}, apperrors.NotFound("backup %s not found", backupID)
		}
		return models.Backup{}, err
	}
	return backup, nil
}

// GetBackupData returns the persisted snapshot payload (possibly a
// compressed envelope) for download or restore.
func (s *BackupService) GetBackupData(ctx context.Context, backupID string) (json.RawMessage, error) {
	var data sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT data FROM backups WHERE id = ?", backupID).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFound("backup %s not found", backupID)
		}
		return nil, err
	}
	if !data.Valid || data.String == "" {
		return nil, apperrors.NotFound("backup %s holds no snapshot data", backupID)
	}
	return json.RawMessage(data.String), nil
}

// ListBackups returns one page of backups, newest first.
func (s *BackupService) ListBackups(ctx context.Context, filter BackupFilter, page, limit int) (models.BackupPage, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	where := " WHERE 1=1"
	args := []interface{}{}
	if filter.Type != "" {
		where += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM backups"+where, args...).Scan(&total); err != nil {
		return models.BackupPage{}, err
	}

	args = append(args, limit, (page-1)*limit)
	rows, err := s.db.QueryContext(ctx,
		selectBackupColumns+" FROM backups"+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return models.BackupPage{}, err
	}
	defer rows.Close()

	items := []models.Backup{}
	for rows.Next() {
		backup, err := scanBackup(rows)
		if err != nil {
			return models.BackupPage{}, err
		}
		items = append(items, backup)
	}
	if err := rows.Err(); err != nil {
		return models.BackupPage{}, err
	}

	return models.BackupPage{
		Items: items,
		Pagination: models.Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}, nil
}

// DeleteBackup removes a backup record.
func (s *BackupService) DeleteBackup(ctx context.Context, backupID string) error {
	backup, err := s.GetBackupByID(ctx, backupID)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM backups WHERE id = ?", backupID); err != nil {
		return err
	}
	s.eventSvc.CreateEvent("backup.delete", "warn",
		fmt.Sprintf("Backup '%s' was deleted.", backup.Name), nil)
	return nil
}

// LatestCompletedBackup returns the most recent completed backup of the
// given type, or nil if none exists. An empty type matches any backup type.
// The scheduler uses this to resolve the baseline for incremental and
// differential runs.
func (s *BackupService) LatestCompletedBackup(ctx context.Context, backupType models.BackupType) (*models.Backup, error) {
	query := selectBackupColumns + " FROM backups WHERE status = ?"
	args := []interface{}{models.BackupStatusCompleted}
	if backupType != "" {
		query += " AND type = ?"
		args = append(args, backupType)
	}
	row := s.db.QueryRowContext(ctx, query+" ORDER BY created_at DESC LIMIT 1", args...)
	backup, err := scanBackup(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &backup, nil
}

// ReconcileStale marks in_progress backups older than maxAge as failed.
// Run once at startup; an in_progress row abandoned by a crashed process
// would otherwise linger forever.
func (s *BackupService) ReconcileStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	errJSON, _ := json.Marshal(models.BackupError{
		Message: "backup abandoned in_progress; reconciled to failed at startup",
		Code:    "stale_in_progress",
	})
	res, err := s.db.ExecContext(ctx, `
		UPDATE backups SET status = ?, error_json = ?, completed_at = ?
		WHERE status = ? AND created_at < ?`,
		models.BackupStatusFailed, string(errJSON), time.Now().UTC(),
		models.BackupStatusInProgress, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Warn().Int64("count", n).Msg("Reconciled stale in_progress backups to failed")
	}
	return int(n), nil
}

// RunRetention applies the per-backup retention policy (keepDays, maxBackups)
// to automatic backups that opted into autoCleanup, then enforces the hard
// upper age bound. Returns the number of deleted backups.
func (s *BackupService) RunRetention(ctx context.Context, hardWindow time.Duration) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		selectBackupColumns+" FROM backups WHERE is_automatic = TRUE ORDER BY created_at DESC")
	if err != nil {
		return 0, err
	}
	candidates := []models.Backup{}
	for rows.Next() {
		backup, err := scanBackup(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		candidates = append(candidates, backup)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	deleted := 0
	// maxBackups is judged within one retention policy; backups created
	// under other policies never count against it.
	kept := make(map[models.BackupRetention]int)
	for _, backup := range candidates {
		if !backup.Retention.AutoCleanup {
			continue
		}
		expired := backup.Retention.KeepDays > 0 &&
			now.Sub(backup.CreatedAt) > time.Duration(backup.Retention.KeepDays)*24*time.Hour
		overCount := backup.Retention.MaxBackups > 0 && kept[backup.Retention] >= backup.Retention.MaxBackups
		pastHardWindow := hardWindow > 0 && now.Sub(backup.CreatedAt) > hardWindow

		if expired || overCount || pastHardWindow {
			if err := s.DeleteBackup(ctx, backup.ID); err != nil {
				log.Error().Err(err).Str("backup_id", backup.ID).Msg("Retention: failed to delete backup")
				continue
			}
			deleted++
			continue
		}
		kept[backup.Retention]++
	}
	return deleted, nil
}

func (s *BackupService) publish(topic, action string, payload interface{}) {
	if s.notifier != nil {
		s.notifier.Publish(topic, action, payload)
	}
}

func compressionAlgorithm(enabled bool) string {
	if enabled {
		return "gzip"
	}
	return ""
}

const selectBackupColumns = `SELECT id, name, description, type, status, metadata_json, schedule_json, retention_json, created_by, is_automatic, tags_json, error_json, created_at, completed_at, duration_ms`

func (s *BackupService) insertBackup(ctx context.Context, backup *models.Backup) error {
	scheduleJSON, err := marshalNullable(backup.Schedule)
	if err != nil {
		return err
	}
	retentionJSON, err := json.Marshal(backup.Retention)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(backup.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backups (id, name, description, type, status, schedule_json, retention_json, created_by, is_automatic, tags_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		backup.ID, backup.Name, backup.Description, backup.Type, backup.Status,
		scheduleJSON, string(retentionJSON), backup.CreatedBy, backup.IsAutomatic,
		string(tagsJSON), backup.CreatedAt)
	return err
}

// finishBackup writes the terminal state of a backup run in one statement.
func (s *BackupService) finishBackup(ctx context.Context, backup *models.Backup) error {
	metadataJSON, err := json.Marshal(backup.Metadata)
	if err != nil {
		return err
	}
	errJSON, err := marshalNullable(backup.Error)
	if err != nil {
		return err
	}
	var data interface{}
	if backup.Data != nil {
		data = string(backup.Data)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE backups SET status = ?, data = ?, metadata_json = ?, error_json = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		backup.Status, data, string(metadataJSON), errJSON, backup.CompletedAt, backup.DurationMS, backup.ID)
	return err
}

func scanBackup(scanner interface{ Scan(...interface{}) error }) (models.Backup, error) {
	var backup models.Backup
	var description, metadataJSON, scheduleJSON, retentionJSON, createdBy, tagsJSON, errJSON sql.NullString
	var completedAt sql.NullTime

	err := scanner.Scan(&backup.ID, &backup.Name, &description, &backup.Type, &backup.Status,
		&metadataJSON, &scheduleJSON, &retentionJSON, &createdBy, &backup.IsAutomatic,
		&tagsJSON, &errJSON, &backup.CreatedAt, &completedAt, &backup.DurationMS)
	if err != nil {
		return models.Backup{}, err
	}

	backup.Description = description.String
	backup.CreatedBy = createdBy.String
	if completedAt.Valid {
		t := completedAt.Time
		backup.CompletedAt = &t
	}
	if err := unmarshalNullable(metadataJSON, &backup.Metadata); err != nil {
		return models.Backup{}, err
	}
	if scheduleJSON.Valid && scheduleJSON.String != "" && scheduleJSON.String != "null" {
		backup.Schedule = &models.BackupSchedule{}
		if err := json.Unmarshal([]byte(scheduleJSON.String), backup.Schedule); err != nil {
			return models.Backup{}, err
		}
	}
	if err := unmarshalNullable(retentionJSON, &backup.Retention); err != nil {
		return models.Backup{}, err
	}
	if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &backup.Tags); err != nil {
			return models.Backup{}, err
		}
	}
	if errJSON.Valid && errJSON.String != "" && errJSON.String != "null" {
		backup.Error = &models.BackupError{}
		if err := json.Unmarshal([]byte(errJSON.String), backup.Error); err != nil {
			return models.Backup{}, err
		}
	}
	return backup, nil
}

// marshalNullable marshals a pointer value, mapping nil to SQL NULL.
func marshalNullable(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case *models.BackupSchedule:
		if val == nil {
			return nil, nil
		}
	case *models.BackupError:
		if val == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalNullable(src sql.NullString, dst interface{}) error {
	if !src.Valid || src.String == "" || src.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dst)
}

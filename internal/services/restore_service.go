package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/folio-vault-be/internal/apperrors"
	"github.com/isdelr/folio-vault-be/internal/models"
	"github.com/isdelr/folio-vault-be/internal/registry"
	"github.com/isdelr/folio-vault-be/internal/snapshot"
	"github.com/rs/zerolog/log"
)

// RestoreServiceProvider defines the interface for restore services.
type RestoreServiceProvider interface {
	Restore(ctx context.Context, backupID string, opts RestoreOptions) (models.RestoreResult, error)
	ListRestoreHistory(ctx context.Context, limit int) ([]models.RestoreHistory, error)
}

// RestoreOptions controls a restore run. An empty ConflictResolution
// defaults to use_backup. EntityTypes narrows the run to the named types;
// empty means every type present in the snapshot.
type RestoreOptions struct {
	ConflictResolution models.ConflictResolution
	EntityTypes        []string
	CreatedBy          string
	Notes              string
}

// RestoreService replays a backup snapshot into the live entity stores.
// Unlike backup creation, restore is best-effort per item: one item's
// failure is counted and the run continues.
type RestoreService struct {
	db        *sql.DB
	registry  *registry.Registry
	backupSvc BackupServiceProvider
	eventSvc  EventServiceProvider
	notifier  Notifier
}

// NewRestoreService creates a new RestoreService.
func NewRestoreService(db *sql.DB, reg *registry.Registry, backupSvc BackupServiceProvider, eventSvc EventServiceProvider, notifier Notifier) *RestoreService {
	return &RestoreService{db: db, registry: reg, backupSvc: backupSvc, eventSvc: eventSvc, notifier: notifier}
}

// Restore loads a backup, verifies its checksum, and replays it entity type
// by entity type. The checksum check is a pre-flight gate: on mismatch the
// backup is marked corrupted and no live data is touched.
func (s *RestoreService) Restore(ctx context.Context, backupID string, opts RestoreOptions) (models.RestoreResult, error) {
	if opts.ConflictResolution == "" {
		opts.ConflictResolution = models.ResolutionUseBackup
	}
	switch opts.ConflictResolution {
	case models.ResolutionKeepCurrent, models.ResolutionUseBackup, models.ResolutionMerge, models.ResolutionSkip:
	default:
		return models.RestoreResult{}, apperrors.Validation("unknown conflict resolution %q", opts.ConflictResolution)
	}

	backup, err := s.backupSvc.GetBackupByID(ctx, backupID)
	if err != nil {
		return models.RestoreResult{}, err
	}
	if backup.Status != models.BackupStatusCompleted {
		return models.RestoreResult{}, apperrors.Validation("backup %s is %s; only completed backups can be restored", backupID, backup.Status)
	}

	payload, err := s.backupSvc.GetBackupData(ctx, backupID)
	if err != nil {
		return models.RestoreResult{}, err
	}
	raw, err := snapshot.Unpack(payload)
	if err != nil {
		return models.RestoreResult{}, s.markCorrupted(ctx, backup, fmt.Errorf("failed to decompress snapshot: %w", err))
	}

	checksum, err := snapshot.DigestCanonical(raw)
	if err != nil {
		return models.RestoreResult{}, s.markCorrupted(ctx, backup, fmt.Errorf("snapshot is not valid JSON: %w", err))
	}
	if backup.Metadata.Checksum != "" && checksum != backup.Metadata.Checksum {
		return models.RestoreResult{}, s.markCorrupted(ctx, backup,
			fmt.Errorf("checksum mismatch: stored %s, computed %s", backup.Metadata.Checksum, checksum))
	}

	var snap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &snap); err != nil {
		return models.RestoreResult{}, s.markCorrupted(ctx, backup, fmt.Errorf("snapshot is not an object: %w", err))
	}

	history := models.RestoreHistory{
		ID:         uuid.New().String(),
		BackupID:   backupID,
		EntityType: historyScope(opts.EntityTypes),
		EntityIDs:  nil,
		Status:     models.RestoreStatusInProgress,
		CreatedBy:  opts.CreatedBy,
		Notes:      opts.Notes,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.insertHistory(ctx, &history); err != nil {
		return models.RestoreResult{}, apperrors.Storage(err, "failed to create restore history record")
	}
	s.publish("restores", "restore.started", map[string]string{"id": history.ID, "backupId": backupID})

	result := models.RestoreResult{Conflicts: []models.RestoreConflict{}}
	wanted := typeFilter(opts.EntityTypes)

	// Registry order keeps replay deterministic. Types absent from the
	// snapshot are skipped; incremental backups rarely cover every type.
	for _, entry := range s.registry.Entries() {
		if wanted != nil && !wanted[entry.Name] {
			continue
		}
		rawDocs, ok := snap[entry.Plural]
		if !ok {
			continue
		}
		if entry.Singleton {
			s.restoreSingleton(ctx, entry, rawDocs, opts.ConflictResolution, &result)
		} else {
			s.restoreCollection(ctx, entry, rawDocs, opts.ConflictResolution, &result)
		}
	}

	history.RestoredEntities = result.Success
	history.FailedEntities = result.Failed
	history.Conflicts = result.Conflicts
	history.Status = restoreOutcome(result)
	completedAt := time.Now().UTC()
	history.CompletedAt = &completedAt
	history.DurationMS = completedAt.Sub(history.CreatedAt).Milliseconds()
	if err := s.finishHistory(ctx, &history); err != nil {
		log.Error().Err(err).Str("restore_id", history.ID).Msg("Failed to finalize restore history")
	}

	s.eventSvc.CreateEvent("backup.restore", "info",
		fmt.Sprintf("Restore from backup '%s' finished: %d restored, %d failed, %d conflicts.",
			backup.Name, result.Success, result.Failed, len(result.Conflicts)), nil)
	s.publish("restores", "restore.completed", map[string]interface{}{
		"id": history.ID, "success": result.Success, "failed": result.Failed,
	})
	return result, nil
}

func (s *RestoreService) restoreSingleton(ctx context.Context, entry *registry.Entry, raw json.RawMessage, resolution models.ConflictResolution, result *models.RestoreResult) {
	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		result.Failed++
		result.Conflicts = append(result.Conflicts, models.RestoreConflict{
			EntityType: entry.Name,
			Resolution: resolution,
			Reason:     "invalid snapshot entry: " + err.Error(),
		})
		return
	}

	live, err := entry.Accessor.FindOne(ctx)
	if err != nil {
		result.Failed++
		result.Conflicts = append(result.Conflicts, models.RestoreConflict{
			EntityType: entry.Name, EntityID: doc.ID, Resolution: resolution, Reason: err.Error(),
		})
		return
	}
	if live != nil && (resolution == models.ResolutionSkip || resolution == models.ResolutionKeepCurrent) {
		result.Conflicts = append(result.Conflicts, models.RestoreConflict{
			EntityType:   entry.Name,
			EntityID:     live.ID,
			CurrentValue: live.Data,
			BackupValue:  doc.Data,
			Resolution:   resolution,
		})
		return
	}

	id := doc.ID
	if live != nil {
		id = live.ID
	}
	if _, err := entry.Accessor.UpsertByID(ctx, id, doc.Data); err != nil {
		result.Failed++
		result.Conflicts = append(result.Conflicts, models.RestoreConflict{
			EntityType: entry.Name, EntityID: id, Resolution: resolution, Reason: err.Error(),
		})
		return
	}
	result.Success++
}

func (s *RestoreService) restoreCollection(ctx context.Context, entry *registry.Entry, raw json.RawMessage, resolution models.ConflictResolution, result *models.RestoreResult) {
	var docs []models.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		result.Failed++
		result.Conflicts = append(result.Conflicts, models.RestoreConflict{
			EntityType: entry.Name,
			Resolution: resolution,
			Reason:     "invalid snapshot entry: " + err.Error(),
		})
		return
	}

	for _, doc := range docs {
		live, err := entry.Accessor.FindByID(ctx, doc.ID)
		if err != nil {
			result.Failed++
			result.Conflicts = append(result.Conflicts, models.RestoreConflict{
				EntityType: entry.Name, EntityID: doc.ID, Resolution: resolution, Reason: err.Error(),
			})
			continue
		}
		if live != nil && (resolution == models.ResolutionSkip || resolution == models.ResolutionKeepCurrent) {
			result.Conflicts = append(result.Conflicts, models.RestoreConflict{
				EntityType:   entry.Name,
				EntityID:     doc.ID,
				CurrentValue: live.Data,
				BackupValue:  doc.Data,
				Resolution:   resolution,
			})
			continue
		}
		if _, err := entry.Accessor.UpsertByID(ctx, doc.ID, doc.Data); err != nil {
			result.Failed++
			result.Conflicts = append(result.Conflicts, models.RestoreConflict{
				EntityType: entry.Name, EntityID: doc.ID, Resolution: resolution, Reason: err.Error(),
			})
			continue
		}
		result.Success++
	}
}

// markCorrupted flags the backup and records the aborted restore attempt.
func (s *RestoreService) markCorrupted(ctx context.Context, backup models.Backup, cause error) error {
	errJSON, _ := json.Marshal(models.BackupError{Message: cause.Error(), Code: "integrity"})
	if _, err := s.db.ExecContext(ctx,
		"UPDATE backups SET status = ?, error_json = ? WHERE id = ?",
		models.BackupStatusCorrupted, string(errJSON), backup.ID); err != nil {
		log.Error().Err(err).Str("backup_id", backup.ID).Msg("Failed to mark backup as corrupted")
	}
	s.eventSvc.CreateEvent("backup.corrupted", "error",
		fmt.Sprintf("Backup '%s' failed integrity verification: %v", backup.Name, cause), nil)
	s.publish("restores", "restore.failed", map[string]string{"backupId": backup.ID, "error": cause.Error()})
	return apperrors.Integrity("backup %s failed integrity verification: %v", backup.ID, cause)
}

// ListRestoreHistory returns recent restore attempts, newest first.
func (s *RestoreService) ListRestoreHistory(ctx context.Context, limit int) ([]models.RestoreHistory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, backup_id, entity_type, entity_ids_json, status, restored_entities, failed_entities, conflicts_json, created_by, notes, error_json, created_at, completed_at, duration_ms
		FROM restore_history ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var histories []models.RestoreHistory
	for rows.Next() {
		var h models.RestoreHistory
		var entityIDsJSON, conflictsJSON, createdBy, notes, errJSON sql.NullString
		var completedAt sql.NullTime
		err := rows.Scan(&h.ID, &h.BackupID, &h.EntityType, &entityIDsJSON, &h.Status,
			&h.RestoredEntities, &h.FailedEntities, &conflictsJSON, &createdBy, &notes,
			&errJSON, &h.CreatedAt, &completedAt, &h.DurationMS)
		if err != nil {
			return nil, err
		}
		h.CreatedBy = createdBy.String
		h.Notes = notes.String
		if completedAt.Valid {
			t := completedAt.Time
			h.CompletedAt = &t
		}
		if err := unmarshalNullable(entityIDsJSON, &h.EntityIDs); err != nil {
			return nil, err
		}
		if err := unmarshalNullable(conflictsJSON, &h.Conflicts); err != nil {
			return nil, err
		}
		if errJSON.Valid && errJSON.String != "" && errJSON.String != "null" {
			h.Error = &models.BackupError{}
			if err := json.Unmarshal([]byte(errJSON.String), h.Error); err != nil {
				return nil, err
			}
		}
		histories = append(histories, h)
	}
	return histories, rows.Err()
}

func (s *RestoreService) insertHistory(ctx context.Context, h *models.RestoreHistory) error {
	entityIDsJSON, err := json.Marshal(h.EntityIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO restore_history (id, backup_id, entity_type, entity_ids_json, status, created_by, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.BackupID, h.EntityType, string(entityIDsJSON), h.Status, h.CreatedBy, h.Notes, h.CreatedAt)
	return err
}

func (s *RestoreService) finishHistory(ctx context.Context, h *models.RestoreHistory) error {
	conflictsJSON, err := json.Marshal(h.Conflicts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE restore_history SET status = ?, restored_entities = ?, failed_entities = ?, conflicts_json = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		h.Status, h.RestoredEntities, h.FailedEntities, string(conflictsJSON), h.CompletedAt, h.DurationMS, h.ID)
	return err
}

func (s *RestoreService) publish(topic, action string, payload interface{}) {
	if s.notifier != nil {
		s.notifier.Publish(topic, action, payload)
	}
}

func historyScope(entityTypes []string) string {
	if len(entityTypes) == 1 {
		return entityTypes[0]
	}
	return "full"
}

func typeFilter(entityTypes []string) map[string]bool {
	if len(entityTypes) == 0 {
		return nil
	}
	m := make(map[string]bool, len(entityTypes))
	for _, t := range entityTypes {
		m[t] = true
	}
	return m
}

func restoreOutcome(result models.RestoreResult) models.RestoreStatus {
	switch {
	case result.Failed == 0:
		return models.RestoreStatusCompleted
	case result.Success == 0:
		return models.RestoreStatusFailed
	default:
		return models.RestoreStatusPartial
	}
}

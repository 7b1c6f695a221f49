package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/folio-vault-be/internal/apperrors"
	"github.com/isdelr/folio-vault-be/internal/models"
	"github.com/isdelr/folio-vault-be/internal/registry"
	"github.com/isdelr/folio-vault-be/internal/snapshot"
)

// versionCreateRetries bounds the retry loop on a version-number collision.
// The UNIQUE(entity_type, entity_id, version) index is the serialization
// point for concurrent creates on the same key.
const versionCreateRetries = 3

// VersionServiceProvider defines the interface for the entity version store.
type VersionServiceProvider interface {
	CreateVersion(ctx context.Context, params CreateVersionParams) (models.EntityVersion, error)
	GetVersion(ctx context.Context, versionID string) (models.EntityVersion, error)
	GetLatestVersion(ctx context.Context, entityType, entityID string) (*models.EntityVersion, error)
	GetHistory(ctx context.Context, entityType, entityID string, limit int) ([]models.EntityVersion, error)
	RestoreVersion(ctx context.Context, versionID, restoredBy string) (json.RawMessage, error)
	CompareVersions(ctx context.Context, versionID1, versionID2 string) ([]models.Change, error)
	DeleteVersion(ctx context.Context, versionID string) error
}

// CreateVersionParams carries the inputs for a new entity version.
type CreateVersionParams struct {
	EntityType  string
	EntityID    string
	Data        json.RawMessage
	Changes     []models.Change
	CreatedBy   string
	Description string
	Tags        []string
	IsAutoSave  bool
}

// VersionService tracks per-entity version history: numbered full snapshots
// with field-level diffs against the previous version.
type VersionService struct {
	db       *sql.DB
	registry *registry.Registry
	eventSvc EventServiceProvider

	// createMu funnels all in-process version creation through one owner so
	// concurrent creates on the same key never race between the max-version
	// read and the insert. The unique index stays as the cross-process
	// backstop.
	createMu sync.Mutex
}

// NewVersionService creates a new VersionService.
func NewVersionService(db *sql.DB, reg *registry.Registry, eventSvc EventServiceProvider) *VersionService {
	return &VersionService{db: db, registry: reg, eventSvc: eventSvc}
}

// CreateVersion stores a new version for an entity, numbered one past the
// highest existing version for the (entityType, entityId) pair.
func (s *VersionService) CreateVersion(ctx context.Context, params CreateVersionParams) (models.EntityVersion, error) {
	if _, ok := s.registry.Lookup(params.EntityType); !ok {
		return models.EntityVersion{}, apperrors.NotFound("entity type %q is not registered", params.EntityType)
	}
	if params.EntityID == "" {
		return models.EntityVersion{}, apperrors.Validation("entity id is required")
	}
	if len(params.Data) == 0 {
		return models.EntityVersion{}, apperrors.Validation("version data is required")
	}

	version := models.EntityVersion{
		ID:          uuid.New().String(),
		EntityType:  params.EntityType,
		EntityID:    params.EntityID,
		Data:        params.Data,
		Changes:     params.Changes,
		CreatedBy:   params.CreatedBy,
		Description: params.Description,
		Tags:        params.Tags,
		IsAutoSave:  params.IsAutoSave,
		Size:        int64(len(params.Data)),
		CreatedAt:   time.Now().UTC(),
	}

	changesJSON, err := json.Marshal(version.Changes)
	if err != nil {
		return models.EntityVersion{}, err
	}
	tagsJSON, err := json.Marshal(version.Tags)
	if err != nil {
		return models.EntityVersion{}, err
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < versionCreateRetries; attempt++ {
		var maxVersion int
		err := s.db.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(version), 0) FROM entity_versions WHERE entity_type = ? AND entity_id = ?",
			params.EntityType, params.EntityID).Scan(&maxVersion)
		if err != nil {
			return models.EntityVersion{}, apperrors.Storage(err, "failed to read current version for %s/%s", params.EntityType, params.EntityID)
		}
		version.Version = maxVersion + 1

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO entity_versions (id, entity_type, entity_id, version, data, changes_json, created_by, description, tags_json, is_auto_save, size, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			version.ID, version.EntityType, version.EntityID, version.Version, string(version.Data),
			string(changesJSON), version.CreatedBy, version.Description, string(tagsJSON),
			version.IsAutoSave, version.Size, version.CreatedAt)
		if err == nil {
			return version, nil
		}
		if !isUniqueConflict(err) {
			return models.EntityVersion{}, apperrors.Storage(err, "failed to store version for %s/%s", params.EntityType, params.EntityID)
		}
		// Another writer claimed this version number; re-read and retry.
		lastErr = err
	}
	return models.EntityVersion{}, apperrors.Storage(lastErr, "version conflict persisted after %d attempts for %s/%s", versionCreateRetries, params.EntityType, params.EntityID)
}

// GetVersion retrieves a single version including its full data payload.
func (s *VersionService) GetVersion(ctx context.Context, versionID string) (models.EntityVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entity_type, entity_id, version, data, changes_json, created_by, description, tags_json, is_auto_save, size, created_at
		FROM entity_versions WHERE id = ?`, versionID)
	version, err := scanVersion(row, true)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.EntityVersion{}, apperrors.NotFound("version %s not found", versionID)
		}
		return models.EntityVersion{}, err
	}
	return version, nil
}

// GetLatestVersion returns the highest-numbered version for a key, or nil if
// the entity has no versions yet.
func (s *VersionService) GetLatestVersion(ctx context.Context, entityType, entityID string) (*models.EntityVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entity_type, entity_id, version, data, changes_json, created_by, description, tags_json, is_auto_save, size, created_at
		FROM entity_versions WHERE entity_type = ? AND entity_id = ?
		ORDER BY version DESC LIMIT 1`, entityType, entityID)
	version, err := scanVersion(row, true)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &version, nil
}

// GetHistory lists versions for a key, newest first, without the data
// payload. Full payloads are fetched one at a time via GetVersion.
func (s *VersionService) GetHistory(ctx context.Context, entityType, entityID string, limit int) ([]models.EntityVersion, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, version, changes_json, created_by, description, tags_json, is_auto_save, size, created_at
		FROM entity_versions WHERE entity_type = ? AND entity_id = ?
		ORDER BY version DESC LIMIT ?`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []models.EntityVersion
	for rows.Next() {
		version, err := scanVersion(rows, false)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// RestoreVersion writes a version's data back to the live store and records
// the restore as a new version, keeping history append-only.
func (s *VersionService) RestoreVersion(ctx context.Context, versionID, restoredBy string) (json.RawMessage, error) {
	version, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	entry, ok := s.registry.Lookup(version.EntityType)
	if !ok {
		return nil, apperrors.NotFound("entity type %q is not registered", version.EntityType)
	}

	doc, err := entry.Accessor.UpsertByID(ctx, version.EntityID, version.Data)
	if err != nil {
		return nil, apperrors.Storage(err, "failed to write restored %s/%s", version.EntityType, version.EntityID)
	}

	restoreChange := models.Change{
		Field:      "restored_from",
		NewValue:   mustJSON(versionID),
		ChangeType: models.ChangeTypeRestore,
	}
	_, err = s.CreateVersion(ctx, CreateVersionParams{
		EntityType:  version.EntityType,
		EntityID:    version.EntityID,
		Data:        version.Data,
		Changes:     []models.Change{restoreChange},
		CreatedBy:   restoredBy,
		Description: "Restored from version " + versionID,
	})
	if err != nil {
		return nil, err
	}

	entityType := version.EntityType
	s.eventSvc.CreateEvent("version.restore", "info",
		"Entity "+version.EntityID+" restored to version "+versionID+".", &entityType)

	return doc.Data, nil
}

// CompareVersions diffs two arbitrary versions at top-level field
// granularity: the whole old/new value per field, no nested sub-diffs.
func (s *VersionService) CompareVersions(ctx context.Context, versionID1, versionID2 string) ([]models.Change, error) {
	v1, err := s.GetVersion(ctx, versionID1)
	if err != nil {
		return nil, err
	}
	v2, err := s.GetVersion(ctx, versionID2)
	if err != nil {
		return nil, err
	}

	var fields1, fields2 map[string]json.RawMessage
	if err := json.Unmarshal(v1.Data, &fields1); err != nil {
		return nil, apperrors.Validation("version %s does not hold a JSON object", versionID1)
	}
	if err := json.Unmarshal(v2.Data, &fields2); err != nil {
		return nil, apperrors.Validation("version %s does not hold a JSON object", versionID2)
	}

	keys := make([]string, 0, len(fields1)+len(fields2))
	seen := make(map[string]bool)
	for k := range fields1 {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range fields2 {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var changes []models.Change
	for _, key := range keys {
		old, inOld := fields1[key]
		new_, inNew := fields2[key]
		switch {
		case !inOld:
			changes = append(changes, models.Change{Field: key, NewValue: new_, ChangeType: models.ChangeTypeCreate})
		case !inNew:
			changes = append(changes, models.Change{Field: key, OldValue: old, ChangeType: models.ChangeTypeDelete})
		default:
			oldCanon, err := snapshot.Canonical(old)
			if err != nil {
				return nil, err
			}
			newCanon, err := snapshot.Canonical(new_)
			if err != nil {
				return nil, err
			}
			if string(oldCanon) != string(newCanon) {
				changes = append(changes, models.Change{Field: key, OldValue: old, NewValue: new_, ChangeType: models.ChangeTypeUpdate})
			}
		}
	}
	return changes, nil
}

// DeleteVersion removes a version. The last remaining version of an entity
// can never be deleted; once history exists, at least one version survives.
func (s *VersionService) DeleteVersion(ctx context.Context, versionID string) error {
	version, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}

	var count int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entity_versions WHERE entity_type = ? AND entity_id = ?",
		version.EntityType, version.EntityID).Scan(&count)
	if err != nil {
		return apperrors.Storage(err, "failed to count versions for %s/%s", version.EntityType, version.EntityID)
	}
	if count <= 1 {
		return apperrors.Invariant("cannot delete the only remaining version of %s/%s", version.EntityType, version.EntityID)
	}

	_, err = s.db.ExecContext(ctx, "DELETE FROM entity_versions WHERE id = ?", versionID)
	return err
}

// scanVersion reads one entity_versions row. withData selects whether the
// query included the data column.
func scanVersion(scanner interface{ Scan(...interface{}) error }, withData bool) (models.EntityVersion, error) {
	var version models.EntityVersion
	var data, changesJSON, tagsJSON sql.NullString

	var err error
	if withData {
		err = scanner.Scan(&version.ID, &version.EntityType, &version.EntityID, &version.Version,
			&data, &changesJSON, &version.CreatedBy, &version.Description, &tagsJSON,
			&version.IsAutoSave, &version.Size, &version.CreatedAt)
	} else {
		err = scanner.Scan(&version.ID, &version.EntityType, &version.EntityID, &version.Version,
			&changesJSON, &version.CreatedBy, &version.Description, &tagsJSON,
			&version.IsAutoSave, &version.Size, &version.CreatedAt)
	}
	if err != nil {
		return models.EntityVersion{}, err
	}

	if data.Valid {
		version.Data = json.RawMessage(data.String)
	}
	if changesJSON.Valid && changesJSON.String != "" && changesJSON.String != "null" {
		if err := json.Unmarshal([]byte(changesJSON.String), &version.Changes); err != nil {
			return models.EntityVersion{}, err
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &version.Tags); err != nil {
			return models.EntityVersion{}, err
		}
	}
	return version, nil
}

func isUniqueConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func mustJSON(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

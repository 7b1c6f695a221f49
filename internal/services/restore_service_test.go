package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/isdelr/folio-vault-be/internal/apperrors"
	"github.com/isdelr/folio-vault-be/internal/models"
	"github.com/isdelr/folio-vault-be/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createFullBackup(t *testing.T, env *testEnv) models.Backup {
	t.Helper()
	backup, err := env.backupSvc.CreateBackup(context.Background(), services.CreateBackupParams{
		Type:      models.BackupTypeFull,
		Name:      "restore-source",
		CreatedBy: "admin",
	})
	require.NoError(t, err)
	return backup
}

func TestRestoreFullBackupIntoEmptyStores(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocs(t, "project", map[string]string{
		"p1": `{"title":"One"}`,
		"p2": `{"title":"Two"}`,
	})
	env.seedDocs(t, "skill", map[string]string{"s1": `{"name":"Go"}`})
	env.seedDocs(t, "setting", map[string]string{"cfg": `{"theme":"dark"}`})
	backup := createFullBackup(t, env)

	env.clearStore(t, "project")
	env.clearStore(t, "skill")
	env.clearStore(t, "setting")

	result, err := env.restoreSvc.Restore(ctx, backup.ID, services.RestoreOptions{CreatedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Success)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Conflicts)

	projects := env.liveDocs(t, "project")
	require.Len(t, projects, 2)
	assert.JSONEq(t, `{"title":"One"}`, projects["p1"])

	settings := env.liveDocs(t, "setting")
	require.Len(t, settings, 1)
	assert.JSONEq(t, `{"theme":"dark"}`, settings["cfg"])
}

func TestRestoreSkipLeavesExistingItemsUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocs(t, "project", map[string]string{
		"p1": `{"title":"One"}`,
		"p2": `{"title":"Two"}`,
		"p3": `{"title":"Three"}`,
		"p4": `{"title":"Four"}`,
		"p5": `{"title":"Five"}`,
	})
	backup := createFullBackup(t, env)

	// Two of the five still exist live, with newer content.
	env.clearStore(t, "project")
	env.seedDocs(t, "project", map[string]string{
		"p1": `{"title":"One, edited"}`,
		"p2": `{"title":"Two, edited"}`,
	})

	result, err := env.restoreSvc.Restore(ctx, backup.ID, services.RestoreOptions{
		ConflictResolution: models.ResolutionSkip,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Success)
	assert.Zero(t, result.Failed)
	require.Len(t, result.Conflicts, 2)
	for _, c := range result.Conflicts {
		assert.Equal(t, models.ResolutionSkip, c.Resolution)
		assert.NotEmpty(t, c.CurrentValue)
		assert.NotEmpty(t, c.BackupValue)
	}

	live := env.liveDocs(t, "project")
	require.Len(t, live, 5)
	assert.JSONEq(t, `{"title":"One, edited"}`, live["p1"])
	assert.JSONEq(t, `{"title":"Three"}`, live["p3"])
}

func TestRestoreUseBackupOverwritesExistingItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocs(t, "project", map[string]string{"p1": `{"title":"Original"}`})
	backup := createFullBackup(t, env)

	env.seedDocs(t, "project", map[string]string{"p1": `{"title":"Drifted"}`})

	// use_backup is also the default for an empty resolution.
	result, err := env.restoreSvc.Restore(ctx, backup.ID, services.RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.Empty(t, result.Conflicts)

	live := env.liveDocs(t, "project")
	assert.JSONEq(t, `{"title":"Original"}`, live["p1"])
}

func TestRestoreEntityTypeFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocs(t, "project", map[string]string{"p1": `{"title":"One"}`})
	env.seedDocs(t, "skill", map[string]string{"s1": `{"name":"Go"}`})
	backup := createFullBackup(t, env)

	env.clearStore(t, "project")
	env.clearStore(t, "skill")

	result, err := env.restoreSvc.Restore(ctx, backup.ID, services.RestoreOptions{
		EntityTypes: []string{"project"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)

	assert.Len(t, env.liveDocs(t, "project"), 1)
	assert.Empty(t, env.liveDocs(t, "skill"))
}

func TestRestoreRejectsUnfinishedBackup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.db.Exec(`
		INSERT INTO backups (id, name, type, status, retention_json, created_at)
		VALUES ('pending', 'pending', 'full', 'in_progress', '{}', ?)`, time.Now().UTC())
	require.NoError(t, err)

	_, err = env.restoreSvc.Restore(ctx, "pending", services.RestoreOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestRestoreRejectsUnknownResolution(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.restoreSvc.Restore(context.Background(), "whatever", services.RestoreOptions{
		ConflictResolution: "overwrite_maybe",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestRestoreTamperedBackupAbortsBeforeWriting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocs(t, "project", map[string]string{"p1": `{"title":"Authentic"}`})
	backup := createFullBackup(t, env)

	// Tamper with the stored snapshot behind the checksum's back.
	_, err := env.db.Exec(`UPDATE backups SET data = '{"projects":[]}' WHERE id = ?`, backup.ID)
	require.NoError(t, err)

	env.seedDocs(t, "project", map[string]string{"p1": `{"title":"Live"}`})

	_, err = env.restoreSvc.Restore(ctx, backup.ID, services.RestoreOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindIntegrity))

	// The backup is flagged, and no live data was touched.
	flagged, err := env.backupSvc.GetBackupByID(ctx, backup.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupStatusCorrupted, flagged.Status)

	live := env.liveDocs(t, "project")
	assert.JSONEq(t, `{"title":"Live"}`, live["p1"])

	// A corrupted backup can never be restored again.
	_, err = env.restoreSvc.Restore(ctx, backup.ID, services.RestoreOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestRestoreRecordsHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocs(t, "project", map[string]string{"p1": `{"title":"One"}`})
	backup := createFullBackup(t, env)
	env.clearStore(t, "project")

	_, err := env.restoreSvc.Restore(ctx, backup.ID, services.RestoreOptions{
		CreatedBy: "admin",
		Notes:     "weekly drill",
	})
	require.NoError(t, err)

	histories, err := env.restoreSvc.ListRestoreHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, histories, 1)

	h := histories[0]
	assert.Equal(t, backup.ID, h.BackupID)
	assert.Equal(t, "full", h.EntityType)
	assert.Equal(t, models.RestoreStatusCompleted, h.Status)
	assert.Equal(t, 1, h.RestoredEntities)
	assert.Zero(t, h.FailedEntities)
	assert.Equal(t, "admin", h.CreatedBy)
	assert.Equal(t, "weekly drill", h.Notes)
	assert.NotNil(t, h.CompletedAt)
}

func TestRestoreScopedHistoryNamesTheType(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocs(t, "skill", map[string]string{"s1": `{"name":"Go"}`})
	backup := createFullBackup(t, env)

	_, err := env.restoreSvc.Restore(ctx, backup.ID, services.RestoreOptions{
		EntityTypes: []string{"skill"},
	})
	require.NoError(t, err)

	histories, err := env.restoreSvc.ListRestoreHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, histories, 1)
	assert.Equal(t, "skill", histories[0].EntityType)
}

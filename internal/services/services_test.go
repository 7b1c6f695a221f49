package services_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/isdelr/folio-vault-be/internal/database"
	"github.com/isdelr/folio-vault-be/internal/models"
	"github.com/isdelr/folio-vault-be/internal/registry"
	"github.com/isdelr/folio-vault-be/internal/services"
	"github.com/stretchr/testify/require"
)

// testEnv wires the services against an in-memory database with the real
// portfolio registry, the same way main does it.
type testEnv struct {
	db         *sql.DB
	registry   *registry.Registry
	eventSvc   *services.EventService
	versionSvc *services.VersionService
	backupSvc  *services.BackupService
	restoreSvc *services.RestoreService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))

	reg := registry.Default(db)
	require.NoError(t, registry.Migrate(db, reg))

	eventSvc := services.NewEventService(db)
	backupSvc := services.NewBackupService(db, reg, eventSvc, nil)
	return &testEnv{
		db:         db,
		registry:   reg,
		eventSvc:   eventSvc,
		versionSvc: services.NewVersionService(db, reg, eventSvc),
		backupSvc:  backupSvc,
		restoreSvc: services.NewRestoreService(db, reg, backupSvc, eventSvc, nil),
	}
}

// seedDocs writes documents into an entity store through its accessor.
func (e *testEnv) seedDocs(t *testing.T, entityType string, docs map[string]string) {
	t.Helper()
	entry, ok := e.registry.Lookup(entityType)
	require.True(t, ok)
	for id, data := range docs {
		_, err := entry.Accessor.UpsertByID(context.Background(), id, json.RawMessage(data))
		require.NoError(t, err)
	}
}

// liveDocs reads every document of an entity type keyed by id.
func (e *testEnv) liveDocs(t *testing.T, entityType string) map[string]string {
	t.Helper()
	entry, ok := e.registry.Lookup(entityType)
	require.True(t, ok)
	docs, err := entry.Accessor.FindAll(context.Background())
	require.NoError(t, err)
	out := make(map[string]string, len(docs))
	for _, doc := range docs {
		out[doc.ID] = string(doc.Data)
	}
	return out
}

func (e *testEnv) clearStore(t *testing.T, entityType string) {
	t.Helper()
	entry, ok := e.registry.Lookup(entityType)
	require.True(t, ok)
	require.NoError(t, entry.Accessor.DeleteAll(context.Background()))
}

// backdateDocs rewrites the timestamps of seeded documents so incremental
// scoping can be tested without sleeping.
func (e *testEnv) backdateDocs(t *testing.T, table string, age time.Duration, ids ...string) {
	t.Helper()
	past := time.Now().UTC().Add(-age)
	for _, id := range ids {
		_, err := e.db.Exec("UPDATE "+table+" SET created_at = ?, updated_at = ? WHERE id = ?", past, past, id)
		require.NoError(t, err)
	}
}

// failingAccessor satisfies registry.Accessor and fails every read. Used to
// drive the backup engine down its all-or-nothing failure path.
type failingAccessor struct {
	err error
}

func (f *failingAccessor) FindAll(context.Context) ([]models.Document, error) { return nil, f.err }
func (f *failingAccessor) FindUpdatedSince(context.Context, time.Time) ([]models.Document, error) {
	return nil, f.err
}
func (f *failingAccessor) FindOne(context.Context) (*models.Document, error)      { return nil, f.err }
func (f *failingAccessor) FindByID(context.Context, string) (*models.Document, error) {
	return nil, f.err
}
func (f *failingAccessor) UpsertByID(context.Context, string, json.RawMessage) (models.Document, error) {
	return models.Document{}, f.err
}
func (f *failingAccessor) InsertMany(context.Context, []models.Document) error { return f.err }
func (f *failingAccessor) DeleteAll(context.Context) error                     { return f.err }

package registry_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/isdelr/folio-vault-be/internal/database"
	"github.com/isdelr/folio-vault-be/internal/models"
	"github.com/isdelr/folio-vault-be/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestRegistry(t *testing.T) (*sql.DB, *registry.Registry) {
	t.Helper()
	db := newTestDB(t)
	reg := registry.Default(db)
	require.NoError(t, registry.Migrate(db, reg))
	return db, reg
}

func TestDefaultRegistersPortfolioTypes(t *testing.T) {
	_, reg := newTestRegistry(t)

	assert.Len(t, reg.Entries(), 9)

	project, ok := reg.Lookup("project")
	require.True(t, ok)
	assert.Equal(t, "projects", project.Plural)
	assert.False(t, project.Singleton)

	homepage, ok := reg.Lookup("homepage")
	require.True(t, ok)
	assert.True(t, homepage.Singleton)

	setting, ok := reg.Lookup("setting")
	require.True(t, ok)
	assert.True(t, setting.Singleton)

	category, ok := reg.LookupPlural("categories")
	require.True(t, ok)
	assert.Equal(t, "category", category.Name)

	_, ok = reg.Lookup("blogpost")
	assert.False(t, ok)
}

func TestRegisterReplacesExistingEntry(t *testing.T) {
	db := newTestDB(t)
	reg := registry.New()

	reg.Register("project", "projects", false, registry.NewDocumentStore(db, "entity_projects"))
	reg.Register("project", "projects", false, registry.NewDocumentStore(db, "entity_projects"))

	assert.Len(t, reg.Entries(), 1)
}

func TestDocumentStoreUpsertByID(t *testing.T) {
	_, reg := newTestRegistry(t)
	entry, _ := reg.Lookup("project")
	ctx := context.Background()

	doc, err := entry.Accessor.UpsertByID(ctx, "", json.RawMessage(`{"title":"First"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.JSONEq(t, `{"title":"First"}`, string(doc.Data))

	// Same id again rewrites in place instead of inserting a second row.
	updated, err := entry.Accessor.UpsertByID(ctx, doc.ID, json.RawMessage(`{"title":"Second"}`))
	require.NoError(t, err)
	assert.Equal(t, doc.ID, updated.ID)
	assert.JSONEq(t, `{"title":"Second"}`, string(updated.Data))

	all, err := entry.Accessor.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.JSONEq(t, `{"title":"Second"}`, string(all[0].Data))
}

func TestDocumentStoreFindByIDMissing(t *testing.T) {
	_, reg := newTestRegistry(t)
	entry, _ := reg.Lookup("skill")

	doc, err := entry.Accessor.FindByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestDocumentStoreFindUpdatedSince(t *testing.T) {
	_, reg := newTestRegistry(t)
	entry, _ := reg.Lookup("project")
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, entry.Accessor.InsertMany(ctx, []models.Document{
		{ID: "old-1", Data: json.RawMessage(`{"title":"Old"}`), CreatedAt: old, UpdatedAt: old},
		{ID: "old-2", Data: json.RawMessage(`{"title":"Older"}`), CreatedAt: old, UpdatedAt: old},
	}))

	_, err := entry.Accessor.UpsertByID(ctx, "fresh", json.RawMessage(`{"title":"Fresh"}`))
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(-time.Hour)
	docs, err := entry.Accessor.FindUpdatedSince(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "fresh", docs[0].ID)

	// An update to an old document pulls it back into scope.
	_, err = entry.Accessor.UpsertByID(ctx, "old-1", json.RawMessage(`{"title":"Touched"}`))
	require.NoError(t, err)

	docs, err = entry.Accessor.FindUpdatedSince(ctx, cutoff)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestDocumentStoreSingletonFindOne(t *testing.T) {
	_, reg := newTestRegistry(t)
	entry, _ := reg.Lookup("homepage")
	ctx := context.Background()

	doc, err := entry.Accessor.FindOne(ctx)
	require.NoError(t, err)
	assert.Nil(t, doc)

	_, err = entry.Accessor.UpsertByID(ctx, "homepage", json.RawMessage(`{"hero":"Welcome"}`))
	require.NoError(t, err)

	doc, err = entry.Accessor.FindOne(ctx)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.JSONEq(t, `{"hero":"Welcome"}`, string(doc.Data))
}

func TestDocumentStoreDeleteAll(t *testing.T) {
	_, reg := newTestRegistry(t)
	entry, _ := reg.Lookup("media")
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		_, err := entry.Accessor.UpsertByID(ctx, id, json.RawMessage(`{"url":"/img/`+id+`.png"}`))
		require.NoError(t, err)
	}

	require.NoError(t, entry.Accessor.DeleteAll(ctx))

	all, err := entry.Accessor.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// Package registry is the single source of truth for the entity types this
// service snapshots. Every other component (backup, restore, versioning)
// enumerates types through it; adding a type means adding one Register call
// here and nothing anywhere else.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/isdelr/folio-vault-be/internal/models"
)

// Accessor is the per-entity-type data access contract. Collection types use
// FindAll/FindByID/InsertMany; singleton types (homepage, settings) are read
// through FindOne and hold at most one record.
type Accessor interface {
	FindAll(ctx context.Context) ([]models.Document, error)
	FindUpdatedSince(ctx context.Context, since time.Time) ([]models.Document, error)
	FindOne(ctx context.Context) (*models.Document, error)
	FindByID(ctx context.Context, id string) (*models.Document, error)
	UpsertByID(ctx context.Context, id string, data json.RawMessage) (models.Document, error)
	InsertMany(ctx context.Context, docs []models.Document) error
	DeleteAll(ctx context.Context) error
}

// Entry binds an entity type name to its accessor and capabilities.
type Entry struct {
	Name      string // singular, e.g. "project"
	Plural    string // snapshot key, e.g. "projects"
	Singleton bool
	Accessor  Accessor
}

// Registry holds the registered entity types in registration order.
type Registry struct {
	entries  []*Entry
	byName   map[string]*Entry
	byPlural map[string]*Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byName:   make(map[string]*Entry),
		byPlural: make(map[string]*Entry),
	}
}

// Register adds an entity type. Registering the same name twice replaces the
// earlier entry.
func (r *Registry) Register(name, plural string, singleton bool, accessor Accessor) {
	entry := &Entry{Name: name, Plural: plural, Singleton: singleton, Accessor: accessor}
	if existing, ok := r.byName[name]; ok {
		*existing = *entry
		return
	}
	r.entries = append(r.entries, entry)
	r.byName[name] = entry
	r.byPlural[plural] = entry
}

// Lookup finds an entry by its singular type name.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// LookupPlural finds an entry by its snapshot key.
func (r *Registry) LookupPlural(plural string) (*Entry, bool) {
	e, ok := r.byPlural[plural]
	return e, ok
}

// Entries returns all entries in registration order.
func (r *Registry) Entries() []*Entry {
	return r.entries
}

// portfolioTypes is the content model of the admin panel.
var portfolioTypes = []struct {
	name      string
	plural    string
	singleton bool
}{
	{"project", "projects", false},
	{"skill", "skills", false},
	{"experience", "experiences", false},
	{"education", "educations", false},
	{"contact", "contacts", false},
	{"media", "media", false},
	{"category", "categories", false},
	{"homepage", "homepage", true},
	{"setting", "settings", true},
}

// Default builds the registry for the portfolio content model, backed by
// one document table per type.
func Default(db *sql.DB) *Registry {
	r := New()
	for _, t := range portfolioTypes {
		r.Register(t.name, t.plural, t.singleton, NewDocumentStore(db, tableName(t.plural)))
	}
	return r
}

// Migrate creates the document table for every registered type.
func Migrate(db *sql.DB, r *Registry) error {
	for _, e := range r.Entries() {
		store, ok := e.Accessor.(*DocumentStore)
		if !ok {
			continue
		}
		stmt := `CREATE TABLE IF NOT EXISTS ` + store.table + ` (
			id TEXT NOT NULL PRIMARY KEY,
			data TEXT NOT NULL,
			created_at DATETIME,
			updated_at DATETIME
		);`
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func tableName(plural string) string {
	return "entity_" + plural
}

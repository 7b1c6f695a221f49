package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/folio-vault-be/internal/models"
)

// DocumentStore implements Accessor over one schemaless JSON document table.
// All nine entity tables share this implementation; the table name is the
// only thing that varies.
type DocumentStore struct {
	db    *sql.DB
	table string
}

// NewDocumentStore creates a DocumentStore for the given table.
func NewDocumentStore(db *sql.DB, table string) *DocumentStore {
	return &DocumentStore{db: db, table: table}
}

// FindAll returns every document in the table, oldest first.
func (s *DocumentStore) FindAll(ctx context.Context) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, created_at, updated_at FROM `+s.table+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanDocuments(rows)
}

// FindUpdatedSince returns documents created or updated at/after the given
// timestamp. Used by incremental and differential backups.
func (s *DocumentStore) FindUpdatedSince(ctx context.Context, since time.Time) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, created_at, updated_at FROM `+s.table+
			` WHERE updated_at >= ? OR created_at >= ? ORDER BY created_at ASC`, since, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanDocuments(rows)
}

// FindOne returns the single document of a singleton table, or nil if none.
func (s *DocumentStore) FindOne(ctx context.Context) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, created_at, updated_at FROM `+s.table+` LIMIT 1`)
	doc, err := s.scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

// FindByID returns one document by id, or nil if it does not exist.
func (s *DocumentStore) FindByID(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, created_at, updated_at FROM `+s.table+` WHERE id = ?`, id)
	doc, err := s.scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

// UpsertByID writes a document, updating in place if the id already exists.
func (s *DocumentStore) UpsertByID(ctx context.Context, id string, data json.RawMessage) (models.Document, error) {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.table+` (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		id, string(data), now, now)
	if err != nil {
		return models.Document{}, err
	}
	doc, err := s.FindByID(ctx, id)
	if err != nil {
		return models.Document{}, err
	}
	return *doc, nil
}

// InsertMany bulk-inserts documents, preserving their timestamps when set.
func (s *DocumentStore) InsertMany(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	stmt, err := s.db.PrepareContext(ctx,
		`INSERT INTO `+s.table+` (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, doc := range docs {
		createdAt, updatedAt := doc.CreatedAt, doc.UpdatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if updatedAt.IsZero() {
			updatedAt = createdAt
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, string(doc.Data), createdAt, updatedAt); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAll clears the table.
func (s *DocumentStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table)
	return err
}

func (s *DocumentStore) scanDocuments(rows *sql.Rows) ([]models.Document, error) {
	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		var data string
		if err := rows.Scan(&doc.ID, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Data = json.RawMessage(data)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *DocumentStore) scanDocument(scanner interface{ Scan(...interface{}) error }) (models.Document, error) {
	var doc models.Document
	var data string
	if err := scanner.Scan(&doc.ID, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return models.Document{}, err
	}
	doc.Data = json.RawMessage(data)
	return doc, nil
}

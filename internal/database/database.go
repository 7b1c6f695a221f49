package database

import (
	"database/sql"

	_ "modernc.org/sqlite" // SQLite driver
)

// New creates a new database connection pool.
func New(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY under
	// concurrent backup/version writes.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrate runs the SQL statements to set up the database schema.
func Migrate(db *sql.DB) error {
	const sqlStmt = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE,
		email TEXT UNIQUE,
		password_hash TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS entity_versions (
		id TEXT NOT NULL PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		data TEXT NOT NULL,
		changes_json TEXT,
		created_by TEXT,
		description TEXT,
		tags_json TEXT,
		is_auto_save BOOLEAN NOT NULL DEFAULT FALSE,
		size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (entity_type, entity_id, version)
	);

	CREATE INDEX IF NOT EXISTS idx_entity_versions_key
		ON entity_versions (entity_type, entity_id, version DESC);

	CREATE TABLE IF NOT EXISTS backups (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT,
		metadata_json TEXT,
		schedule_json TEXT,
		retention_json TEXT,
		created_by TEXT,
		is_automatic BOOLEAN NOT NULL DEFAULT FALSE,
		tags_json TEXT,
		error_json TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_backups_type_status ON backups (type, status);

	CREATE TABLE IF NOT EXISTS restore_history (
		id TEXT NOT NULL PRIMARY KEY,
		backup_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_ids_json TEXT,
		status TEXT NOT NULL,
		restored_entities INTEGER NOT NULL DEFAULT 0,
		failed_entities INTEGER NOT NULL DEFAULT 0,
		conflicts_json TEXT,
		created_by TEXT,
		notes TEXT,
		error_json TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT NOT NULL PRIMARY KEY,
		type TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		entity_type TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	// Entity document tables are created by registry.Migrate, next to the
	// registry that owns the type list.
	_, err := db.Exec(sqlStmt)
	return err
}

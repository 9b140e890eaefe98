// Package db opens the SQLite database and owns its schema.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (creating if necessary) the SQLite database at path and
// runs schema migrations. The returned handle is safe for concurrent
// use and is the only database handle the process should hold.
func Open(path string) (*sql.DB, error) {
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent readers alongside the writer.
	if _, err := database.Exec("PRAGMA journal_mode=WAL"); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := migrate(database); err != nil {
		database.Close()
		return nil, err
	}

	return database, nil
}

// NewTestDB creates a fresh in-memory database for tests.
func NewTestDB() (*sql.DB, error) {
	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open test database: %w", err)
	}

	if err := migrate(database); err != nil {
		database.Close()
		return nil, err
	}

	return database, nil
}

func migrate(database *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS terminals (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		project_name TEXT NOT NULL,
		title TEXT NOT NULL,
		shell TEXT NOT NULL,
		cwd TEXT NOT NULL,
		pid INTEGER,
		status TEXT NOT NULL DEFAULT 'running',
		exit_code INTEGER,
		cast_path TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_terminals_project_id ON terminals(project_id);
	CREATE INDEX IF NOT EXISTS idx_terminals_status ON terminals(status);
	`

	if _, err := database.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

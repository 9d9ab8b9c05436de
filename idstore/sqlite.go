// Package idstore persists the anonymous identifier on disk so a
// command-line producer keeps the same identity between runs.
package idstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

// DefaultKey is the row the identifier is stored under
const DefaultKey = "anonymous_id"

// SQLiteStore implements the pipeline IdentityStore on a SQLite file.
// Several pipelines can share one file by using different keys.
type SQLiteStore struct {
	db  *sql.DB
	key string
}

// Open opens or creates the database at path. An empty key selects
// DefaultKey.
func Open(path, key string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if key == "" {
		key = DefaultKey
	}

	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, key: key}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS identities(
	  key        TEXT    PRIMARY KEY,
	  value      TEXT    NOT NULL,
	  updated_at INTEGER NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

// Load returns the stored identifier, or "" when none is stored
func (s *SQLiteStore) Load() (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM identities WHERE key = ?`, s.key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load identity: %w", err)
	}
	return value, nil
}

// Save stores id, replacing any previous value
func (s *SQLiteStore) Save(id string) error {
	_, err := s.db.Exec(`
	INSERT INTO identities(key, value, updated_at) VALUES(?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, s.key, id, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// Clear removes the stored identifier
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM identities WHERE key = ?`, s.key); err != nil {
		return fmt.Errorf("failed to clear identity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/leowmjw/go-temporal-emissions/pkg/table"
)

// SQLiteStore keeps every artifact as a row in a single SQLite file. Tables
// are stored in their CSV encoding.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		stage TEXT NOT NULL,
		entity TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		fuel TEXT NOT NULL DEFAULT '',
		body BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (stage, entity, category, fuel)
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_entity ON artifacts(entity, stage);
	`
	_, err := s.db.Exec(schema)
	return err
}

// PutBlob inserts or replaces the artifact
func (s *SQLiteStore) PutBlob(ctx context.Context, key Key, data []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (stage, entity, category, fuel, body, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (stage, entity, category, fuel)
		DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, string(key.Stage), key.Entity, key.Category, key.Fuel, data)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// GetBlob reads the artifact for key
func (s *SQLiteStore) GetBlob(ctx context.Context, key Key) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM artifacts
		WHERE stage = ? AND entity = ? AND category = ? AND fuel = ?
	`, string(key.Stage), key.Entity, key.Category, key.Fuel).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return data, nil
}

// PutTable stores t in CSV form
func (s *SQLiteStore) PutTable(ctx context.Context, key Key, t *table.Table) error {
	var buf bytes.Buffer
	if err := table.WriteCSV(&buf, t); err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.PutBlob(ctx, key, buf.Bytes())
}

// GetTable loads a table
func (s *SQLiteStore) GetTable(ctx context.Context, key Key) (*table.Table, error) {
	data, err := s.GetBlob(ctx, key)
	if err != nil {
		return nil, err
	}
	t, err := table.ReadCSV(bytes.NewReader(data), key.LabelName())
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return t, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

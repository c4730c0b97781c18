// Package sqlite implements kv.Repository on a local SQLite file using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/MrWong99/speechcoach/internal/kv"
)

// Schema creates the single key-value table.
const Schema = `
CREATE TABLE IF NOT EXISTS practice_kv (
    profile    TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      BLOB NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    PRIMARY KEY (profile, key)
);`

var _ kv.Repository = (*Store)(nil)

// Store is a SQLite-backed [kv.Repository].
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
// The special path ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// Single writer; ":memory:" databases are also per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get implements [kv.Repository].
func (s *Store) Get(ctx context.Context, profile, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM practice_kv WHERE profile = ? AND key = ?`,
		profile, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s/%s: %w", profile, key, err)
	}
	return value, nil
}

// Put implements [kv.Repository].
func (s *Store) Put(ctx context.Context, profile, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO practice_kv (profile, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (profile, key) DO UPDATE SET
		     value = excluded.value,
		     updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		profile, key, value,
	)
	if err != nil {
		return fmt.Errorf("sqlite: put %s/%s: %w", profile, key, err)
	}
	return nil
}

// Ping implements [kv.Repository].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

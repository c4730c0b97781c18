// Package postgres implements kv.Repository on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/speechcoach/internal/kv"
)

// Schema is the SQL DDL for the practice_kv table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS practice_kv (
    profile    TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (profile, key)
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

var _ kv.Repository = (*Store)(nil)

// Store is a [kv.Repository] backed by PostgreSQL.
type Store struct {
	db DB
}

// New wraps an existing connection or pool. The caller is responsible for
// calling [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pool for dsn, migrates the schema and returns the store
// together with the pool so the caller can close it.
func Connect(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// Migrate executes the [Schema] DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Get implements [kv.Repository].
func (s *Store) Get(ctx context.Context, profile, key string) ([]byte, error) {
	const query = `SELECT value FROM practice_kv WHERE profile = $1 AND key = $2`

	var value []byte
	err := s.db.QueryRow(ctx, query, profile, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get %s/%s: %w", profile, key, err)
	}
	return value, nil
}

// Put implements [kv.Repository].
func (s *Store) Put(ctx context.Context, profile, key string, value []byte) error {
	const query = `
		INSERT INTO practice_kv (profile, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (profile, key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = now()`

	if _, err := s.db.Exec(ctx, query, profile, key, value); err != nil {
		return fmt.Errorf("postgres: put %s/%s: %w", profile, key, err)
	}
	return nil
}

// Ping implements [kv.Repository].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-training/oauth-gatekeeper/pkg/core"
	_ "modernc.org/sqlite"
)

const credentialsSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (unixepoch())
)`

// SQLiteStore implements the core.CredentialStore interface on a SQLite database.
// Patterns in RemoveMany use SQLite GLOB syntax.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dsnPath and ensures the schema exists.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(dsnPath string) (*SQLiteStore, error) {
	if dsnPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsnPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsnPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(credentialsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating credentials table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get retrieves a value by key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", core.ErrEmptyKey
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM credentials WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}

	return value, nil
}

// Set upserts a value, keeping an existing one unless overwrite is true.
func (s *SQLiteStore) Set(ctx context.Context, key, value string, overwrite bool) error {
	if key == "" {
		return core.ErrEmptyKey
	}

	query := `INSERT INTO credentials (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`
	if overwrite {
		query = `INSERT INTO credentials (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = unixepoch()`
	}

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}
	return nil
}

// Remove deletes a key and reports whether it existed.
func (s *SQLiteStore) Remove(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, core.ErrEmptyKey
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("deleting credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting credential: %w", err)
	}

	return n > 0, nil
}

// RemoveMany deletes every key matching the GLOB pattern in one transaction.
func (s *SQLiteStore) RemoveMany(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		return nil, core.ErrEmptyPattern
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT key FROM credentials WHERE key GLOB ? ORDER BY key`, pattern)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	removed := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning credential key: %w", err)
		}
		removed = append(removed, key)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	_ = rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE key GLOB ?`, pattern); err != nil {
		return nil, fmt.Errorf("deleting credentials: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return removed, nil
}

// Sync checkpoints the write-ahead log when one is in use.
func (s *SQLiteStore) Sync(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("checkpointing sqlite: %w", err)
	}
	return nil
}

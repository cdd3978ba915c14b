package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type sqliteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend stores entries in the kv_entries table created by the
// database package migrations.
func NewSQLiteBackend(db *sql.DB) Backend {
	return &sqliteBackend{db: db}
}

func (b *sqliteBackend) Get(ctx context.Context, key string) (string, error) {
	query := "SELECT value FROM kv_entries WHERE key = ?"
	var value string
	err := b.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("could not read key %q: %w", key, err)
	}
	return value, nil
}

func (b *sqliteBackend) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := b.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("could not write key %q: %w", key, err)
	}
	return nil
}

func (b *sqliteBackend) Delete(ctx context.Context, key string) error {
	query := "DELETE FROM kv_entries WHERE key = ?"
	if _, err := b.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("could not delete key %q: %w", key, err)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	// Register the pure-Go sqlite driver.
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS plugin_kv (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (namespace, key)
)`

// SQLite is a KVStore persisted in a single sqlite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists. The parent directory is created with 0700 permissions.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, oops.In("store").Code(CodeStorageFailed).Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, oops.In("store").Code(CodeStorageFailed).With("path", path).Wrapf(err, "create storage dir")
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, oops.In("store").Code(CodeStorageFailed).With("path", path).Wrapf(err, "open sqlite")
	}
	// One writer; sqlite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, oops.In("store").Code(CodeStorageFailed).With("path", path).Wrapf(err, "create schema")
	}
	return &SQLite{db: db}, nil
}

// Get implements KVStore.
func (s *SQLite) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := validateAccess(namespace, key); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM plugin_kv WHERE namespace = ? AND key = ?`,
		namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.In("store").Code(CodeStorageFailed).
			With("operation", "get").With("namespace", namespace).With("key", key).
			Wrap(err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Set implements KVStore.
func (s *SQLite) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := validateAccess(namespace, key); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plugin_kv (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		namespace, key, value)
	if err != nil {
		return oops.In("store").Code(CodeStorageFailed).
			With("operation", "set").With("namespace", namespace).With("key", key).
			Wrap(err)
	}
	return nil
}

// Delete implements KVStore.
func (s *SQLite) Delete(ctx context.Context, namespace, key string) error {
	if err := validateAccess(namespace, key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM plugin_kv WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return oops.In("store").Code(CodeStorageFailed).
			With("operation", "delete").With("namespace", namespace).With("key", key).
			Wrap(err)
	}
	return nil
}

// Close implements Backend.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Package store adapts a pure-Go SQLite database into the zigbee.Persistence
// contract (spec §6): a whole-mesh snapshot of nodes, devices, and groups is
// loaded on Deserialize and rewritten wholesale on Serialize.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection with the application-specific methods the
// store needs.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates a SQLite database at path, creating any missing
// parent directory, and configures it with WAL journaling and foreign keys
// enabled.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: connect to database: %w", err)
	}

	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the path to the underlying database file.
func (db *DB) Path() string { return db.path }

// Close closes the database connection.
func (db *DB) Close() error { return db.DB.Close() }

// Tx runs fn within a transaction, rolling back on error and committing
// otherwise.
func (db *DB) Tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

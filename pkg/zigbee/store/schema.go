package store

import (
	"context"
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 1

// schemaV1 holds the mesh model's network state snapshot (spec §3): nodes,
// devices (endpoint instances), and groups, keyed the same way the in-memory
// Mesh model keys them.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version     INTEGER PRIMARY KEY,
    applied_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS nodes (
    network_address INTEGER PRIMARY KEY,
    ieee_address    INTEGER NOT NULL,
    role            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS devices (
    network_address INTEGER NOT NULL,
    endpoint        INTEGER NOT NULL,
    ieee_address    INTEGER NOT NULL,
    profile_id      INTEGER NOT NULL,
    input_clusters  TEXT NOT NULL DEFAULT '[]',
    output_clusters TEXT NOT NULL DEFAULT '[]',
    PRIMARY KEY (network_address, endpoint)
);

CREATE TABLE IF NOT EXISTS groups (
    id    INTEGER PRIMARY KEY,
    label TEXT NOT NULL DEFAULT ''
);
`

// Migrate brings the schema up to currentSchemaVersion.
func (db *DB) Migrate(ctx context.Context) error {
	version, err := db.getSchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("store: get schema version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}
	if version < 1 {
		if err := db.applySchemaV1(ctx); err != nil {
			return fmt.Errorf("store: apply schema v1: %w", err)
		}
	}
	return nil
}

func (db *DB) getSchemaVersion(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&count)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (db *DB) applySchemaV1(ctx context.Context) error {
	return db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	})
}

// SchemaVersion returns the currently-applied schema version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	return db.getSchemaVersion(ctx)
}

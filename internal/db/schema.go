// Package db provides database connection management and schema versioning
// for the local store.
package db

import (
	"fmt"
)

// Schema versions are additive only: new versions may add collections and
// indexes but never drop or rewrite existing ones, so upgrades on existing
// installs are never destructive. Collection and index names are the
// integration contract with the storage host.
var schemaVersions = []string{
	// Version 1: core collections and access-pattern indexes.
	`
	CREATE TABLE IF NOT EXISTS lists (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		sync_status TEXT NOT NULL DEFAULT 'pending',
		last_sync_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		list_id TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		tags TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT 0,
		sync_status TEXT NOT NULL DEFAULT 'pending'
	);
	CREATE INDEX IF NOT EXISTS idx_items_list ON items(list_id);

	CREATE TABLE IF NOT EXISTS review_queue (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		due_at INTEGER NOT NULL,
		difficulty REAL NOT NULL DEFAULT 0,
		stability REAL NOT NULL DEFAULT 0,
		retrievability REAL NOT NULL DEFAULT 0,
		lapses INTEGER NOT NULL DEFAULT 0,
		reps INTEGER NOT NULL DEFAULT 0,
		interval REAL NOT NULL DEFAULT 0,
		history TEXT NOT NULL DEFAULT '[]',
		sync_status TEXT NOT NULL DEFAULT 'pending'
	);
	CREATE INDEX IF NOT EXISTS idx_review_due ON review_queue(due_at);

	CREATE TABLE IF NOT EXISTS streak (
		id TEXT PRIMARY KEY CHECK(id = 'global'),
		current INTEGER NOT NULL DEFAULT 0,
		best INTEGER NOT NULL DEFAULT 0,
		last_active_at INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL DEFAULT 0,
		daily_history TEXT NOT NULL DEFAULT '',
		sync_status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE TABLE IF NOT EXISTS settings (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL DEFAULT '{}',
		updated_at INTEGER NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE TABLE IF NOT EXISTS sync_outbox (
		id TEXT PRIMARY KEY,
		op_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt_at INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_created ON sync_outbox(created_at);
	`,

	// Version 2: persisted conflict items awaiting external resolution.
	`
	CREATE TABLE IF NOT EXISTS conflicts (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		local_json TEXT NOT NULL,
		remote_json TEXT NOT NULL,
		resolution TEXT NOT NULL DEFAULT '',
		resolved_at INTEGER NOT NULL DEFAULT 0,
		detected_at INTEGER NOT NULL
	);
	`,
}

// SchemaVersion is the current schema version.
var SchemaVersion = len(schemaVersions)

// InitSchema applies all pending schema versions inside one transaction
// per version, tracked via PRAGMA user_version.
func (db *DB) InitSchema() error {
	current, err := db.CurrentVersion()
	if err != nil {
		return err
	}

	for v := current; v < len(schemaVersions); v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(schemaVersions[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply schema version %d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit schema version %d: %w", v+1, err)
		}
	}

	return nil
}

// CurrentVersion returns the applied schema version.
func (db *DB) CurrentVersion() (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

package storage

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a database schema migration
type Migration struct {
	SQL         string
	Description string
	Version     int
}

// migrations is the registry of all database migrations in order
// Each migration must have a unique version number and will be applied
// in ascending order. Migrations are transactional.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with lookups table",
		SQL: `
			CREATE TABLE IF NOT EXISTS lookups (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp DATETIME NOT NULL,
				worker_id INTEGER NOT NULL,
				node TEXT NOT NULL,
				service TEXT NOT NULL DEFAULT '',
				family INTEGER NOT NULL DEFAULT 0,
				outcome TEXT NOT NULL,
				code INTEGER NOT NULL,
				addrs INTEGER NOT NULL DEFAULT 0,
				duration_ms REAL NOT NULL,
				late BOOLEAN NOT NULL DEFAULT 0
			);

			CREATE INDEX IF NOT EXISTS idx_lookups_timestamp ON lookups(timestamp);
			CREATE INDEX IF NOT EXISTS idx_lookups_node ON lookups(node);
		`,
	},
	{
		Version:     2,
		Description: "Add composite indexes for statistics",
		SQL: `
			-- Speeds up: GetStatistics outcome counts over a time range
			CREATE INDEX IF NOT EXISTS idx_lookups_timestamp_late_outcome ON lookups(timestamp, late, outcome);

			-- Speeds up: GetLookupsByNode
			CREATE INDEX IF NOT EXISTS idx_lookups_node_timestamp ON lookups(node, timestamp);
		`,
	},
}

// getMigrations returns all migrations sorted by version
func getMigrations() []Migration {
	result := make([]Migration, len(migrations))
	copy(result, migrations)

	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})

	return result
}

// getCurrentVersion returns the current schema version from the database
func getCurrentVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL
		)
	`); err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query schema version: %w", err)
	}

	return version, nil
}

// applyMigration applies a single migration within a transaction
func applyMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO schema_version (version, applied_at)
		VALUES (?, CURRENT_TIMESTAMP)
	`, migration.Version)
	if err != nil {
		return fmt.Errorf("failed to record migration version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// runMigrations applies all pending migrations in order, each in its own
// transaction. On failure the database stays at the last applied version.
func runMigrations(db *sql.DB) error {
	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if err := applyMigration(db, migration); err != nil {
			return fmt.Errorf(
				"failed to apply migration v%d (%s): %w",
				migration.Version,
				migration.Description,
				err,
			)
		}
	}

	return nil
}

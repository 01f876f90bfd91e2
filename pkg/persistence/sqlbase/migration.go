// Package sqlbase provides schema migrations shared by the SQL stores.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// migrationLockKey is the pg_advisory_xact_lock key held while migrating.
const migrationLockKey int64 = 0x70726f63666c6f77

// Migrator applies numbered SQL migrations. Each RunMigrations call runs in a
// single transaction holding an advisory lock, so replicas starting together
// apply every version exactly once.
type Migrator struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations map[int]string
}

func NewMigrator(logger *slog.Logger, db *sql.DB, migrations map[int]string) *Migrator {
	return &Migrator{
		db:         db,
		logger:     logger.With("module", "sql_migrator"),
		migrations: migrations,
	}
}

// LatestVersion returns the highest known version.
func (m *Migrator) LatestVersion() int {
	latest := 0
	for version := range m.migrations {
		latest = max(latest, version)
	}

	return latest
}

// RunMigrations brings the schema up to LatestVersion. Versions already applied are skipped.
func (m *Migrator) RunMigrations(ctx context.Context) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	current, err := currentVersion(ctx, tx)
	if err != nil {
		return err
	}

	applied := 0

	for _, version := range slices.Sorted(maps.Keys(m.migrations)) {
		if version <= current {
			continue
		}

		if _, err := tx.ExecContext(ctx, m.migrations[version]); err != nil {
			return fmt.Errorf("failed to execute migration %d: %w", version, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}

		m.logger.InfoContext(ctx, "Applied migration", "version", version)

		applied++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}

	m.logger.InfoContext(ctx, "Schema up to date", "from_version", current, "version", m.LatestVersion(), "applied", applied)

	return nil
}

// CurrentVersion returns the highest applied version, or 0 on a fresh database.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var exists bool

	err := m.db.QueryRowContext(ctx, "SELECT to_regclass('schema_migrations') IS NOT NULL").Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to look up schema_migrations: %w", err)
	}

	if !exists {
		return 0, nil
	}

	return currentVersion(ctx, m.db)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func currentVersion(ctx context.Context, q queryRower) (int, error) {
	var version int

	err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query current schema version: %w", err)
	}

	return version, nil
}

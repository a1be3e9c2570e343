// Package migrate applies the embedded db/migrations/*.sql files in
// version order, once each, tracked in a schema_migrations table.
//
// Call Run after the pool connects and before any service starts reading
// from alert-relay's tables:
//
//	if err := migrate.Run(ctx, pool, logger); err != nil {
//	    log.Fatal("migration failed:", err)
//	}
//
// Files follow NNN_name.sql (e.g. 002_alerts_config.sql); each applies
// inside its own transaction alongside its schema_migrations insert, so a
// failed migration leaves no partial schema change behind.
package migrate

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Record represents a completed migration in the database.
type Record struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

// Status contains information about the current migration state.
type Status struct {
	Applied []Record `json:"applied"`
	Pending []string `json:"pending"`
}

// Run applies every migration not yet recorded in schema_migrations, in
// version order, creating that table first if needed.
func Run(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	logger.Info("checking database migrations")

	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := getAppliedMigrations(ctx, pool)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	appliedSet := make(map[int]bool, len(applied))
	for _, m := range applied {
		appliedSet[m.Version] = true
	}

	available, err := getAvailableMigrations()
	if err != nil {
		return fmt.Errorf("reading migration files: %w", err)
	}

	applCount := 0
	for _, mig := range available {
		if appliedSet[mig.version] {
			continue
		}

		logger.Info("applying migration", "version", mig.version, "name", mig.name)
		if err := applyMigration(ctx, pool, mig); err != nil {
			return fmt.Errorf("applying migration %03d_%s: %w", mig.version, mig.name, err)
		}
		applCount++
	}

	if applCount == 0 {
		logger.Info("database schema is up to date", "version", len(applied))
	} else {
		logger.Info("migrations complete", "applied", applCount, "total", len(applied)+applCount)
	}

	return nil
}

// GetStatus reports which migrations have applied and which are still
// pending, for an admin diagnostics endpoint.
func GetStatus(ctx context.Context, pool *pgxpool.Pool) (*Status, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = 'schema_migrations'
		)
	`).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking migrations table: %w", err)
	}

	status := &Status{}

	if exists {
		status.Applied, err = getAppliedMigrations(ctx, pool)
		if err != nil {
			return nil, err
		}
	}

	appliedSet := make(map[int]bool)
	for _, m := range status.Applied {
		appliedSet[m.Version] = true
	}

	available, err := getAvailableMigrations()
	if err != nil {
		return nil, err
	}

	for _, m := range available {
		if !appliedSet[m.version] {
			status.Pending = append(status.Pending, fmt.Sprintf("%03d_%s", m.version, m.name))
		}
	}

	return status, nil
}

// ensureMigrationsTable creates the schema_migrations table if missing.
func ensureMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// getAppliedMigrations returns all migrations that have been applied.
func getAppliedMigrations(ctx context.Context, pool *pgxpool.Pool) ([]Record, error) {
	rows, err := pool.Query(ctx, `
		SELECT version, name, applied_at
		FROM schema_migrations
		ORDER BY version
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var migrations []Record
	for rows.Next() {
		var m Record
		if err := rows.Scan(&m.Version, &m.Name, &m.AppliedAt); err != nil {
			return nil, err
		}
		migrations = append(migrations, m)
	}

	return migrations, rows.Err()
}

// migration represents a migration file to be applied.
type migration struct {
	version int
	name    string
	sql     string
}

// getAvailableMigrations reads every NNN_name.sql file out of the embedded
// filesystem, sorted by version. A migration file with no SQL in it is
// almost always a committed-empty placeholder, so it's rejected here
// rather than silently recorded as applied.
func getAvailableMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	migrations := make([]migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, err := parseMigrationFilename(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("parsing migration filename %s: %w", entry.Name(), err)
		}

		content, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if strings.TrimSpace(string(content)) == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		migrations = append(migrations, migration{
			version: version,
			name:    name,
			sql:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})

	return migrations, nil
}

// parseMigrationFilename extracts version and name from a migration filename.
// Expected format: NNN_name.sql (e.g., "001_initial_schema.sql")
func parseMigrationFilename(filename string) (int, string, error) {
	// Remove .sql extension
	base := strings.TrimSuffix(filename, ".sql")

	// Split on first underscore
	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", filename)
	}

	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("invalid version number in %s: %w", filename, err)
	}

	return version, parts[1], nil
}

// applyMigration runs mig.sql and records it in schema_migrations inside
// one transaction, so the two never land out of sync.
func applyMigration(ctx context.Context, pool *pgxpool.Pool, mig migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op once committed

	if _, err := tx.Exec(ctx, mig.sql); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO schema_migrations (version, name) VALUES ($1, $2)
	`, mig.version, mig.name); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit(ctx)
}

// Rollback drops the most recent schema_migrations row so that migration
// will be re-applied on the next Run. It does not undo the migration's own
// SQL; reverting schema changes is the operator's job. Development/testing
// use only — never call this against a running deployment.
func Rollback(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	var version int
	var name string

	err := pool.QueryRow(ctx, `
		SELECT version, name FROM schema_migrations
		ORDER BY version DESC LIMIT 1
	`).Scan(&version, &name)
	if err == pgx.ErrNoRows {
		logger.Info("no migrations to rollback")
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting last migration: %w", err)
	}

	_, err = pool.Exec(ctx, `
		DELETE FROM schema_migrations WHERE version = $1
	`, version)
	if err != nil {
		return fmt.Errorf("removing migration record: %w", err)
	}

	logger.Info("migration record removed (SQL not reverted)",
		"version", version,
		"name", name,
	)

	return nil
}

package storagedb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/primary/*.sql
var primaryMigrationFS embed.FS

//go:embed migrations/log/*.sql
var logMigrationFS embed.FS

type migrationFile struct {
	version int
	name    string
	sql     string
}

func loadMigrations(bundle embed.FS, dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(bundle, dir)
	if err != nil {
		return nil, err
	}
	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		numPart, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("migration file %q does not start with NNN_", entry.Name())
		}
		version, err := strconv.Atoi(numPart)
		if err != nil {
			return nil, fmt.Errorf("migration file %q has non-numeric prefix: %w", entry.Name(), err)
		}
		contents, err := bundle.ReadFile(dir + "/" + entry.Name())
		if err != nil {
			return nil, err
		}
		files = append(files, migrationFile{version: version, name: entry.Name(), sql: string(contents)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// MigratePrimary applies the primary-database migration bundle to db.
func MigratePrimary(ctx context.Context, db *sql.DB) error {
	files, err := loadMigrations(primaryMigrationFS, "migrations/primary")
	if err != nil {
		return fmt.Errorf("loading primary migrations: %w", err)
	}
	return applyPending(ctx, db, files)
}

// MigrateLog applies the log-database migration bundle to db.
func MigrateLog(ctx context.Context, db *sql.DB) error {
	files, err := loadMigrations(logMigrationFS, "migrations/log")
	if err != nil {
		return fmt.Errorf("loading log migrations: %w", err)
	}
	return applyPending(ctx, db, files)
}

// applyPending implements spec §4.2's boot sequence: read PRAGMA
// user_version = S, then for each file N.sql with N > S in numeric order,
// begin transaction, execute batch, set user_version = N, commit. Boot
// aborts on the first migration failure.
func applyPending(ctx context.Context, db *sql.DB, files []migrationFile) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("reading user_version: %w", err)
	}

	for _, f := range files {
		if f.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, f); err != nil {
			return fmt.Errorf("migration %s failed: %w", f.name, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, f migrationFile) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, f.sql); err != nil {
		return err
	}
	// PRAGMA statements cannot be parameterized; the version is produced
	// by our own numeric parse, never user input.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", f.version)); err != nil {
		return err
	}
	return tx.Commit()
}

// Migrate applies both migration bundles to the engine's two databases.
func (e *Engine) Migrate(ctx context.Context) error {
	if err := MigratePrimary(ctx, e.Primary); err != nil {
		return err
	}
	return MigrateLog(ctx, e.Log)
}

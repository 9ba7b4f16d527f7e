package database

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

// ApplyMigrations applies the *.sql files of a directory. An empty path
// falls back to the embedded migrations.
func ApplyMigrations(db *sql.DB, migrationsPath string) error {
	if strings.TrimSpace(migrationsPath) == "" {
		return ApplyMigrationsFS(db, embeddedMigrations)
	}
	if _, err := os.Stat(migrationsPath); err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	return ApplyMigrationsFS(db, os.DirFS(migrationsPath))
}

// ApplyMigrationsFS applies every *.sql file at the root of fsys in lexical
// order, each in its own transaction, skipping versions already recorded.
func ApplyMigrationsFS(db *sql.DB, fsys fs.FS) error {
	if err := ensureMigrationsTable(db); err != nil {
		return err
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	migrationFiles := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		migrationFiles = append(migrationFiles, entry.Name())
	}
	sort.Strings(migrationFiles)

	for _, fileName := range migrationFiles {
		if err := applyMigration(db, fsys, fileName); err != nil {
			return err
		}
	}

	return nil
}

// applyMigration runs one file and records its version in the same
// transaction, so a failed file leaves no trace.
func applyMigration(db *sql.DB, fsys fs.FS, fileName string) error {
	applied, err := migrationApplied(db, fileName)
	if err != nil || applied {
		return err
	}

	content, err := fs.ReadFile(fsys, fileName)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", fileName, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("apply migration %s: %w", fileName, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, fileName); err != nil {
		return fmt.Errorf("record migration %s: %w", fileName, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", fileName, err)
	}
	return nil
}

// AppliedMigrations lists recorded migration versions in order.
func AppliedMigrations(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	versions := make([]string, 0)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migrations: %w", err)
	}
	return versions, nil
}

func ensureMigrationsTable(db *sql.DB) error {
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

func migrationApplied(db *sql.DB, version string) (bool, error) {
	var count int
	if err := db.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version).Scan(&count); err != nil {
		return false, fmt.Errorf("check migration %s: %w", path.Base(version), err)
	}
	return count > 0, nil
}

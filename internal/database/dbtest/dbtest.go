// Package dbtest opens throwaway migrated sqlite databases for tests.
package dbtest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/gabriel/chapter-tracker/internal/database"
	"github.com/stretchr/testify/require"
)

// Open returns a migrated database seeded with the default sources. It is
// closed when the test ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err, "open test db")
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.ApplyMigrations(db, ""), "apply migrations")
	require.NoError(t, database.SeedDefaults(db), "seed defaults")
	return db
}

// ServiceID returns the id of a seeded source.
func ServiceID(t testing.TB, db *sql.DB, key string) int64 {
	t.Helper()

	var id int64
	require.NoError(t, db.QueryRow(`SELECT service_id FROM services WHERE key = ?`, key).Scan(&id), "service %s", key)
	return id
}

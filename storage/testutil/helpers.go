package testutil

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/facet-io/facet/db"
)

// SetupTestDB creates an in-memory SQLite database for testing.
// Uses real migrations to ensure test schema matches production schema.
func SetupTestDB(t *testing.T) *sql.DB {
	testDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	_, err = testDB.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	err = db.Migrate(testDB, nil)
	require.NoError(t, err, "Failed to run migrations")

	return testDB
}

// SetupEmptyDB creates an in-memory SQLite database WITHOUT the catalog
// schema. Used for testing error handling when the schema is missing.
func SetupEmptyDB(t *testing.T) *sql.DB {
	testDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	return testDB
}

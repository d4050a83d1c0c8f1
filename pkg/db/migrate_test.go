package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename            string
		expectedVersion     string
		expectedDescription string
	}{
		{"20260301090000_init_credentials.sql", "20260301090000", "init_credentials"},
		{"20260312143000_add_credential_usage.sql", "20260312143000", "add_credential_usage"},
		{"20260101000000.sql", "20260101000000", ""},
		{"20260101000000_test", "20260101000000", "test"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, description := parseMigrationFilename(tt.filename)
			assert.Equal(t, tt.expectedVersion, version)
			assert.Equal(t, tt.expectedDescription, description)
		})
	}
}

func TestReadMigrationFilesSorted(t *testing.T) {
	files, err := readMigrationFiles()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(files), 2)

	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1].Version, files[i].Version)
	}
	assert.Equal(t, "init_credentials", files[0].Description)
	assert.Contains(t, files[0].Content, "CREATE TABLE credentials")
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestOpenCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.db")

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	assert.True(t, tableExists(t, db, "credentials"))
	assert.True(t, tableExists(t, db, "credential_usage"))

	var operatorVersion string
	err = db.QueryRow("SELECT operator_version FROM schema_revisions LIMIT 1").Scan(&operatorVersion)
	require.NoError(t, err)
	assert.Equal(t, "saucetunnel", operatorVersion)
}

func TestMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, db.Close())

	db, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	files, err := readMigrationFiles()
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_revisions").Scan(&count))
	assert.Equal(t, len(files), count, "migrations must not be re-applied")
}

func TestApplyMigrationRollback(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	require.NoError(t, createMigrationTable(ctx, db))

	mf := MigrationFile{
		Version:     "20260101000000",
		Description: "broken",
		Filename:    "20260101000000_broken.sql",
		Content:     "CREATE TABLE test_table (id INTEGER PRIMARY KEY); INVALID SQL STATEMENT;",
	}
	err = applyMigration(ctx, db, mf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute migration")
	assert.False(t, tableExists(t, db, "test_table"))
}

func TestOpenCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, filepath.Join(t.TempDir(), "credentials.db"))
	assert.ErrorIs(t, err, context.Canceled)
}

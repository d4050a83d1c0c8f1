package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/zerolog/log"
)

//go:embed migration/*
var migrations embed.FS

const operator = "saucetunnel"

// MigrationFile is one embedded migration named {version}_{description}.sql.
type MigrationFile struct {
	Version     string
	Description string
	Filename    string
	Content     string
}

// Open opens (creating if needed) the sqlite database at path and brings its
// schema up to date.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; sqlite serialises anyway and this avoids SQLITE_BUSY churn
	db.SetMaxOpenConns(1)

	if err = Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies every embedded migration not yet recorded in
// schema_revisions, in version order, each in its own transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := createMigrationTable(ctx, db); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrationFiles, err := readMigrationFiles()
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	appliedVersions, err := getAppliedMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	appliedCount := 0
	for _, mf := range migrationFiles {
		if appliedVersions[mf.Version] {
			continue
		}

		log.Debug().Msgf("Applying migration %s.", mf.Filename)
		if err := applyMigration(ctx, db, mf); err != nil {
			log.Error().Err(err).Msgf("Failed to apply migration %s.", mf.Filename)
			return fmt.Errorf("migration %s failed: %w", mf.Version, err)
		}
		appliedCount++
	}

	if appliedCount > 0 {
		log.Debug().Msgf("%d migration(s) applied.", appliedCount)
	}
	return nil
}

func createMigrationTable(ctx context.Context, db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_revisions (
		version TEXT NOT NULL PRIMARY KEY,
		description TEXT NOT NULL,
		executed_at DATETIME NOT NULL,
		execution_time INTEGER NOT NULL,
		operator_version TEXT NOT NULL
	);`

	_, err := db.ExecContext(ctx, query)
	return err
}

func readMigrationFiles() ([]MigrationFile, error) {
	migrationFS, err := fs.Sub(migrations, "migration")
	if err != nil {
		return nil, fmt.Errorf("failed to get migration directory: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var files []MigrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := fs.ReadFile(migrationFS, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", entry.Name(), err)
		}

		contentStr := strings.TrimSpace(string(content))
		if contentStr == "" {
			continue
		}

		version, description := parseMigrationFilename(entry.Name())
		files = append(files, MigrationFile{
			Version:     version,
			Description: description,
			Filename:    entry.Name(),
			Content:     contentStr,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Version < files[j].Version
	})
	return files, nil
}

// parseMigrationFilename splits "20260301090000_init_credentials.sql" into
// ("20260301090000", "init_credentials").
func parseMigrationFilename(filename string) (version, description string) {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))

	parts := strings.SplitN(name, "_", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return name, ""
}

func getAppliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_revisions")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, mf MigrationFile) error {
	startTime := time.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		rbErr := tx.Rollback()
		if rbErr != nil && rbErr != sql.ErrTxDone {
			log.Error().Err(rbErr).Msg("Failed to rollback migration transaction.")
		}
	}()

	if _, err = tx.ExecContext(ctx, mf.Content); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO schema_revisions
		(version, description, executed_at, execution_time, operator_version)
	VALUES
		(?, ?, ?, ?, ?)
	`,
		mf.Version,
		mf.Description,
		time.Now().Format(time.RFC3339),
		time.Since(startTime).Microseconds(),
		operator,
	)
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

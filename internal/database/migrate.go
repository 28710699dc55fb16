package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// MigrationResult reports where the schema ended up after Migrate
type MigrationResult struct {
	Version uint
	// Applied is false when the schema was already at the latest version
	Applied bool
	// Empty is true when the source holds no migrations at all
	Empty bool
}

// ErrDirtyMigration means a previous migration failed halfway and the schema
// needs manual repair before anything else runs.
var ErrDirtyMigration = errors.New("migration version is dirty, manual intervention required")

// Migrate applies every pending up migration from source, a golang-migrate
// source URL such as file://migrations.
func Migrate(databaseURL, source string) (*MigrationResult, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return nil, fmt.Errorf("failed to apply migrations: %w", upErr)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return &MigrationResult{Empty: true}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get migration version: %w", err)
	case dirty:
		return nil, fmt.Errorf("%w: version %d", ErrDirtyMigration, version)
	}

	return &MigrationResult{Version: version, Applied: upErr == nil}, nil
}

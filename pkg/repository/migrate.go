package repository

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration directions
const (
	MigrateUp   = "up"
	MigrateDown = "down"
)

// Migrate applies the embedded schema migrations in the given direction.
// Being already at the target version is not an error.
func Migrate(db *sql.DB, direction string) error {
	if direction != MigrateUp && direction != MigrateDown {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	switch direction {
	case MigrateUp:
		err = m.Up()
	case MigrateDown:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	return nil
}

// MigrationVersion reports the applied schema version. ok is false when no
// migration has run yet.
func MigrationVersion(db *sql.DB) (version uint, dirty bool, ok bool, err error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, false, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	return version, dirty, true, nil
}

// The migrator is not closed: closing it would close db, which the caller owns.
func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

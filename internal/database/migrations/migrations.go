// Package migrations applies and checks the embedded schema migrations of
// the side database.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

var (
	// ErrNoVersion means the database has never been migrated.
	ErrNoVersion = errors.New("database has no schema version (needs migration)")

	// ErrVersionMismatch means the schema is behind or ahead of this binary.
	ErrVersionMismatch = errors.New("database schema version mismatch")
)

// Status reports the database's schema version, whether the last migration
// left it dirty, and the latest version embedded in this binary.
func Status(db *sql.DB) (current uint, dirty bool, latest uint, err error) {
	m, err := newMigrate(db)
	if err != nil {
		return 0, false, 0, err
	}
	// m is not closed: closing it would close db, which the caller owns.

	current, dirty, err = m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, 0, ErrNoVersion
		}
		return 0, false, 0, fmt.Errorf("failed to get database version: %w", err)
	}

	latest, err = LatestVersion()
	if err != nil {
		return 0, false, 0, err
	}
	return current, dirty, latest, nil
}

// CheckDBMigrationStatus returns nil when the schema is at the latest
// embedded version and clean.
func CheckDBMigrationStatus(db *sql.DB) error {
	current, dirty, latest, err := Status(db)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d (migration failed previously)", current)
	}
	switch {
	case current < latest:
		return fmt.Errorf("%w: database is at version %d but latest is %d", ErrVersionMismatch, current, latest)
	case current > latest:
		return fmt.Errorf("%w: database version %d is ahead of binary version %d", ErrVersionMismatch, current, latest)
	}
	return nil
}

// MigrateUp applies every pending migration. An up-to-date database is not
// an error.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// LatestVersion returns the highest migration version embedded in the binary.
func LatestVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration files: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// lastVersion walks the source until Next reports there is nothing left.
func lastVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(version)
		if err != nil {
			return version, nil
		}
		version = next
	}
}

package migrations

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// documentsMigrationsTable keeps our schema version apart from any other
// migrate user sharing the database.
const documentsMigrationsTable = "grok2api_schema_migrations"

// withPostgres opens a migrator over the embedded documents schema, runs fn
// and releases the source and driver.
func withPostgres(db *sql.DB, fn func(m *migrate.Migrate) error) (err error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: documentsMigrationsTable})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	source, err := iofs.New(sqlMigrations, "sql")
	if err != nil {
		return fmt.Errorf("embedded schema: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err == nil {
			err = errors.Join(srcErr, dbErr)
		}
	}()
	return fn(m)
}

// PostgresUp brings the documents schema to the latest version.
func PostgresUp(db *sql.DB) error {
	return withPostgres(db, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("schema up: %w", err)
		}
		return nil
	})
}

// PostgresDown rolls back steps versions (at least one).
func PostgresDown(db *sql.DB, steps int) error {
	steps = max(steps, 1)
	return withPostgres(db, func(m *migrate.Migrate) error {
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("schema down %d: %w", steps, err)
		}
		return nil
	})
}

// PostgresVersion reports the applied schema version; 0 before the first up.
func PostgresVersion(db *sql.DB) (version uint, dirty bool, err error) {
	err = withPostgres(db, func(m *migrate.Migrate) error {
		v, d, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		if verr != nil {
			return fmt.Errorf("schema version: %w", verr)
		}
		version, dirty = v, d
		return nil
	})
	return version, dirty, err
}

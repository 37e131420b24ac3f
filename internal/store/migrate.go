package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/pairchat/internal/store/migrations"
)

// MigrateResult reports the schema version before and after Migrate.
type MigrateResult struct {
	From      uint
	Version   uint
	Changed   bool
	Recovered bool // a dirty version from an interrupted run was rolled back first
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migrate: source: %w", err)
	}
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrate: driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

// Migrate brings the schema to the latest version. Each migration runs in
// its own transaction, so a dirty version means the one before it is intact.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}

	var res MigrateResult
	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
	case err != nil:
		return nil, fmt.Errorf("migrate: read version: %w", err)
	case dirty:
		prev := int(from) - 1
		if prev == 0 {
			prev = -1 // no version applied
		}
		if err := m.Force(prev); err != nil {
			return nil, fmt.Errorf("migrate: recover dirty version %d: %w", from, err)
		}
		res.Recovered = true
		from = uint(max(prev, 0))
	}
	res.From = from

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
	case err != nil:
		return nil, fmt.Errorf("migrate: up: %w", err)
	default:
		res.Changed = true
	}

	if res.Version, _, err = m.Version(); err != nil {
		return nil, fmt.Errorf("migrate: read version: %w", err)
	}
	return &res, nil
}

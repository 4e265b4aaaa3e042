package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/matheus3301/chatsync/internal/store/migrations"
)

// Migration reports a schema upgrade. From is 0 for a fresh database.
type Migration struct {
	From uint
	To   uint
}

// Applied reports whether any migration ran.
func (m Migration) Applied() bool { return m.From != m.To }

// Migrate upgrades the schema to the newest embedded version. Running it on
// an up-to-date database does nothing. A database left dirty by an
// interrupted upgrade is refused.
func (db *DB) Migrate() (Migration, error) {
	m, err := db.migrator()
	if err != nil {
		return Migration{}, err
	}

	var res Migration
	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
	case err != nil:
		return res, fmt.Errorf("schema version: %w", err)
	case dirty:
		return res, fmt.Errorf("schema version %d is dirty", from)
	default:
		res.From = from
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return res, fmt.Errorf("migrate from %d: %w", res.From, err)
	}
	to, _, err := m.Version()
	if err != nil {
		return res, fmt.Errorf("schema version: %w", err)
	}
	res.To = to
	return res, nil
}

// migrator binds the embedded migrations to this connection. Closing it
// would close db, so it is left open.
func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}

package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

func sourceDir(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return "postgres", nil
	case DriverSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// New returns a migrator for the given driver and DSN. The caller closes it.
func New(driver, dsn string) (*migrate.Migrate, error) {
	dir, err := sourceDir(driver)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(files, dir)
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL(driver, dsn))
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// Up applies all pending migrations.
func Up(driver, dsn string) error {
	m, err := New(driver, dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run up migrations: %w", err)
	}
	return nil
}

// UpSQLite applies migrations on an already open SQLite handle. The handle stays open,
// which is what in-memory databases need.
func UpSQLite(db *sql.DB) error {
	src, err := iofs.New(files, "sqlite")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	drv, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, DriverSQLite, drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	// m.Close would close db through the sqlite driver.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run up migrations: %w", err)
	}
	return nil
}

func databaseURL(driver, dsn string) string {
	if driver == DriverSQLite && !strings.HasPrefix(dsn, "sqlite3://") {
		return "sqlite3://" + dsn
	}
	return dsn
}

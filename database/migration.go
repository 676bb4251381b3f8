package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations
var migrationsFS embed.FS

// MigrateDatabase applies the embedded schema migrations for the dialect of db.
func MigrateDatabase(db *gorm.DB) error {
	sqlDb, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql handle: %w", err)
	}

	var (
		dialect = db.Dialector.Name()
		driver  migratedb.Driver
	)
	switch dialect {
	case "sqlite":
		dialect = "sqlite3"
		driver, err = sqlite3.WithInstance(sqlDb, &sqlite3.Config{})
	case "postgres":
		driver, err = postgres.WithInstance(sqlDb, &postgres.Config{})
	case "mysql":
		driver, err = mysql.WithInstance(sqlDb, &mysql.Config{})
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDatabase, dialect)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s migration driver: %w", dialect, err)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	// m is never closed: closing it closes sqlDb as well.
	m, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

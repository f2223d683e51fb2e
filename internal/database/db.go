package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Config contains database connection options.
type Config struct {
	Driver   string
	Path     string // SQLite database path when Driver == sqlite
	DSN      string // Optional DSN override
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	Options  map[string]string
}

// Open initialises a gorm.DB using the provided configuration.
func Open(cfg Config) (*gorm.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "sqlite"
	}

	switch driver {
	case "sqlite":
		return openSQLite(cfg)
	case "postgres", "postgresql":
		return openPostgres(cfg)
	case "mysql":
		return openMySQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Migrate prepares the schema during application start-up.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	if err := AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	return nil
}

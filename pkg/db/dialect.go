package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/eventpay/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const defaultSQLiteFile = "eventpay.db"

// ErrUnsupportedType is returned for any database other than postgres and
// sqlite. The schema depends on partial unique indexes and the repositories
// on ON CONFLICT upserts.
var ErrUnsupportedType = errors.New("unsupported database type")

// Dialect picks the gorm driver for the configured database type. All
// timestamps are stored in UTC regardless of driver.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch Type(cfg.DBType) {
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return sqlite.Open(dsn), nil
	}
}

// DSN renders the driver connection string for cfg.
func DSN(cfg config.Config) (string, error) {
	switch Type(cfg.DBType) {
	case "postgres":
		sslMode := strings.TrimSpace(cfg.DBSSLMode)
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, sslMode), nil
	case "sqlite":
		name := strings.TrimSpace(cfg.DBName)
		if name == "" {
			name = defaultSQLiteFile
		}
		// concurrent admissions wait on the database lock instead of failing
		return name + "?_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("%w %q: use postgres or sqlite", ErrUnsupportedType, cfg.DBType)
	}
}

// Type normalizes a configured database type name.
func Type(dbType string) string {
	switch t := strings.ToLower(strings.TrimSpace(dbType)); t {
	case "postgresql", "pg":
		return "postgres"
	default:
		return t
	}
}

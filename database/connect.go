package database

import (
	"errors"
	"fmt"
	"strings"

	"wacrm/state"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var ErrUnsupportedDatabase = errors.New("unsupported database type")

// Connect opens the CRM database described by cfg.Database.
func Connect(cfg *state.Config, logger *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg.Database)
	if err != nil {
		return nil, err
	}

	level := gormLogger.Warn
	if cfg.SilentDbLogs {
		level = gormLogger.Silent
	} else if cfg.DebugMode {
		level = gormLogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(logger.Named("Database"), level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialector.Name(), err)
	}

	return db, nil
}

func dialectorFor(dbCfg map[string]string) (gorm.Dialector, error) {
	dbType := strings.ToLower(dbCfg["type"])
	url := dbCfg["url"]

	switch dbType {
	case "", "sqlite", "sqlite3":
		if url == "" {
			url = state.DefaultDatabaseURL
		}
		return sqlite.Open(url), nil

	case "postgres", "postgresql":
		if url == "" {
			url = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
				valueOr(dbCfg["host"], "localhost"),
				dbCfg["user"],
				dbCfg["password"],
				dbCfg["dbname"],
				valueOr(dbCfg["port"], "5432"),
				valueOr(dbCfg["sslmode"], "disable"),
			)
		}
		return postgres.Open(url), nil

	case "mysql":
		if url == "" {
			url = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
				dbCfg["user"],
				dbCfg["password"],
				valueOr(dbCfg["host"], "localhost"),
				valueOr(dbCfg["port"], "3306"),
				dbCfg["dbname"],
			)
		}
		return mysql.Open(url), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedDatabase, dbType)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

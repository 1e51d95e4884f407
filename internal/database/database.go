// Package database opens the relational store and brings its schema up to
// date.
package database

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/certificates"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/content"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/registrations"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/settings"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/users"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the driver and its connection target.
type Config struct {
	Driver string
	// Path is the SQLite file.
	Path string
	// DSN is the Postgres connection string.
	DSN string
}

// Open connects to the configured store, migrates every model and applies
// the data migrations recorded in db_migrations.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gormConfig := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var (
		db     *gorm.DB
		err    error
		target string
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("database path is required")
		}
		db, err = gorm.Open(sqlite.Open(cfg.Path), gormConfig)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite serialises writers; one connection keeps transactions from
		// failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		target = cfg.Path
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormConfig)
		if err != nil {
			return nil, err
		}
		target = "postgres"
	default:
		return nil, fmt.Errorf("database driver %q is not supported", cfg.Driver)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", db.Dialector.Name()), zap.String("target", target))
	return db, nil
}

// Models lists every table the site owns.
func Models() []any {
	models := content.Models()
	return append(models,
		&settings.Setting{},
		&registrations.Registration{},
		&certificates.Certificate{},
		&users.User{},
		&users.Role{},
		&migrationRecord{},
	)
}

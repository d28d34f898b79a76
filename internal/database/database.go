package database

import (
	"fmt"

	"github.com/psds-microservice/bridge-relay/internal/config"
	"github.com/psds-microservice/bridge-relay/internal/model"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens the configured database.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DB.Driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DB.SQLitePath)
	default:
		dialector = postgres.Open(cfg.DSN())
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DB.Driver, err)
	}
	return db, nil
}

// Prepare brings the schema up to date: SQL migrations for postgres, AutoMigrate for sqlite.
func Prepare(cfg *config.Config, log *zap.Logger) error {
	if cfg.DB.Driver == config.DriverSQLite {
		db, err := Open(cfg)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		if err := AutoMigrate(db); err != nil {
			return err
		}
		log.Named("migrate").Info("sqlite schema migrated", zap.String("path", cfg.DB.SQLitePath))
		return nil
	}
	return MigrateUp(cfg.DatabaseURL(), log)
}

// AutoMigrate creates the relay tables through GORM (sqlite and tests).
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.BridgeRecord{}, &model.BridgeCredential{})
}

// Ping checks the underlying connection.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

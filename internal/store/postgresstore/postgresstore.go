// Package postgresstore is the pooled, remote Store backend used when a
// deployment shares its catalog across more than one reader.
package postgresstore

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cronpilot/internal/store/gormstore"
)

// Config tunes the connection pool. Values of zero fall back to the
// package defaults.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
}

// New opens a pooled connection and migrates the catalog schema.
func New(cfg Config) (*gormstore.Store, error) {
	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 20
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 10
	}
	idleTime := cfg.ConnMaxIdleTime
	if idleTime == 0 {
		idleTime = 30 * time.Second
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("postgresstore: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgresstore: underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxIdleTime(idleTime)

	if err := gormstore.Migrate(db); err != nil {
		return nil, fmt.Errorf("postgresstore: migrate: %w", err)
	}

	return &gormstore.Store{DB: db}, nil
}

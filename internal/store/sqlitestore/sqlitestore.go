// Package sqlitestore is the local, single-writer Store backend used by
// default: a WAL-mode sqlite file that survives process restarts without
// requiring any external database to be running.
package sqlitestore

import (
	"fmt"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cronpilot/internal/store/gormstore"
)

// New opens (creating if absent) a WAL-mode sqlite file at path and
// migrates the catalog schema. Writes are serialized in-process: sqlite
// itself only ever admits one writer, and doing so explicitly avoids
// SQLITE_BUSY retries under gorm's default connection pool.
func New(path string) (*gormstore.Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: underlying db: %w", err)
	}
	// A single physical connection keeps all reads/writes serialized
	// through one sqlite handle, which is what WAL single-writer mode expects.
	sqlDB.SetMaxOpenConns(1)

	if err := gormstore.Migrate(db); err != nil {
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}

	return &gormstore.Store{DB: db, WriteMu: &sync.Mutex{}}, nil
}

package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
)

// NewSQLiteDB opens (or creates) a SQLite file. SQLite serialises writers,
// so the pool is held to a single connection.
func NewSQLiteDB(path string) (*GormDB, error) {
	db, err := openGorm(sqlite.Open(path + "?_foreign_keys=on&_busy_timeout=5000"))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

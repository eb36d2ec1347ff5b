package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the database selected by the DSN scheme.
//
// "file:" and plain path DSNs open SQLite; "postgres://" DSNs open
// PostgreSQL.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	lowered := strings.ToLower(dsn)
	if strings.HasPrefix(lowered, "postgres://") || strings.HasPrefix(lowered, "postgresql://") {
		conn, errOpen := gorm.Open(postgres.Open(dsn), cfg)
		if errOpen != nil {
			return nil, fmt.Errorf("db: open postgres: %w", errOpen)
		}
		return conn, nil
	}

	conn, errOpen := gorm.Open(sqlite.Open(dsn), cfg)
	if errOpen != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", errOpen)
	}
	return conn, nil
}

package settings

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/modelarena/modelarena/internal/models"

	"gorm.io/gorm"
)

var dbConfigConn atomic.Pointer[gorm.DB]

// RegisterDBConfig installs the connection used for settings lookups.
func RegisterDBConfig(conn *gorm.DB) {
	if conn == nil {
		return
	}
	dbConfigConn.Store(conn)
}

// DBConfigValue returns the raw JSON value for a settings key.
func DBConfigValue(key string) (json.RawMessage, bool) {
	conn := dbConfigConn.Load()
	if conn == nil || key == "" {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var row models.Setting
	if errFind := conn.WithContext(ctx).Where("key = ?", key).Take(&row).Error; errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, false
		}
		return nil, false
	}
	if row.Value == "" {
		return nil, false
	}
	return json.RawMessage(row.Value), true
}

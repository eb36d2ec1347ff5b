package models

import "time"

// Setting stores a runtime configuration value as JSON.
type Setting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Key   string `gorm:"type:text;not null;uniqueIndex"` // Config key.
	Value string `gorm:"type:text"`                      // JSON-encoded value.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

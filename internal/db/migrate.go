package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelarena/modelarena/internal/models"
	internalsettings "github.com/modelarena/modelarena/internal/settings"

	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.Account{},
		&models.LedgerEntry{},
		&models.ProcessedPaymentEvent{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errSeed := ensureDefaultSetting(conn, internalsettings.RateLimitKey, internalsettings.DefaultRateLimit); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureDefaultSetting(conn, internalsettings.FreeCooldownDaysKey, internalsettings.DefaultFreeCooldownDays); errSeed != nil {
		return errSeed
	}
	return nil
}

// ensureDefaultSetting creates a settings row when the key is absent.
func ensureDefaultSetting(conn *gorm.DB, key string, value any) error {
	var existing models.Setting
	errFind := conn.Where("key = ?", key).First(&existing).Error
	if errFind == nil {
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query %s setting: %w", key, errFind)
	}

	raw, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	setting := models.Setting{
		Key:       key,
		Value:     string(raw),
		UpdatedAt: time.Now().UTC(),
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		return fmt.Errorf("db: create %s setting: %w", key, errCreate)
	}
	return nil
}

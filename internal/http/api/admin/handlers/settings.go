package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/modelarena/modelarena/internal/models"
	internalsettings "github.com/modelarena/modelarena/internal/settings"
)

// SettingHandler manages admin CRUD for settings values.
type SettingHandler struct {
	db *gorm.DB // Database handle for settings.
}

// NewSettingHandler constructs a settings handler.
func NewSettingHandler(db *gorm.DB) *SettingHandler {
	return &SettingHandler{db: db}
}

// createSettingRequest captures the payload for creating a setting.
type createSettingRequest struct {
	Key   string          `json:"key"`   // Setting key.
	Value json.RawMessage `json:"value"` // JSON value payload.
}

var positiveIntSettingKeys = map[string]struct{}{
	internalsettings.FreeCooldownDaysKey: {},
}

var nonNegativeIntSettingKeys = map[string]struct{}{
	internalsettings.RateLimitKey:        {},
	internalsettings.RateLimitPaidKey:    {},
	internalsettings.RateLimitRedisDBKey: {},
}

var errPositiveIntegerValue = errors.New("value must be a positive integer")
var errNonNegativeIntegerValue = errors.New("value must be a non-negative integer")

// Create validates and inserts a setting.
func (h *SettingHandler) Create(c *gin.Context) {
	var body createSettingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	key := strings.TrimSpace(body.Key)
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	if errValidate := validateSettingValue(key, body.Value); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}

	var existing models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Where("key = ?", key).First(&existing).Error; errFind == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "key already exists"})
		return
	}

	setting := models.Setting{
		Key:   key,
		Value: string(body.Value),
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&setting).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create setting failed"})
		return
	}
	c.JSON(http.StatusCreated, formatSetting(&setting))
}

// List returns all settings sorted by key.
func (h *SettingHandler) List(c *gin.Context) {
	var rows []models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Order("key ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list settings failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, formatSetting(&row))
	}
	c.JSON(http.StatusOK, gin.H{"settings": out})
}

// Get returns a setting by key.
func (h *SettingHandler) Get(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
		return
	}
	var setting models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Where("key = ?", key).First(&setting).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, formatSetting(&setting))
}

// updateSettingRequest captures the payload for updating a setting.
type updateSettingRequest struct {
	Value json.RawMessage `json:"value"` // New JSON value.
}

// Update updates a setting value.
func (h *SettingHandler) Update(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
		return
	}
	var body updateSettingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if errValidate := validateSettingValue(key, body.Value); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.Setting{}).Where("key = ?", key).
		Update("value", string(body.Value))
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a setting.
func (h *SettingHandler) Delete(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).Where("key = ?", key).Delete(&models.Setting{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func formatSetting(setting *models.Setting) gin.H {
	return gin.H{
		"key":        setting.Key,
		"value":      json.RawMessage(setting.Value),
		"updated_at": setting.UpdatedAt,
	}
}

func validateSettingValue(key string, value json.RawMessage) error {
	if _, ok := positiveIntSettingKeys[key]; ok {
		if _, okParse := parsePositiveInt(value); !okParse {
			return errPositiveIntegerValue
		}
		return nil
	}
	if _, ok := nonNegativeIntSettingKeys[key]; ok {
		if _, okParse := parseNonNegativeInt(value); !okParse {
			return errNonNegativeIntegerValue
		}
	}
	return nil
}

func parsePositiveInt(raw json.RawMessage) (int, bool) {
	parsed, ok := parseNonNegativeInt(raw)
	return parsed, ok && parsed > 0
}

func parseNonNegativeInt(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var parsedInt int
	if errUnmarshalInt := json.Unmarshal(raw, &parsedInt); errUnmarshalInt == nil {
		return parsedInt, parsedInt >= 0
	}
	var parsedString string
	if errUnmarshalString := json.Unmarshal(raw, &parsedString); errUnmarshalString == nil {
		parsed, errParse := strconv.Atoi(strings.TrimSpace(parsedString))
		if errParse != nil {
			return 0, false
		}
		return parsed, parsed >= 0
	}
	var parsedFloat float64
	if errUnmarshalFloat := json.Unmarshal(raw, &parsedFloat); errUnmarshalFloat == nil {
		if math.IsNaN(parsedFloat) || math.IsInf(parsedFloat, 0) {
			return 0, false
		}
		if parsedFloat < 0 || parsedFloat != math.Trunc(parsedFloat) {
			return 0, false
		}
		return int(parsedFloat), true
	}
	return 0, false
}

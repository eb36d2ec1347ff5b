package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/modelarena/modelarena/internal/config"
	"github.com/modelarena/modelarena/internal/models"
	"github.com/modelarena/modelarena/internal/security"
)

// AuthHandler serves admin login.
type AuthHandler struct {
	db     *gorm.DB
	jwtCfg config.JWTConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg}
}

// loginRequest captures the admin login payload.
type loginRequest struct {
	Username string `json:"username"` // Admin login name.
	Password string `json:"password"` // Plaintext password.
	TOTPCode string `json:"totp_code"` // One-time code, required when MFA is enabled.
}

// Login verifies credentials and issues an admin token.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).Where("username = ?", username).First(&admin).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if !security.VerifyPassword(admin.Password, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !admin.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
		return
	}

	if admin.TOTPSecret != "" {
		if strings.TrimSpace(body.TOTPCode) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "totp code required", "totp_required": true})
			return
		}
		if !security.ValidateTOTP(admin.TOTPSecret, strings.TrimSpace(body.TOTPCode)) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid totp code"})
			return
		}
	}

	token, errSign := security.SignAdminToken(h.jwtCfg.Secret, admin.ID, admin.Username, h.jwtCfg.Expiry)
	if errSign != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int64(h.jwtCfg.Expiry.Seconds()),
		"username":   admin.Username,
	})
}

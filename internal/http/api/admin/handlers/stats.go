package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/modelarena/modelarena/internal/models"
	"github.com/modelarena/modelarena/internal/wallet"
)

// StatsHandler serves consumption and purchase summaries.
type StatsHandler struct {
	db     *gorm.DB
	wallet *wallet.GormStore
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(db *gorm.DB) *StatsHandler {
	return &StatsHandler{db: db, wallet: wallet.NewGormStore(db)}
}

// Summary aggregates ledger activity over a trailing window (default 30 days).
func (h *StatsHandler) Summary(c *gin.Context) {
	days := 30
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed <= 0 || parsed > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
			return
		}
		days = parsed
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	stats, errStats := h.wallet.StatsSince(c.Request.Context(), since)
	if errStats != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregate stats failed"})
		return
	}

	var accounts int64
	if errCount := h.db.WithContext(c.Request.Context()).Model(&models.Account{}).Count(&accounts).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count accounts failed"})
		return
	}
	var paidAccounts int64
	if errCount := h.db.WithContext(c.Request.Context()).Model(&models.Account{}).
		Where("tier = ?", models.TierPaid).Count(&paidAccounts).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count accounts failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"since":             since,
		"days":              days,
		"accounts":          accounts,
		"paid_accounts":     paidAccounts,
		"consume_entries":   stats.Entries,
		"diamonds_consumed": stats.DiamondsSpent,
		"diamonds_credited": stats.DiamondsBought,
		"text_tokens":       stats.TextTokens,
		"images":            stats.Images,
	})
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/modelarena/modelarena/internal/auth"
	"github.com/modelarena/modelarena/internal/models"
	"github.com/modelarena/modelarena/internal/wallet"
)

const (
	defaultLedgerPageSize = 20
	maxLedgerPageSize     = 100
)

// UsageHandler serves usage counters and the ledger for the current user.
type UsageHandler struct {
	wallet *wallet.GormStore
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(w *wallet.GormStore) *UsageHandler {
	return &UsageHandler{wallet: w}
}

// Get returns the account's usage counters and a page of ledger entries.
func (h *UsageHandler) Get(c *gin.Context) {
	identity, _ := auth.FromContext(c)

	acct, errGet := h.wallet.Get(c.Request.Context(), identity.UserID)
	if errGet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account lookup failed"})
		return
	}

	limit := queryInt(c, "limit", defaultLedgerPageSize)
	if limit <= 0 || limit > maxLedgerPageSize {
		limit = defaultLedgerPageSize
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	kind := models.LedgerKind(c.Query("kind"))

	page, errList := h.wallet.ListLedger(c.Request.Context(), identity.UserID, kind, limit, offset)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list ledger failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"totals": gin.H{
			"text_tokens": acct.TotalTextTokens,
			"images":      acct.TotalImages,
		},
		"this_month": gin.H{
			"month":       acct.MonthKey,
			"text_tokens": acct.MonthlyTextTokens,
			"images":      acct.MonthlyImages,
		},
		"ledger": gin.H{
			"entries": page.Entries,
			"total":   page.Total,
			"limit":   limit,
			"offset":  offset,
		},
	})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	parsed, errParse := strconv.Atoi(raw)
	if errParse != nil {
		return fallback
	}
	return parsed
}

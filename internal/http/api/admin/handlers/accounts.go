package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	dbutil "github.com/modelarena/modelarena/internal/db"
	"github.com/modelarena/modelarena/internal/models"
	"github.com/modelarena/modelarena/internal/wallet"
)

// AccountHandler serves admin account management endpoints.
type AccountHandler struct {
	db     *gorm.DB
	wallet *wallet.GormStore
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(db *gorm.DB) *AccountHandler {
	return &AccountHandler{db: db, wallet: wallet.NewGormStore(db)}
}

// List returns accounts, optionally filtered by user id or email.
func (h *AccountHandler) List(c *gin.Context) {
	var (
		userQ   = strings.TrimSpace(c.Query("user_id"))
		emailQ  = strings.TrimSpace(c.Query("email"))
		searchQ = strings.TrimSpace(c.Query("search"))
		tierQ   = strings.TrimSpace(c.Query("tier"))
	)

	q := h.db.WithContext(c.Request.Context()).Model(&models.Account{})
	if userQ != "" {
		q = q.Where("user_id = ?", userQ)
	}
	if emailQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+emailQ+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "email"), pattern)
	}
	if searchQ != "" {
		ciPattern := dbutil.NormalizeLikePattern(h.db, "%"+searchQ+"%")
		q = q.Where(
			dbutil.CaseInsensitiveLikeExpr(h.db, "user_id")+" OR "+
				dbutil.CaseInsensitiveLikeExpr(h.db, "email"),
			ciPattern,
			ciPattern,
		)
	}
	if tierQ != "" {
		q = q.Where("tier = ?", tierQ)
	}

	var rows []models.Account
	if errFind := q.Order("created_at DESC").Limit(200).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list accounts failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, formatAccount(&row))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

// Get returns one account with a page of its recent ledger entries.
func (h *AccountHandler) Get(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	acct, errGet := h.wallet.Get(c.Request.Context(), userID)
	if errGet != nil {
		if errors.Is(errGet, wallet.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	page, errList := h.wallet.ListLedger(c.Request.Context(), userID, "", 20, 0)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list ledger failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account": formatAccount(&acct),
		"ledger": gin.H{
			"entries": page.Entries,
			"total":   page.Total,
		},
	})
}

// addDiamondsRequest captures an admin diamond grant.
type addDiamondsRequest struct {
	Diamonds int64  `json:"diamonds"`
	Reason   string `json:"reason"`
	SetPaid  bool   `json:"set_paid"`
}

// AddDiamonds credits an account through the same wallet transaction a
// purchase uses, so the grant lands in the ledger.
func (h *AccountHandler) AddDiamonds(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var body addDiamondsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Diamonds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "diamonds must be positive"})
		return
	}

	adminUsername, _ := c.Get("adminUsername")
	acct, errCredit := h.wallet.Credit(c.Request.Context(), userID, wallet.CreditParams{
		Diamonds: body.Diamonds,
		SetPaid:  body.SetPaid,
		Metadata: map[string]any{
			"source": "admin_grant",
			"admin":  adminUsername,
			"reason": body.Reason,
		},
	})
	if errCredit != nil {
		if errors.Is(errCredit, wallet.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		log.WithError(errCredit).WithField("user_id", userID).Error("admin: diamond grant failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credit failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": acct.Balance, "tier": acct.Tier})
}

// changeTierRequest captures a tier change.
type changeTierRequest struct {
	Tier models.AccountTier `json:"tier"`
}

// ChangeTier switches an account between free and paid gating.
func (h *AccountHandler) ChangeTier(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var body changeTierRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Tier != models.TierFree && body.Tier != models.TierPaid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tier must be free or paid"})
		return
	}

	acct, errTx := h.wallet.Transact(c.Request.Context(), userID, func(tx *gorm.DB, acct *models.Account) (*models.LedgerEntry, error) {
		acct.Tier = body.Tier
		return nil, nil
	})
	if errTx != nil {
		if errors.Is(errTx, wallet.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": acct.UserID, "tier": acct.Tier})
}

func formatAccount(acct *models.Account) gin.H {
	return gin.H{
		"user_id":             acct.UserID,
		"email":               acct.Email,
		"balance":             acct.Balance,
		"tier":                acct.Tier,
		"total_text_tokens":   acct.TotalTextTokens,
		"total_images":        acct.TotalImages,
		"month":               acct.MonthKey,
		"monthly_text_tokens": acct.MonthlyTextTokens,
		"monthly_images":      acct.MonthlyImages,
		"last_free_use_at":    acct.LastFreeUseAt,
		"stripe_customer_id":  acct.StripeCustomerID,
		"created_at":          acct.CreatedAt,
		"updated_at":          acct.UpdatedAt,
	}
}

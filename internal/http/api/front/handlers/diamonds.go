package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/modelarena/modelarena/internal/auth"
	"github.com/modelarena/modelarena/internal/models"
	"github.com/modelarena/modelarena/internal/pricing"
	"github.com/modelarena/modelarena/internal/wallet"
)

// DiamondsHandler serves balance endpoints for the current user.
type DiamondsHandler struct {
	wallet *wallet.GormStore
}

// NewDiamondsHandler constructs a DiamondsHandler.
func NewDiamondsHandler(w *wallet.GormStore) *DiamondsHandler {
	return &DiamondsHandler{wallet: w}
}

// Get returns the current diamond balance and tier.
func (h *DiamondsHandler) Get(c *gin.Context) {
	identity, _ := auth.FromContext(c)

	acct, errGet := h.wallet.Get(c.Request.Context(), identity.UserID)
	if errGet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"diamonds": acct.Balance,
		"tier":     acct.Tier,
	})
}

type checkRequest struct {
	Model  string `json:"model" binding:"required"`
	Action string `json:"action"`
	Prompt string `json:"prompt"`
}

// Check runs the advisory preflight for a prospective generation and
// reports the exact shortfall so the client can prompt a top-up. The
// answer can go stale before the actual request; settlement remains the
// authority.
func (h *DiamondsHandler) Check(c *gin.Context) {
	var req checkRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}

	identity, _ := auth.FromContext(c)
	acct, errGet := h.wallet.Get(c.Request.Context(), identity.UserID)
	if errGet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account lookup failed"})
		return
	}

	var required int64
	if req.Action == string(models.ActionImage) {
		required = pricing.CostForImage(req.Model)
	} else {
		required = pricing.EstimateTextCost(req.Model, req.Prompt)
	}

	sufficient := acct.Balance >= required
	resp := gin.H{
		"sufficient": sufficient,
		"required":   required,
		"current":    acct.Balance,
	}
	if !sufficient {
		resp["shortfall"] = required - acct.Balance
	}
	c.JSON(http.StatusOK, resp)
}

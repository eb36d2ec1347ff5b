package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/modelarena/modelarena/internal/auth"
	"github.com/modelarena/modelarena/internal/payment"
)

// PaymentHandler serves checkout session creation for the current user.
type PaymentHandler struct {
	payments *payment.Service
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(payments *payment.Service) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type createSessionRequest struct {
	AmountYen int64 `json:"amount" binding:"required"`
}

// CreateSession starts a diamond purchase checkout session.
func (h *PaymentHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount is required"})
		return
	}

	identity, _ := auth.FromContext(c)
	sess, errCreate := h.payments.CreateCheckoutSession(c.Request.Context(), identity.UserID, identity.Email, req.AmountYen)
	if errors.Is(errCreate, payment.ErrInvalidAmount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount below minimum purchase"})
		return
	}
	if errCreate != nil {
		log.WithError(errCreate).WithField("user_id", identity.UserID).Error("payment: create session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create checkout session failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.SessionID,
		"url":        sess.URL,
		"diamonds":   sess.Diamonds,
	})
}

package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/modelarena/modelarena/internal/wallet"
)

const maxWebhookBody = 1 << 20

// HandleWebhook processes Stripe webhook deliveries.
//
// A delivery that fails signature verification is logged and acknowledged
// with 200 so the sender stops retrying a payload we will never accept.
// Verified checkout.session.completed events credit the wallet exactly
// once; the event ID acts as the idempotency marker, so replays are
// acknowledged without a second credit.
func (s *Service) HandleWebhook(c *gin.Context) {
	payload, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if errRead != nil {
		log.WithError(errRead).Warn("payment: failed to read webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	event, errVerify := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), s.cfg.WebhookSecret)
	if errVerify != nil {
		log.WithError(errVerify).Warn("payment: webhook signature rejected")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		s.handleSessionCompleted(c, event)
	case "checkout.session.expired":
		log.WithField("event_id", event.ID).Info("payment: checkout session expired")
		c.JSON(http.StatusOK, gin.H{"received": true})
	case "payment_intent.payment_failed":
		log.WithField("event_id", event.ID).Info("payment: payment failed")
		c.JSON(http.StatusOK, gin.H{"received": true})
	default:
		log.WithField("event_type", string(event.Type)).Debug("payment: ignoring event")
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func (s *Service) handleSessionCompleted(c *gin.Context, event stripe.Event) {
	var sess stripe.CheckoutSession
	if errUnmarshal := json.Unmarshal(event.Data.Raw, &sess); errUnmarshal != nil {
		log.WithError(errUnmarshal).WithField("event_id", event.ID).Error("payment: malformed session payload")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	accountID := sess.Metadata["account_id"]
	diamonds, _ := strconv.ParseInt(sess.Metadata["diamonds"], 10, 64)
	if accountID == "" || diamonds <= 0 {
		log.WithFields(log.Fields{
			"event_id":   event.ID,
			"session_id": sess.ID,
		}).Error("payment: session metadata missing account or diamonds")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	_, errCredit := s.wallet.Credit(c.Request.Context(), accountID, wallet.CreditParams{
		Diamonds:  diamonds,
		EventID:   event.ID,
		SessionID: sess.ID,
		EventType: string(event.Type),
		SetPaid:   true,
		Metadata: map[string]any{
			"amount_total":   sess.AmountTotal,
			"payment_status": string(sess.PaymentStatus),
		},
	})
	switch {
	case errCredit == nil:
		log.WithFields(log.Fields{
			"account_id": accountID,
			"diamonds":   diamonds,
			"session_id": sess.ID,
		}).Info("payment: diamonds credited")
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(errCredit, wallet.ErrDuplicatePaymentEvent):
		log.WithField("event_id", event.ID).Info("payment: duplicate event ignored")
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(errCredit, wallet.ErrAccountNotFound):
		log.WithField("account_id", accountID).Error("payment: account not found for credit")
		c.JSON(http.StatusOK, gin.H{"received": true})
	default:
		log.WithError(errCredit).WithField("event_id", event.ID).Error("payment: credit failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply payment"})
	}
}

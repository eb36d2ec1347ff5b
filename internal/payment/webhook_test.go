package payment

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/modelarena/modelarena/internal/config"
	"github.com/modelarena/modelarena/internal/db"
	"github.com/modelarena/modelarena/internal/models"
	"github.com/modelarena/modelarena/internal/wallet"
)

const testWebhookSecret = "whsec_test_secret"

func newTestService(t *testing.T) (*Service, *wallet.GormStore) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "payment-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	store := wallet.NewGormStore(conn)
	svc := NewService(store, config.StripeConfig{WebhookSecret: testWebhookSecret})
	return svc, store
}

func generateSignature(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	now := time.Now().Unix()
	signature := webhook.ComputeSignature(time.Unix(now, 0), payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", now, hex.EncodeToString(signature))
}

func checkoutCompletedEvent(t *testing.T, eventID, sessionID, accountID string, diamonds int64) []byte {
	t.Helper()
	session := map[string]any{
		"id":             sessionID,
		"amount_total":   500,
		"payment_status": "paid",
		"metadata": map[string]string{
			"account_id": accountID,
			"diamonds":   fmt.Sprintf("%d", diamonds),
		},
	}
	rawSession, errMarshal := json.Marshal(session)
	if errMarshal != nil {
		t.Fatalf("marshal session: %v", errMarshal)
	}
	event := map[string]any{
		"id":          eventID,
		"object":      "event",
		"api_version": "2023-10-16",
		"type":        "checkout.session.completed",
		"data":        map[string]any{"object": json.RawMessage(rawSession)},
	}
	payload, errMarshal := json.Marshal(event)
	if errMarshal != nil {
		t.Fatalf("marshal event: %v", errMarshal)
	}
	return payload
}

func postWebhook(svc *Service, payload []byte, signature string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v0/payment/webhook", svc.HandleWebhook)

	req := httptest.NewRequest(http.MethodPost, "/v0/payment/webhook", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleWebhook_CreditsOnCheckoutCompleted(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if _, err := store.EnsureAccount(ctx, "user-pay", "pay@example.com"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	payload := checkoutCompletedEvent(t, "evt_1", "cs_1", "user-pay", 5000)
	w := postWebhook(svc, payload, generateSignature(t, payload, testWebhookSecret))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	acct, errGet := store.Get(ctx, "user-pay")
	if errGet != nil {
		t.Fatalf("Get: %v", errGet)
	}
	if acct.Balance != 5000 {
		t.Fatalf("expected 5000 diamonds credited, got %d", acct.Balance)
	}
	if acct.Tier != models.TierPaid {
		t.Fatalf("expected paid tier after purchase, got %q", acct.Tier)
	}
}

func TestHandleWebhook_DuplicateDeliveryCreditsOnce(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if _, err := store.EnsureAccount(ctx, "user-dup", ""); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	payload := checkoutCompletedEvent(t, "evt_dup", "cs_dup", "user-dup", 5000)
	for i := 0; i < 3; i++ {
		w := postWebhook(svc, payload, generateSignature(t, payload, testWebhookSecret))
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, w.Code)
		}
	}

	acct, errGet := store.Get(ctx, "user-dup")
	if errGet != nil {
		t.Fatalf("Get: %v", errGet)
	}
	if acct.Balance != 5000 {
		t.Fatalf("replayed event changed balance: %d", acct.Balance)
	}
}

func TestHandleWebhook_BadSignatureAcknowledged(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if _, err := store.EnsureAccount(ctx, "user-sig", ""); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	payload := checkoutCompletedEvent(t, "evt_forged", "cs_forged", "user-sig", 99999)
	w := postWebhook(svc, payload, "t=123,v1=deadbeef")
	if w.Code != http.StatusOK {
		t.Fatalf("unverifiable delivery must still be acknowledged, got %d", w.Code)
	}

	acct, errGet := store.Get(ctx, "user-sig")
	if errGet != nil {
		t.Fatalf("Get: %v", errGet)
	}
	if acct.Balance != 0 {
		t.Fatalf("forged payload must credit nothing, got %d", acct.Balance)
	}
}

func TestHandleWebhook_UnknownAccountAcknowledged(t *testing.T) {
	svc, _ := newTestService(t)

	payload := checkoutCompletedEvent(t, "evt_ghost", "cs_ghost", "no-such-user", 5000)
	w := postWebhook(svc, payload, generateSignature(t, payload, testWebhookSecret))
	if w.Code != http.StatusOK {
		t.Fatalf("credit for unknown account must not trigger retries, got %d", w.Code)
	}
}

func TestHandleWebhook_IgnoredEventTypes(t *testing.T) {
	svc, _ := newTestService(t)

	payload := []byte(`{"id":"evt_exp","object":"event","api_version":"2023-10-16","type":"checkout.session.expired","data":{"object":{}}}`)
	w := postWebhook(svc, payload, generateSignature(t, payload, testWebhookSecret))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for expired session event, got %d", w.Code)
	}
}

func TestCreateCheckoutSession_RejectsBelowMinimum(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if _, err := store.EnsureAccount(ctx, "user-min", ""); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	if _, err := svc.CreateCheckoutSession(ctx, "user-min", "min@example.com", 100); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

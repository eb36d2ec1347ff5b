package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/modelarena/modelarena/internal/config"
	"github.com/modelarena/modelarena/internal/db"
	"github.com/modelarena/modelarena/internal/models"
	"github.com/modelarena/modelarena/internal/security"
	"github.com/modelarena/modelarena/internal/wallet"
)

var testJWT = config.JWTConfig{Secret: "admin-test-secret", Expiry: time.Hour}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:" + filepath.Join(t.TempDir(), "admin-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	router := gin.New()
	RegisterAdminRoutes(router, conn, testJWT)
	return router, conn
}

func createAdmin(t *testing.T, conn *gorm.DB, username, password string, active bool) {
	t.Helper()
	hashed, errHash := security.HashPassword(password)
	if errHash != nil {
		t.Fatalf("hash password: %v", errHash)
	}
	now := time.Now().UTC()
	admin := models.Admin{Username: username, Password: hashed, Active: active, CreatedAt: now, UpdatedAt: now}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}
}

func doJSON(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var raw []byte
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, router *gin.Engine, username, password string) string {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/v0/admin/login", "", gin.H{
		"username": username,
		"password": password,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login returned empty token")
	}
	return resp.Token
}

func TestLogin(t *testing.T) {
	router, conn := newTestRouter(t)
	createAdmin(t, conn, "admin", "password", true)

	login(t, router, "admin", "password")

	if w := doJSON(router, http.MethodPost, "/v0/admin/login", "", gin.H{
		"username": "admin", "password": "wrong",
	}); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", w.Code)
	}

	if w := doJSON(router, http.MethodPost, "/v0/admin/login", "", gin.H{
		"username": "nobody", "password": "password",
	}); w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown admin: expected 401, got %d", w.Code)
	}
}

func TestLogin_DisabledAdmin(t *testing.T) {
	router, conn := newTestRouter(t)
	createAdmin(t, conn, "sleeper", "password", false)

	if w := doJSON(router, http.MethodPost, "/v0/admin/login", "", gin.H{
		"username": "sleeper", "password": "password",
	}); w.Code != http.StatusForbidden {
		t.Fatalf("disabled admin: expected 403, got %d", w.Code)
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	router, conn := newTestRouter(t)
	createAdmin(t, conn, "admin", "password", true)

	if w := doJSON(router, http.MethodGet, "/v0/admin/accounts", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", w.Code)
	}
	if w := doJSON(router, http.MethodGet, "/v0/admin/accounts", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", w.Code)
	}

	token := login(t, router, "admin", "password")
	if w := doJSON(router, http.MethodGet, "/v0/admin/accounts", token, nil); w.Code != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAccountManagement(t *testing.T) {
	router, conn := newTestRouter(t)
	createAdmin(t, conn, "admin", "password", true)
	token := login(t, router, "admin", "password")

	store := wallet.NewGormStore(conn)
	if _, err := store.EnsureAccount(context.Background(), "user-1", "one@example.com"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	// Grant diamonds and upgrade the tier in one call.
	w := doJSON(router, http.MethodPost, "/v0/admin/accounts/user-1/diamonds", token, gin.H{
		"diamonds": 2500,
		"reason":   "support credit",
		"set_paid": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var grant struct {
		Balance int64  `json:"balance"`
		Tier    string `json:"tier"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &grant); err != nil {
		t.Fatalf("decode grant: %v", err)
	}
	if grant.Balance != 2500 || grant.Tier != string(models.TierPaid) {
		t.Fatalf("unexpected grant result: %+v", grant)
	}

	// The grant must appear in the account's ledger.
	w = doJSON(router, http.MethodGet, "/v0/admin/accounts/user-1", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get account: expected 200, got %d", w.Code)
	}
	var detail struct {
		Ledger struct {
			Total int64 `json:"total"`
		} `json:"ledger"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Ledger.Total != 1 {
		t.Fatalf("expected one ledger entry for the grant, got %d", detail.Ledger.Total)
	}

	w = doJSON(router, http.MethodPut, "/v0/admin/accounts/user-1/tier", token, gin.H{"tier": "free"})
	if w.Code != http.StatusOK {
		t.Fatalf("tier change: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	acct, errGet := store.Get(context.Background(), "user-1")
	if errGet != nil {
		t.Fatalf("Get: %v", errGet)
	}
	if acct.Tier != models.TierFree {
		t.Fatalf("expected tier downgraded to free, got %q", acct.Tier)
	}

	if w := doJSON(router, http.MethodPut, "/v0/admin/accounts/user-1/tier", token, gin.H{"tier": "platinum"}); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid tier: expected 400, got %d", w.Code)
	}
	if w := doJSON(router, http.MethodPost, "/v0/admin/accounts/ghost/diamonds", token, gin.H{"diamonds": 10}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown account: expected 404, got %d", w.Code)
	}
}

func TestAccountList_Filters(t *testing.T) {
	router, conn := newTestRouter(t)
	createAdmin(t, conn, "admin", "password", true)
	token := login(t, router, "admin", "password")

	store := wallet.NewGormStore(conn)
	for _, user := range []struct{ id, email string }{
		{"alice-1", "Alice@Example.com"},
		{"bob-2", "bob@example.com"},
	} {
		if _, err := store.EnsureAccount(context.Background(), user.id, user.email); err != nil {
			t.Fatalf("EnsureAccount %s: %v", user.id, err)
		}
	}

	w := doJSON(router, http.MethodGet, "/v0/admin/accounts?email=alice", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Accounts []struct {
			UserID string `json:"user_id"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Accounts) != 1 || resp.Accounts[0].UserID != "alice-1" {
		t.Fatalf("case-insensitive email filter failed: %+v", resp.Accounts)
	}
}

func TestSettingsCRUD(t *testing.T) {
	router, conn := newTestRouter(t)
	createAdmin(t, conn, "admin", "password", true)
	token := login(t, router, "admin", "password")

	w := doJSON(router, http.MethodPost, "/v0/admin/settings", token, gin.H{
		"key":   "SITE_BANNER",
		"value": "maintenance tonight",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Migration seeds RATE_LIMIT; creating it again must conflict.
	if w := doJSON(router, http.MethodPost, "/v0/admin/settings", token, gin.H{
		"key": "RATE_LIMIT", "value": 5,
	}); w.Code != http.StatusConflict {
		t.Fatalf("duplicate key: expected 409, got %d", w.Code)
	}

	if w := doJSON(router, http.MethodGet, "/v0/admin/settings/SITE_BANNER", token, nil); w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}

	if w := doJSON(router, http.MethodPut, "/v0/admin/settings/RATE_LIMIT", token, gin.H{"value": 10}); w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := doJSON(router, http.MethodPut, "/v0/admin/settings/RATE_LIMIT", token, gin.H{"value": -3}); w.Code != http.StatusBadRequest {
		t.Fatalf("negative rate limit: expected 400, got %d", w.Code)
	}
	if w := doJSON(router, http.MethodPut, "/v0/admin/settings/FREE_COOLDOWN_DAYS", token, gin.H{"value": 0}); w.Code != http.StatusBadRequest {
		t.Fatalf("zero cooldown: expected 400, got %d", w.Code)
	}

	if w := doJSON(router, http.MethodDelete, "/v0/admin/settings/SITE_BANNER", token, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	if w := doJSON(router, http.MethodGet, "/v0/admin/settings/SITE_BANNER", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", w.Code)
	}
}

func TestStatsSummary(t *testing.T) {
	router, conn := newTestRouter(t)
	createAdmin(t, conn, "admin", "password", true)
	token := login(t, router, "admin", "password")

	store := wallet.NewGormStore(conn)
	ctx := context.Background()
	if _, err := store.EnsureAccount(ctx, "user-s", ""); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if _, err := store.Credit(ctx, "user-s", wallet.CreditParams{Diamonds: 1000, SetPaid: true}); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if _, err := store.SettleDebit(ctx, "user-s", wallet.DebitParams{
		ModelID: "gpt-4", Action: models.ActionText, ActualCost: 200, TextTokens: 600,
	}); err != nil {
		t.Fatalf("SettleDebit: %v", err)
	}

	w := doJSON(router, http.MethodGet, "/v0/admin/stats?days=7", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ConsumeEntries   int64 `json:"consume_entries"`
		DiamondsConsumed int64 `json:"diamonds_consumed"`
		DiamondsCredited int64 `json:"diamonds_credited"`
		Accounts         int64 `json:"accounts"`
		PaidAccounts     int64 `json:"paid_accounts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ConsumeEntries != 1 || resp.DiamondsConsumed != 200 {
		t.Fatalf("consumption stats wrong: %+v", resp)
	}
	if resp.DiamondsCredited != 1000 {
		t.Fatalf("expected 1000 credited, got %d", resp.DiamondsCredited)
	}
	if resp.Accounts != 1 || resp.PaidAccounts != 1 {
		t.Fatalf("account counts wrong: %+v", resp)
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	if w := doJSON(router, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

package wallet

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelarena/modelarena/internal/db"
	"github.com/modelarena/modelarena/internal/models"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "wallet-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewGormStore(conn)
}

func TestEnsureAccount_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.EnsureAccount(ctx, "user-1", "one@example.com")
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if first.Tier != models.TierFree {
		t.Fatalf("expected new account on free tier, got %q", first.Tier)
	}
	if first.Balance != 0 {
		t.Fatalf("expected zero starting balance, got %d", first.Balance)
	}

	second, err := store.EnsureAccount(ctx, "user-1", "one@example.com")
	if err != nil {
		t.Fatalf("EnsureAccount again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same account, got IDs %d and %d", first.ID, second.ID)
	}
}

func TestEnsureAccount_EmptyUserID(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.EnsureAccount(context.Background(), "  ", ""); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGet_MissingAccount(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "nobody"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSettleDebit_ClampsAtZero(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnsureAccount(ctx, "user-clamp", ""); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if _, err := store.Credit(ctx, "user-clamp", CreditParams{Diamonds: 100}); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	result, err := store.SettleDebit(ctx, "user-clamp", DebitParams{
		ModelID:    "gpt-4",
		Action:     models.ActionText,
		ActualCost: 150,
		Estimated:  80,
		TextTokens: 443,
	})
	if err != nil {
		t.Fatalf("SettleDebit: %v", err)
	}
	if result.Settled != 100 {
		t.Fatalf("expected clamp to settle 100, got %d", result.Settled)
	}
	if result.NewBalance != 0 {
		t.Fatalf("expected zero balance after clamp, got %d", result.NewBalance)
	}

	// The ledger must record both the charged and the full actual cost.
	page, errList := store.ListLedger(ctx, "user-clamp", models.LedgerKindConsume, 10, 0)
	if errList != nil {
		t.Fatalf("ListLedger: %v", errList)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("expected one consume entry, got %d", len(page.Entries))
	}
	entry := page.Entries[0]
	if entry.Amount != 100 || entry.ActualCost != 150 || entry.EstimatedAmount != 80 {
		t.Fatalf("entry amounts wrong: amount=%d actual=%d estimated=%d", entry.Amount, entry.ActualCost, entry.EstimatedAmount)
	}
	if entry.BalanceBefore != 100 || entry.BalanceAfter != 0 {
		t.Fatalf("entry balances wrong: before=%d after=%d", entry.BalanceBefore, entry.BalanceAfter)
	}
}

func TestDebitStrict_RejectsWithoutMutation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnsureAccount(ctx, "user-strict", ""); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if _, err := store.Credit(ctx, "user-strict", CreditParams{Diamonds: 50}); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	_, err := store.DebitStrict(ctx, "user-strict", DebitParams{
		ModelID:    "dall-e-3",
		Action:     models.ActionImage,
		ActualCost: 580,
	})
	insufficient, ok := IsInsufficientBalance(err)
	if !ok {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficient.Required != 580 || insufficient.Current != 50 {
		t.Fatalf("error fields wrong: required=%d current=%d", insufficient.Required, insufficient.Current)
	}
	if insufficient.Shortfall() != 530 {
		t.Fatalf("expected shortfall 530, got %d", insufficient.Shortfall())
	}

	acct, errGet := store.Get(ctx, "user-strict")
	if errGet != nil {
		t.Fatalf("Get: %v", errGet)
	}
	if acct.Balance != 50 {
		t.Fatalf("rejected debit must not touch balance, got %d", acct.Balance)
	}
	page, errList := store.ListLedger(ctx, "user-strict", models.LedgerKindConsume, 10, 0)
	if errList != nil {
		t.Fatalf("ListLedger: %v", errList)
	}
	if len(page.Entries) != 0 {
		t.Fatalf("rejected debit must write no ledger entry, got %d", len(page.Entries))
	}
}

func TestDebitStrict_SecondDebitSeesCommittedBalance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnsureAccount(ctx, "user-race", ""); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if _, err := store.Credit(ctx, "user-race", CreditParams{Diamonds: 100}); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	params := DebitParams{ModelID: "gpt-4", Action: models.ActionText, ActualCost: 60}
	first, err := store.DebitStrict(ctx, "user-race", params)
	if err != nil {
		t.Fatalf("first DebitStrict: %v", err)
	}
	if first.NewBalance != 40 {
		t.Fatalf("expected balance 40 after first debit, got %d", first.NewBalance)
	}

	_, err = store.DebitStrict(ctx, "user-race", params)
	insufficient, ok := IsInsufficientBalance(err)
	if !ok {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficient.Required != 60 || insufficient.Current != 40 {
		t.Fatalf("second debit must see the committed balance: %+v", insufficient)
	}
}

func TestDebitStrict_ConcurrentDebitsSerialize(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnsureAccount(ctx, "user-conc", ""); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if _, err := store.Credit(ctx, "user-conc", CreditParams{Diamonds: 100}); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	// SQLite needs a single connection to serialize the two writers the
	// way the Postgres row lock does.
	sqlDB, errDB := store.db.DB()
	if errDB != nil {
		t.Fatalf("DB: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)

	params := DebitParams{ModelID: "gpt-4", Action: models.ActionText, ActualCost: 60}
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := store.DebitStrict(ctx, "user-conc", params)
			results <- err
		}()
	}

	var succeeded, rejected int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			succeeded++
			continue
		}
		if _, ok := IsInsufficientBalance(err); ok {
			rejected++
			continue
		}
		t.Fatalf("unexpected debit error: %v", err)
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("exactly one of two concurrent 60-diamond debits may land on a 100 balance, got %d succeeded / %d rejected", succeeded, rejected)
	}

	acct, errGet := store.Get(ctx, "user-conc")
	if errGet != nil {
		t.Fatalf("Get: %v", errGet)
	}
	if acct.Balance != 40 {
		t.Fatalf("balance %d, want 40 after one committed debit", acct.Balance)
	}

	page, errList := store.ListLedger(ctx, "user-conc", models.LedgerKindConsume, 10, 0)
	if errList != nil {
		t.Fatalf("ListLedger: %v", errList)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("exactly one consume entry must exist, got %d", len(page.Entries))
	}
}

func TestSettleDebit_MissingAccount(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SettleDebit(context.Background(), "ghost", DebitParams{ActualCost: 1})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestCredit_IdempotentByEventID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnsureAccount(ctx, "user-pay", "pay@example.com"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	params := CreditParams{
		Diamonds:  5000,
		EventID:   "evt_123",
		SessionID: "cs_456",
		EventType: "checkout.session.completed",
		SetPaid:   true,
	}
	acct, err := store.Credit(ctx, "user-pay", params)
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if acct.Balance != 5000 {
		t.Fatalf("expected balance 5000, got %d", acct.Balance)
	}
	if acct.Tier != models.TierPaid {
		t.Fatalf("expected tier upgrade to paid, got %q", acct.Tier)
	}

	// Stripe redelivers webhooks; the replay must credit nothing.
	if _, errReplay := store.Credit(ctx, "user-pay", params); !errors.Is(errReplay, ErrDuplicatePaymentEvent) {
		t.Fatalf("expected ErrDuplicatePaymentEvent, got %v", errReplay)
	}
	acct, err = store.Get(ctx, "user-pay")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if acct.Balance != 5000 {
		t.Fatalf("replay changed balance: %d", acct.Balance)
	}

	page, errList := store.ListLedger(ctx, "user-pay", models.LedgerKindPurchase, 10, 0)
	if errList != nil {
		t.Fatalf("ListLedger: %v", errList)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("expected single purchase entry, got %d", len(page.Entries))
	}
	if page.Entries[0].StripeSessionID != "cs_456" {
		t.Fatalf("expected session id recorded, got %q", page.Entries[0].StripeSessionID)
	}
}

func TestCredit_NonPositiveAmount(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Credit(context.Background(), "user-x", CreditParams{Diamonds: 0}); err == nil {
		t.Fatal("expected error for zero credit")
	}
}

func TestUsageCounters_MonthRollover(t *testing.T) {
	acct := models.Account{MonthKey: "2026-08", MonthlyTextTokens: 500, MonthlyImages: 2, TotalTextTokens: 500, TotalImages: 2}
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	applyUsage(&acct, 100, 1, now)

	if acct.MonthKey != "2026-09" {
		t.Fatalf("expected month key rolled to 2026-09, got %q", acct.MonthKey)
	}
	if acct.MonthlyTextTokens != 100 || acct.MonthlyImages != 1 {
		t.Fatalf("monthly counters not reset: tokens=%d images=%d", acct.MonthlyTextTokens, acct.MonthlyImages)
	}
	if acct.TotalTextTokens != 600 || acct.TotalImages != 3 {
		t.Fatalf("total counters wrong: tokens=%d images=%d", acct.TotalTextTokens, acct.TotalImages)
	}
}

func TestStatsSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnsureAccount(ctx, "user-stats", ""); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if _, err := store.Credit(ctx, "user-stats", CreditParams{Diamonds: 1000}); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if _, err := store.SettleDebit(ctx, "user-stats", DebitParams{
		ModelID: "gpt-4", Action: models.ActionText, ActualCost: 300, TextTokens: 900,
	}); err != nil {
		t.Fatalf("SettleDebit text: %v", err)
	}
	if _, err := store.SettleDebit(ctx, "user-stats", DebitParams{
		ModelID: "dall-e-3", Action: models.ActionImage, ActualCost: 580, Images: 1,
	}); err != nil {
		t.Fatalf("SettleDebit image: %v", err)
	}

	stats, err := store.StatsSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("StatsSince: %v", err)
	}
	if stats.Entries != 2 {
		t.Fatalf("expected 2 consume entries, got %d", stats.Entries)
	}
	if stats.DiamondsSpent != 880 {
		t.Fatalf("expected 880 diamonds spent, got %d", stats.DiamondsSpent)
	}
	if stats.DiamondsBought != 1000 {
		t.Fatalf("expected 1000 diamonds bought, got %d", stats.DiamondsBought)
	}
	if stats.TextTokens != 900 || stats.Images != 1 {
		t.Fatalf("usage totals wrong: tokens=%d images=%d", stats.TextTokens, stats.Images)
	}
}

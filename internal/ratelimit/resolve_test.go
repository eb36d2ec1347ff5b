package ratelimit

import (
	"testing"
	"time"

	"github.com/modelarena/modelarena/internal/models"
)

func TestResolveLimit(t *testing.T) {
	cfg := SettingsConfig{Limit: 2, PaidLimit: 10}

	free := models.Account{Tier: models.TierFree}
	if decision := ResolveLimit(&free, cfg); decision.Limit != 2 || decision.Scope != ScopeAccount {
		t.Fatalf("free tier: got %+v", decision)
	}

	paid := models.Account{Tier: models.TierPaid}
	if decision := ResolveLimit(&paid, cfg); decision.Limit != 10 {
		t.Fatalf("paid tier must use the paid limit, got %+v", decision)
	}

	if decision := ResolveLimit(nil, cfg); decision.Limit != 2 {
		t.Fatalf("nil account falls back to the default limit, got %+v", decision)
	}

	if decision := ResolveLimit(&free, SettingsConfig{Limit: 0}); decision != (Decision{}) {
		t.Fatalf("zero limit must disable the check, got %+v", decision)
	}
}

func TestKeyForDecision(t *testing.T) {
	account := Decision{Limit: 5, Scope: ScopeAccount}
	if got := KeyForDecision("user-1", account); got != "a:user-1" {
		t.Fatalf("account key: got %q", got)
	}

	model := Decision{Limit: 5, Scope: ScopeModel, ModelID: "gpt-4"}
	if got := KeyForDecision("user-1", model); got != "a:user-1:m:gpt-4" {
		t.Fatalf("model key: got %q", got)
	}

	if got := KeyForDecision("", account); got != "" {
		t.Fatalf("empty account must yield no key, got %q", got)
	}
	if got := KeyForDecision("user-1", Decision{}); got != "" {
		t.Fatalf("disabled decision must yield no key, got %q", got)
	}
	if got := KeyForDecision("user-1", Decision{Limit: 5, Scope: ScopeModel}); got != "" {
		t.Fatalf("model scope without model must yield no key, got %q", got)
	}
}

func TestManager_MemoryFallback(t *testing.T) {
	frozen := time.Unix(1_700_000_000, 0)
	manager := NewManager(func() SettingsConfig {
		return SettingsConfig{Limit: 1}
	}, func() time.Time { return frozen }, nil)

	result, err := manager.Allow(t.Context(), "a:user-1", 1)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !result.Allowed {
		t.Fatal("first request must be allowed")
	}

	result, err = manager.Allow(t.Context(), "a:user-1", 1)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if result.Allowed {
		t.Fatal("second request in the window must be blocked")
	}
}

func TestManager_AllowAccount(t *testing.T) {
	frozen := time.Unix(1_700_000_000, 0)
	manager := NewManager(func() SettingsConfig {
		return SettingsConfig{Limit: 1, PaidLimit: 2}
	}, func() time.Time { return frozen }, nil)

	free := models.Account{UserID: "user-free", Tier: models.TierFree}
	if result, err := manager.AllowAccount(t.Context(), &free); err != nil || !result.Allowed {
		t.Fatalf("first free request: allowed=%v err=%v", result.Allowed, err)
	}
	if result, _ := manager.AllowAccount(t.Context(), &free); result.Allowed {
		t.Fatal("second free request in the window must be blocked")
	}

	// The paid tier gets its own higher limit on its own counter.
	paid := models.Account{UserID: "user-paid", Tier: models.TierPaid}
	for i := 0; i < 2; i++ {
		if result, _ := manager.AllowAccount(t.Context(), &paid); !result.Allowed {
			t.Fatalf("paid request %d within the paid limit must pass", i)
		}
	}
	if result, _ := manager.AllowAccount(t.Context(), &paid); result.Allowed {
		t.Fatal("third paid request in the window must be blocked")
	}
}

func TestManager_AllowAccount_DisabledLimit(t *testing.T) {
	manager := NewManager(func() SettingsConfig {
		return SettingsConfig{Limit: 0}
	}, nil, nil)

	acct := models.Account{UserID: "user-1", Tier: models.TierFree}
	for i := 0; i < 10; i++ {
		if result, err := manager.AllowAccount(t.Context(), &acct); err != nil || !result.Allowed {
			t.Fatalf("disabled limit must always allow, got allowed=%v err=%v", result.Allowed, err)
		}
	}
}

func TestManager_SettingsSnapshotCached(t *testing.T) {
	var loads int
	current := time.Unix(1_700_000_000, 0)
	manager := NewManager(func() SettingsConfig {
		loads++
		return SettingsConfig{Limit: 100}
	}, func() time.Time { return current }, nil)

	acct := models.Account{UserID: "user-1", Tier: models.TierFree}
	for i := 0; i < 5; i++ {
		if _, err := manager.AllowAccount(t.Context(), &acct); err != nil {
			t.Fatalf("AllowAccount %d: %v", i, err)
		}
	}
	if loads != 1 {
		t.Fatalf("settings loaded %d times inside the refresh interval, want 1", loads)
	}

	current = current.Add(settingsRefreshInterval)
	if _, err := manager.AllowAccount(t.Context(), &acct); err != nil {
		t.Fatalf("AllowAccount after interval: %v", err)
	}
	if loads != 2 {
		t.Fatalf("stale snapshot must reload once, loads = %d", loads)
	}
}

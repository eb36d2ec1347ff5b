package ratelimit

import (
	"github.com/modelarena/modelarena/internal/models"
)

// ResolveLimit resolves the effective per-second generation limit for an
// account. Paid accounts use the paid limit when one is configured,
// otherwise the shared default applies. A limit of zero disables the check.
func ResolveLimit(acct *models.Account, cfg SettingsConfig) Decision {
	limit := cfg.Limit
	if acct != nil && acct.Tier == models.TierPaid {
		limit = cfg.PaidLimit
	}
	if limit <= 0 {
		return Decision{}
	}
	return Decision{Limit: limit, Scope: ScopeAccount}
}

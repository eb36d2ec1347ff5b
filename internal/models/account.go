package models

import "time"

// AccountTier classifies how an account is gated.
type AccountTier string

// AccountTier values.
const (
	// TierFree accounts are gated by the free-use cooldown.
	TierFree AccountTier = "free"
	// TierPaid accounts are gated purely by diamond balance.
	TierPaid AccountTier = "paid"
)

// Account is the authoritative per-user diamond balance record.
//
// Balance is mutated only inside wallet transactions; no other code path
// may read-then-write it.
type Account struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID string `gorm:"type:text;not null;uniqueIndex"` // Opaque identity-provider user ID.
	Email  string `gorm:"type:text"`                      // Email address, if known.

	Balance int64       `gorm:"not null;default:0"`                 // Diamond balance, never negative.
	Tier    AccountTier `gorm:"type:varchar(16);not null;default:'free'"` // Account tier.

	TotalTextTokens int64 `gorm:"not null;default:0"` // Lifetime text tokens billed.
	TotalImages     int64 `gorm:"not null;default:0"` // Lifetime images billed.

	MonthKey          string `gorm:"type:varchar(7);not null;default:''"` // Current usage month, YYYY-MM.
	MonthlyTextTokens int64  `gorm:"not null;default:0"`                  // Text tokens billed this month.
	MonthlyImages     int64  `gorm:"not null;default:0"`                  // Images billed this month.

	LastFreeUseAt *time.Time `gorm:"type:timestamp"` // Last free-tier use, nil if never used.

	StripeCustomerID string `gorm:"type:text"` // Stripe customer, created lazily on first purchase.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// LedgerKind distinguishes ledger entry types.
type LedgerKind string

// LedgerKind values.
const (
	// LedgerKindConsume records a generation debit.
	LedgerKindConsume LedgerKind = "consume"
	// LedgerKindPurchase records a diamond credit.
	LedgerKindPurchase LedgerKind = "purchase"
)

// ActionType identifies what kind of generation was billed.
type ActionType string

// ActionType values.
const (
	// ActionText is a text generation.
	ActionText ActionType = "text"
	// ActionImage is an image generation.
	ActionImage ActionType = "image"
)

// LedgerEntry is an immutable audit record of one balance mutation.
//
// Entries are created in the same transaction as the Account mutation they
// document and are never updated or deleted.
type LedgerEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EntryID string `gorm:"type:text;not null;uniqueIndex"` // Opaque unique entry identifier.

	AccountID uint64  `gorm:"not null;index"`       // Related account ID.
	Account   Account `gorm:"foreignKey:AccountID"` // Related account record.

	Kind    LedgerKind `gorm:"type:varchar(16);not null;index"` // Consume or purchase.
	ModelID string     `gorm:"type:text"`                       // Provider model identifier, consume only.
	Action  ActionType `gorm:"type:varchar(16)"`                // Text or image, consume only.

	BalanceBefore int64 `gorm:"not null"` // Balance before the mutation.
	BalanceAfter  int64 `gorm:"not null"` // Balance after the mutation.
	Amount        int64 `gorm:"not null"` // Diamonds actually debited or credited.

	EstimatedAmount int64 `gorm:"not null;default:0"` // Preflight estimate, consume only.
	ActualCost      int64 `gorm:"not null;default:0"` // Full recomputed cost before clamping.

	TextTokens int64 `gorm:"not null;default:0"` // Billed token count.
	Images     int64 `gorm:"not null;default:0"` // Billed image count.

	StripeSessionID string `gorm:"type:text;index"` // Checkout session, purchase only.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Request metadata.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}

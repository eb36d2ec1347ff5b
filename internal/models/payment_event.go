package models

import "time"

// ProcessedPaymentEvent marks a payment webhook event as handled.
//
// The unique index on EventID is the idempotency guard: the marker is
// inserted in the same transaction as the balance credit, so a replayed
// event fails the insert and credits nothing.
type ProcessedPaymentEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EventID   string `gorm:"type:text;not null;uniqueIndex"` // External payment event ID.
	SessionID string `gorm:"type:text"`                      // Checkout session ID.
	EventType string `gorm:"type:text"`                      // External event type.

	AccountID uint64 `gorm:"index"`              // Credited account, zero if none.
	Diamonds  int64  `gorm:"not null;default:0"` // Diamonds credited.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Processing timestamp.
}

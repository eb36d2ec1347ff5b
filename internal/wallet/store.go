// Package wallet owns the diamond balance of every account.
//
// All balance mutation runs through GormStore transactions: the account
// row is locked, the new balance and its ledger entry commit atomically,
// and a rejection aborts with no writes. No other package reads-then-
// writes a balance.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelarena/modelarena/internal/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists accounts and ledger entries via GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

// TxFunc mutates a locked account and returns the ledger entry documenting
// the mutation, or an error to abort the transaction. tx is the open
// transaction for additional writes that must commit atomically with the
// balance change.
type TxFunc func(tx *gorm.DB, acct *models.Account) (*models.LedgerEntry, error)

// Transact runs fn against the account row locked for update.
//
// The account save and the ledger insert are all-or-nothing and serialized
// with any concurrent transaction on the same account.
func (s *GormStore) Transact(ctx context.Context, userID string, fn TxFunc) (models.Account, error) {
	if s == nil || s.db == nil {
		return models.Account{}, fmt.Errorf("wallet: store not initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.Account{}, ErrAccountNotFound
	}

	var result models.Account
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct models.Account
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&acct).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return errFind
		}

		entry, errFn := fn(tx, &acct)
		if errFn != nil {
			return errFn
		}
		if acct.Balance < 0 {
			return fmt.Errorf("wallet: negative balance for %s", userID)
		}

		acct.UpdatedAt = time.Now().UTC()
		if errSave := tx.Save(&acct).Error; errSave != nil {
			return errSave
		}
		if entry != nil {
			entry.AccountID = acct.ID
			if entry.EntryID == "" {
				entry.EntryID = uuid.NewString()
			}
			if errCreate := tx.Create(entry).Error; errCreate != nil {
				return errCreate
			}
		}
		result = acct
		return nil
	})
	if errTx != nil {
		return models.Account{}, errTx
	}
	return result, nil
}

// EnsureAccount loads the account for a user, creating it on first touch.
//
// Creation happens here, at authentication time, never inside a billing
// transaction.
func (s *GormStore) EnsureAccount(ctx context.Context, userID, email string) (models.Account, error) {
	if s == nil || s.db == nil {
		return models.Account{}, fmt.Errorf("wallet: store not initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.Account{}, ErrAccountNotFound
	}

	var acct models.Account
	errFind := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&acct).Error
	if errFind == nil {
		return acct, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return models.Account{}, errFind
	}

	now := time.Now().UTC()
	acct = models.Account{
		UserID:    userID,
		Email:     strings.TrimSpace(email),
		Balance:   0,
		Tier:      models.TierFree,
		MonthKey:  monthKey(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&acct).Error; errCreate != nil {
		return models.Account{}, errCreate
	}
	// Re-read in case a concurrent request won the insert race.
	if errReload := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&acct).Error; errReload != nil {
		return models.Account{}, errReload
	}
	return acct, nil
}

// Get returns the account for advisory reads such as preflight checks.
func (s *GormStore) Get(ctx context.Context, userID string) (models.Account, error) {
	if s == nil || s.db == nil {
		return models.Account{}, fmt.Errorf("wallet: store not initialized")
	}
	var acct models.Account
	if errFind := s.db.WithContext(ctx).Where("user_id = ?", strings.TrimSpace(userID)).First(&acct).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Account{}, ErrAccountNotFound
		}
		return models.Account{}, errFind
	}
	return acct, nil
}

// DebitParams describes an authoritative debit.
type DebitParams struct {
	ModelID    string
	Action     models.ActionType
	ActualCost int64 // Full recomputed cost before clamping.
	Estimated  int64 // Preflight estimate, recorded for audit.
	TextTokens int64
	Images     int64
	Metadata   map[string]any
}

// DebitResult reports the outcome of a settled debit.
type DebitResult struct {
	Settled    int64 // Diamonds actually taken.
	NewBalance int64
	EntryID    string
}

// SettleDebit debits the actual cost clamped so the balance never goes
// negative.
//
// The advisory preflight can race concurrent requests past it; this clamp
// is the sole correctness guarantee, at the cost of under-collecting when
// the last settling request exceeds the remaining balance.
func (s *GormStore) SettleDebit(ctx context.Context, userID string, p DebitParams) (DebitResult, error) {
	return s.debit(ctx, userID, p, false)
}

// DebitStrict debits the full cost or rejects with
// InsufficientBalanceError, mutating nothing.
func (s *GormStore) DebitStrict(ctx context.Context, userID string, p DebitParams) (DebitResult, error) {
	return s.debit(ctx, userID, p, true)
}

func (s *GormStore) debit(ctx context.Context, userID string, p DebitParams, strict bool) (DebitResult, error) {
	if p.ActualCost < 0 {
		return DebitResult{}, fmt.Errorf("wallet: negative debit amount %d", p.ActualCost)
	}

	var result DebitResult
	_, errTx := s.Transact(ctx, userID, func(_ *gorm.DB, acct *models.Account) (*models.LedgerEntry, error) {
		if strict && acct.Balance < p.ActualCost {
			return nil, &InsufficientBalanceError{Required: p.ActualCost, Current: acct.Balance}
		}

		before := acct.Balance
		settled := p.ActualCost
		if settled > before {
			settled = before
		}
		acct.Balance = before - settled
		applyUsage(acct, p.TextTokens, p.Images, time.Now().UTC())

		entry := &models.LedgerEntry{
			EntryID:         uuid.NewString(),
			Kind:            models.LedgerKindConsume,
			ModelID:         p.ModelID,
			Action:          p.Action,
			BalanceBefore:   before,
			BalanceAfter:    acct.Balance,
			Amount:          settled,
			EstimatedAmount: p.Estimated,
			ActualCost:      p.ActualCost,
			TextTokens:      p.TextTokens,
			Images:          p.Images,
			Metadata:        marshalMetadata(p.Metadata),
			CreatedAt:       time.Now().UTC(),
		}
		result = DebitResult{Settled: settled, NewBalance: acct.Balance, EntryID: entry.EntryID}
		return entry, nil
	})
	if errTx != nil {
		return DebitResult{}, errTx
	}
	return result, nil
}

// CreditParams describes a diamond credit.
type CreditParams struct {
	Diamonds  int64
	EventID   string // External payment event ID; empty for admin grants.
	SessionID string
	EventType string
	SetPaid   bool
	Metadata  map[string]any
}

// Credit adds diamonds to the balance and writes a purchase ledger entry.
//
// When EventID is set, a ProcessedPaymentEvent marker is inserted in the
// same transaction; a replayed event returns ErrDuplicatePaymentEvent and
// credits nothing.
func (s *GormStore) Credit(ctx context.Context, userID string, p CreditParams) (models.Account, error) {
	if p.Diamonds <= 0 {
		return models.Account{}, fmt.Errorf("wallet: non-positive credit amount %d", p.Diamonds)
	}

	return s.Transact(ctx, userID, func(tx *gorm.DB, acct *models.Account) (*models.LedgerEntry, error) {
		if p.EventID != "" {
			processed, errCheck := markEventProcessed(tx, acct, p)
			if errCheck != nil {
				return nil, errCheck
			}
			if processed {
				return nil, ErrDuplicatePaymentEvent
			}
		}

		before := acct.Balance
		acct.Balance = before + p.Diamonds
		if p.SetPaid {
			acct.Tier = models.TierPaid
		}

		return &models.LedgerEntry{
			EntryID:         uuid.NewString(),
			Kind:            models.LedgerKindPurchase,
			BalanceBefore:   before,
			BalanceAfter:    acct.Balance,
			Amount:          p.Diamonds,
			StripeSessionID: p.SessionID,
			Metadata:        marshalMetadata(p.Metadata),
			CreatedAt:       time.Now().UTC(),
		}, nil
	})
}

// markEventProcessed inserts the idempotency marker inside the open
// transaction. Returns true when the event was already handled.
func markEventProcessed(tx *gorm.DB, acct *models.Account, p CreditParams) (bool, error) {
	marker := models.ProcessedPaymentEvent{
		EventID:   p.EventID,
		SessionID: p.SessionID,
		EventType: p.EventType,
		AccountID: acct.ID,
		Diamonds:  p.Diamonds,
		CreatedAt: time.Now().UTC(),
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&marker)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 0, nil
}

// applyUsage increments reporting counters, rolling the monthly window.
func applyUsage(acct *models.Account, textTokens, images int64, now time.Time) {
	acct.TotalTextTokens += textTokens
	acct.TotalImages += images

	key := monthKey(now)
	if acct.MonthKey != key {
		acct.MonthKey = key
		acct.MonthlyTextTokens = 0
		acct.MonthlyImages = 0
	}
	acct.MonthlyTextTokens += textTokens
	acct.MonthlyImages += images
}

func monthKey(now time.Time) string {
	return now.UTC().Format("2006-01")
}

func marshalMetadata(metadata map[string]any) datatypes.JSON {
	if len(metadata) == 0 {
		return nil
	}
	raw, errMarshal := json.Marshal(metadata)
	if errMarshal != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

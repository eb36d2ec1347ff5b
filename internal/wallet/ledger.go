package wallet

import (
	"context"
	"strings"
	"time"

	"github.com/modelarena/modelarena/internal/models"

	"gorm.io/gorm"
)

// LedgerPage is one page of ledger entries, newest first.
type LedgerPage struct {
	Entries []models.LedgerEntry
	Total   int64
}

// ListLedger returns ledger entries for one account, newest first.
func (s *GormStore) ListLedger(ctx context.Context, userID string, kind models.LedgerKind, limit, offset int) (LedgerPage, error) {
	acct, errGet := s.Get(ctx, userID)
	if errGet != nil {
		return LedgerPage{}, errGet
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("account_id = ?", acct.ID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		return LedgerPage{}, errCount
	}

	var entries []models.LedgerEntry
	if errFind := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&entries).Error; errFind != nil {
		return LedgerPage{}, errFind
	}
	return LedgerPage{Entries: entries, Total: total}, nil
}

// ConsumptionStats aggregates consume entries for reporting.
type ConsumptionStats struct {
	Entries        int64
	DiamondsSpent  int64
	TextTokens     int64
	Images         int64
	DiamondsBought int64
}

// StatsSince aggregates ledger activity across all accounts after a cutoff.
func (s *GormStore) StatsSince(ctx context.Context, since time.Time) (ConsumptionStats, error) {
	var stats ConsumptionStats

	row := struct {
		Entries    int64
		Amount     int64
		TextTokens int64
		Images     int64
	}{}
	if errScan := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("kind = ? AND created_at >= ?", models.LedgerKindConsume, since).
		Select("COUNT(*) AS entries, COALESCE(SUM(amount), 0) AS amount, COALESCE(SUM(text_tokens), 0) AS text_tokens, COALESCE(SUM(images), 0) AS images").
		Scan(&row).Error; errScan != nil {
		return ConsumptionStats{}, errScan
	}
	stats.Entries = row.Entries
	stats.DiamondsSpent = row.Amount
	stats.TextTokens = row.TextTokens
	stats.Images = row.Images

	var bought int64
	if errScan := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("kind = ? AND created_at >= ?", models.LedgerKindPurchase, since).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&bought).Error; errScan != nil {
		return ConsumptionStats{}, errScan
	}
	stats.DiamondsBought = bought
	return stats, nil
}

// SetStripeCustomerID persists a lazily created payment customer reference.
func (s *GormStore) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil
	}
	_, errTx := s.Transact(ctx, userID, func(_ *gorm.DB, acct *models.Account) (*models.LedgerEntry, error) {
		acct.StripeCustomerID = customerID
		return nil, nil
	})
	return errTx
}

package wallet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelarena/modelarena/internal/models"
	internalsettings "github.com/modelarena/modelarena/internal/settings"

	"gorm.io/gorm"
)

// CooldownDecision reports whether a free-tier account may generate now.
type CooldownDecision struct {
	Allowed         bool
	NextAvailableAt time.Time
}

// cooldownDays returns the free-tier cooldown window, settings-overridable.
func cooldownDays() int {
	days := internalsettings.DefaultFreeCooldownDays
	if raw, ok := internalsettings.DBConfigValue(internalsettings.FreeCooldownDaysKey); ok {
		var parsed int
		if errUnmarshal := json.Unmarshal(raw, &parsed); errUnmarshal == nil && parsed > 0 {
			days = parsed
		}
	}
	return days
}

// CanUse checks the free-tier cooldown without consuming it.
//
// Paid accounts are always allowed; balance sufficiency is enforced by the
// metering engine, not here.
func CanUse(acct models.Account, now time.Time) CooldownDecision {
	if acct.Tier == models.TierPaid {
		return CooldownDecision{Allowed: true}
	}
	if acct.LastFreeUseAt == nil {
		return CooldownDecision{Allowed: true}
	}
	window := time.Duration(cooldownDays()) * 24 * time.Hour
	next := acct.LastFreeUseAt.Add(window)
	if now.Before(next) {
		return CooldownDecision{Allowed: false, NextAvailableAt: next}
	}
	return CooldownDecision{Allowed: true}
}

// TryConsumeFreeUse atomically checks the cooldown and stamps the use.
//
// Check and record are one operation so a caller cannot forget the stamp.
func (s *GormStore) TryConsumeFreeUse(ctx context.Context, userID string, now time.Time) (CooldownDecision, error) {
	var decision CooldownDecision
	_, errTx := s.Transact(ctx, userID, func(_ *gorm.DB, acct *models.Account) (*models.LedgerEntry, error) {
		decision = CanUse(*acct, now)
		if !decision.Allowed {
			return nil, errCooldownActive
		}
		stamp := now.UTC()
		acct.LastFreeUseAt = &stamp
		return nil, nil
	})
	if errTx != nil {
		if errTx == errCooldownActive {
			return decision, nil
		}
		return CooldownDecision{}, errTx
	}
	return decision, nil
}

// errCooldownActive aborts the stamping transaction without surfacing an
// error to the caller.
var errCooldownActive = errSentinel("wallet: free-use cooldown active")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

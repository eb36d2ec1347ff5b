package wallet

import (
	"errors"
	"fmt"
)

// ErrAccountNotFound indicates a billing transaction referenced a missing
// account. Accounts are never created inside billing transactions.
var ErrAccountNotFound = errors.New("wallet: account not found")

// ErrDuplicatePaymentEvent indicates the idempotency guard tripped; the
// caller should treat it as a successful no-op.
var ErrDuplicatePaymentEvent = errors.New("wallet: payment event already processed")

// InsufficientBalanceError reports a rejected debit with the exact
// shortfall so callers can prompt a top-up.
type InsufficientBalanceError struct {
	Required int64
	Current  int64
}

// Error implements the error interface.
func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("wallet: insufficient balance: required %d, current %d", e.Required, e.Current)
}

// Shortfall returns how many diamonds are missing.
func (e *InsufficientBalanceError) Shortfall() int64 {
	return e.Required - e.Current
}

// IsInsufficientBalance reports whether err is an insufficient balance
// rejection and returns it when so.
func IsInsufficientBalance(err error) (*InsufficientBalanceError, bool) {
	var target *InsufficientBalanceError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Package metering runs the check, generate, settle cycle for one
// generation request.
//
// A request moves through estimate, advisory preflight, generation, and
// settlement. Money is only taken at settlement, for usage that was
// actually produced: provider failures, timeouts, and cancelled streams
// debit nothing. Database transactions never span the provider call.
package metering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelarena/modelarena/internal/models"
	"github.com/modelarena/modelarena/internal/pricing"
	"github.com/modelarena/modelarena/internal/provider"
	"github.com/modelarena/modelarena/internal/wallet"

	log "github.com/sirupsen/logrus"
)

// defaultGenerationTimeout bounds a single provider call.
const defaultGenerationTimeout = 120 * time.Second

// ProviderFailure wraps a generation collaborator error for one model so a
// multi-model fan-out can report it without aborting siblings.
type ProviderFailure struct {
	ModelID string
	Err     error
}

// Error implements the error interface.
func (e *ProviderFailure) Error() string {
	return fmt.Sprintf("metering: provider %s failed: %v", e.ModelID, e.Err)
}

// Unwrap exposes the underlying provider error.
func (e *ProviderFailure) Unwrap() error { return e.Err }

// Engine coordinates pricing, the wallet, and the provider registry.
type Engine struct {
	wallet   *wallet.GormStore
	registry *provider.Registry
	timeout  time.Duration
}

// NewEngine constructs an Engine.
func NewEngine(walletStore *wallet.GormStore, registry *provider.Registry) *Engine {
	return &Engine{wallet: walletStore, registry: registry, timeout: defaultGenerationTimeout}
}

// Request describes one generation to meter.
type Request struct {
	UserID   string // Empty for anonymous callers, which skip metering.
	ModelID  string
	Action   models.ActionType
	Prompt   string
	Metadata map[string]any
}

// Outcome reports a settled generation.
type Outcome struct {
	Content       string
	Tokens        int64
	Images        int64
	EstimatedCost int64
	ActualCost    int64
	Settled       int64
	NewBalance    int64
	Metered       bool
}

// estimate computes the preflight diamond cost for a request.
func (e *Engine) estimate(req Request) int64 {
	if req.Action == models.ActionImage {
		return pricing.CostForImage(req.ModelID)
	}
	return pricing.EstimateTextCost(req.ModelID, req.Prompt)
}

// preflight performs the advisory balance check before any provider cost
// is incurred. The read is non-transactional: the clamp at settlement is
// the authoritative guarantee.
func (e *Engine) preflight(ctx context.Context, req Request, estimated int64) error {
	if req.UserID == "" {
		return nil
	}
	acct, errGet := e.wallet.Get(ctx, req.UserID)
	if errGet != nil {
		return errGet
	}
	if acct.Balance < estimated {
		return &wallet.InsufficientBalanceError{Required: estimated, Current: acct.Balance}
	}
	return nil
}

// Generate runs a non-streaming generation end to end.
func (e *Engine) Generate(ctx context.Context, req Request) (Outcome, error) {
	estimated := e.estimate(req)
	if errPreflight := e.preflight(ctx, req, estimated); errPreflight != nil {
		return Outcome{}, errPreflight
	}

	gen, errResolve := e.registry.Resolve(req.ModelID)
	if errResolve != nil {
		return Outcome{}, errResolve
	}

	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, errGen := gen.Generate(genCtx, req.ModelID, req.Prompt)
	if errGen != nil {
		return Outcome{}, &ProviderFailure{ModelID: req.ModelID, Err: errGen}
	}

	return e.settle(ctx, req, estimated, result.Content, result.Usage)
}

// GenerateStream runs a streaming generation, accruing usage in acc and
// billing once at stream end.
func (e *Engine) GenerateStream(ctx context.Context, req Request, acc *UsageAccumulator, onChunk provider.ChunkFunc) (Outcome, error) {
	if acc == nil {
		acc = &UsageAccumulator{}
	}

	estimated := e.estimate(req)
	if errPreflight := e.preflight(ctx, req, estimated); errPreflight != nil {
		return Outcome{}, errPreflight
	}

	gen, errResolve := e.registry.Resolve(req.ModelID)
	if errResolve != nil {
		return Outcome{}, errResolve
	}

	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, errGen := gen.GenerateStream(genCtx, req.ModelID, req.Prompt, func(content string) error {
		acc.ObserveChunk(content)
		return onChunk(content)
	})
	if errGen != nil {
		// Cancelled or failed streams are never billed, even though
		// partial content may have reached the client.
		acc.Finalize()
		return Outcome{}, &ProviderFailure{ModelID: req.ModelID, Err: errGen}
	}

	acc.RecordFinalUsage(result.Usage)
	return e.settle(ctx, req, estimated, result.Content, acc.Finalize())
}

// settle recomputes actual cost from real usage and performs the
// authoritative clamped debit with its ledger entry.
func (e *Engine) settle(ctx context.Context, req Request, estimated int64, content string, usage provider.Usage) (Outcome, error) {
	outcome := Outcome{
		Content:       content,
		Tokens:        usage.Tokens,
		Images:        usage.Images,
		EstimatedCost: estimated,
	}

	if req.UserID == "" {
		return outcome, nil
	}

	var actual int64
	if req.Action == models.ActionImage {
		actual = pricing.CostForImage(req.ModelID)
	} else {
		actual = pricing.CostForText(req.ModelID, usage.Tokens)
	}
	outcome.ActualCost = actual

	// The client may have disconnected while the provider finished;
	// produced output is still billed, so the debit runs on a context
	// the request cannot cancel.
	debit, errDebit := e.wallet.SettleDebit(context.WithoutCancel(ctx), req.UserID, wallet.DebitParams{
		ModelID:    req.ModelID,
		Action:     req.Action,
		ActualCost: actual,
		Estimated:  estimated,
		TextTokens: usage.Tokens,
		Images:     usage.Images,
		Metadata:   req.Metadata,
	})
	if errDebit != nil {
		if errors.Is(errDebit, wallet.ErrAccountNotFound) {
			return Outcome{}, errDebit
		}
		log.WithError(errDebit).WithFields(log.Fields{
			"user_id": req.UserID,
			"model":   req.ModelID,
		}).Error("metering: settlement failed")
		return Outcome{}, errDebit
	}

	outcome.Settled = debit.Settled
	outcome.NewBalance = debit.NewBalance
	outcome.Metered = true

	log.WithFields(log.Fields{
		"user_id":   req.UserID,
		"model":     req.ModelID,
		"action":    req.Action,
		"estimated": estimated,
		"actual":    actual,
		"settled":   debit.Settled,
		"balance":   debit.NewBalance,
	}).Info("metering: settled")
	return outcome, nil
}

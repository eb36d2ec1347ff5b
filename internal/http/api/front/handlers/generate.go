package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/modelarena/modelarena/internal/auth"
	"github.com/modelarena/modelarena/internal/metering"
	"github.com/modelarena/modelarena/internal/models"
	"github.com/modelarena/modelarena/internal/provider"
	"github.com/modelarena/modelarena/internal/wallet"
)

const maxFanOutModels = 8

// PromptConverter optionally rewrites an image prompt before generation.
type PromptConverter func(ctx context.Context, prompt string) (string, error)

// GenerateHandler serves the multi-model generation endpoints.
type GenerateHandler struct {
	wallet    *wallet.GormStore
	engine    *metering.Engine
	registry  *provider.Registry
	converter PromptConverter
}

// NewGenerateHandler constructs a GenerateHandler.
func NewGenerateHandler(w *wallet.GormStore, engine *metering.Engine, registry *provider.Registry) *GenerateHandler {
	return &GenerateHandler{wallet: w, engine: engine, registry: registry}
}

// SetPromptConverter installs the image prompt rewrite hook.
func (h *GenerateHandler) SetPromptConverter(fn PromptConverter) {
	h.converter = fn
}

type generateRequest struct {
	Models []string `json:"models" binding:"required"`
	Prompt string   `json:"prompt" binding:"required"`
}

// ModelResult is the per-model outcome of a fan-out generation.
type ModelResult struct {
	Model            string `json:"model"`
	Content          string `json:"content,omitempty"`
	Tokens           int64  `json:"tokens,omitempty"`
	Images           int64  `json:"images,omitempty"`
	DiamondsConsumed int64  `json:"diamonds_consumed"`
	Balance          int64  `json:"balance,omitempty"`
	Metered          bool   `json:"metered"`
	Error            string `json:"error,omitempty"`
	ErrorKind        string `json:"error_kind,omitempty"`
	Required         int64  `json:"required,omitempty"`
	Current          int64  `json:"current,omitempty"`
	Shortfall        int64  `json:"shortfall,omitempty"`
}

// Models lists the model identifiers available for generation.
func (h *GenerateHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.registry.Models()})
}

// Chat runs a prompt against several text models and returns every
// result; one model's failure never hides the others.
func (h *GenerateHandler) Chat(c *gin.Context) {
	var req generateRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "models and prompt are required"})
		return
	}
	if len(req.Models) == 0 || len(req.Models) > maxFanOutModels {
		c.JSON(http.StatusBadRequest, gin.H{"error": "between 1 and 8 models per request"})
		return
	}

	meteredUser, ok := h.gateRequest(c)
	if !ok {
		return
	}

	results := h.fanOut(c.Request.Context(), meteredUser, models.ActionText, req.Models, req.Prompt)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Images runs a prompt against several image models. When a prompt
// converter is installed the prompt is rewritten once, before fan-out.
func (h *GenerateHandler) Images(c *gin.Context) {
	var req generateRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "models and prompt are required"})
		return
	}
	if len(req.Models) == 0 || len(req.Models) > maxFanOutModels {
		c.JSON(http.StatusBadRequest, gin.H{"error": "between 1 and 8 models per request"})
		return
	}

	meteredUser, ok := h.gateRequest(c)
	if !ok {
		return
	}

	prompt := req.Prompt
	if h.converter != nil {
		converted, errConvert := h.converter(c.Request.Context(), prompt)
		if errConvert != nil {
			log.WithError(errConvert).Warn("generate: prompt conversion failed, using original prompt")
		} else if converted != "" {
			prompt = converted
		}
	}

	results := h.fanOut(c.Request.Context(), meteredUser, models.ActionImage, req.Models, prompt)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type streamEvent struct {
	Type    string       `json:"type"`
	Model   string       `json:"model"`
	Content string       `json:"content,omitempty"`
	Result  *ModelResult `json:"result,omitempty"`
}

// ChatStream streams fan-out text generation over SSE. Each event carries
// the model it belongs to; a failed model emits an error event while its
// siblings keep streaming.
func (h *GenerateHandler) ChatStream(c *gin.Context) {
	var req generateRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "models and prompt are required"})
		return
	}
	if len(req.Models) == 0 || len(req.Models) > maxFanOutModels {
		c.JSON(http.StatusBadRequest, gin.H{"error": "between 1 and 8 models per request"})
		return
	}

	meteredUser, ok := h.gateRequest(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	events := make(chan streamEvent, 16)

	go func() {
		defer close(events)
		var wg sync.WaitGroup
		for _, modelID := range req.Models {
			wg.Add(1)
			go func(modelID string) {
				defer wg.Done()
				acc := &metering.UsageAccumulator{}
				outcome, errGen := h.engine.GenerateStream(ctx, metering.Request{
					UserID:  meteredUser,
					ModelID: modelID,
					Action:  models.ActionText,
					Prompt:  req.Prompt,
				}, acc, func(chunk string) error {
					select {
					case events <- streamEvent{Type: "chunk", Model: modelID, Content: chunk}:
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				})
				result := toModelResult(modelID, outcome, errGen)
				eventType := "complete"
				if errGen != nil {
					eventType = "error"
				}
				select {
				case events <- streamEvent{Type: eventType, Model: modelID, Result: &result}:
				case <-ctx.Done():
				}
			}(modelID)
		}
		wg.Wait()
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		event, open := <-events
		if !open {
			c.SSEvent("done", "[DONE]")
			return false
		}
		c.SSEvent(event.Type, event)
		return true
	})
}

// gateRequest applies the billing policy for the authenticated caller and
// returns the user whose balance the engine should settle against. The
// empty string means the request runs unmetered: either the caller is
// anonymous, or a free-tier account just spent its cooldown-gated use.
// A false return means the response has already been written.
func (h *GenerateHandler) gateRequest(c *gin.Context) (string, bool) {
	identity, authed := auth.FromContext(c)
	if !authed {
		return "", true
	}

	acct, errGet := h.wallet.Get(c.Request.Context(), identity.UserID)
	if errGet != nil {
		log.WithError(errGet).WithField("user_id", identity.UserID).Error("generate: account lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account lookup failed"})
		return "", false
	}

	if acct.Tier == models.TierFree {
		decision, errUse := h.wallet.TryConsumeFreeUse(c.Request.Context(), identity.UserID, time.Now().UTC())
		if errUse != nil {
			log.WithError(errUse).WithField("user_id", identity.UserID).Error("generate: free use check failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "usage check failed"})
			return "", false
		}
		if !decision.Allowed {
			c.JSON(http.StatusForbidden, gin.H{
				"error":             "free usage limit reached",
				"next_available_at": decision.NextAvailableAt,
			})
			return "", false
		}
		// Free-tier usage is cooldown-gated, not diamond-metered.
		return "", true
	}

	return identity.UserID, true
}

// fanOut runs the prompt against each model concurrently and collects
// per-model results in request order.
func (h *GenerateHandler) fanOut(ctx context.Context, userID string, action models.ActionType, modelIDs []string, prompt string) []ModelResult {
	results := make([]ModelResult, len(modelIDs))
	var wg sync.WaitGroup
	for i, modelID := range modelIDs {
		wg.Add(1)
		go func(i int, modelID string) {
			defer wg.Done()
			outcome, errGen := h.engine.Generate(ctx, metering.Request{
				UserID:  userID,
				ModelID: modelID,
				Action:  action,
				Prompt:  prompt,
			})
			results[i] = toModelResult(modelID, outcome, errGen)
		}(i, modelID)
	}
	wg.Wait()
	return results
}

func toModelResult(modelID string, outcome metering.Outcome, errGen error) ModelResult {
	result := ModelResult{Model: modelID}
	if errGen == nil {
		result.Content = outcome.Content
		result.Tokens = outcome.Tokens
		result.Images = outcome.Images
		result.DiamondsConsumed = outcome.Settled
		result.Balance = outcome.NewBalance
		result.Metered = outcome.Metered
		return result
	}

	if insufficient, ok := wallet.IsInsufficientBalance(errGen); ok {
		result.ErrorKind = "insufficient_balance"
		result.Error = "insufficient diamond balance"
		result.Required = insufficient.Required
		result.Current = insufficient.Current
		result.Shortfall = insufficient.Shortfall()
		return result
	}

	var failure *metering.ProviderFailure
	if errors.As(errGen, &failure) {
		result.ErrorKind = "provider_error"
		result.Error = "generation failed"
		log.WithError(failure.Err).WithField("model", modelID).Warn("generate: provider failure")
		return result
	}

	if errors.Is(errGen, provider.ErrUnsupportedModel) {
		result.ErrorKind = "unsupported_model"
		result.Error = "unsupported model"
		return result
	}

	result.ErrorKind = "internal_error"
	result.Error = "generation failed"
	log.WithError(errGen).WithField("model", modelID).Error("generate: unexpected failure")
	return result
}

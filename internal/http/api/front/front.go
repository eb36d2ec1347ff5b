package front

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/modelarena/modelarena/internal/auth"
	"github.com/modelarena/modelarena/internal/config"
	"github.com/modelarena/modelarena/internal/http/api/front/handlers"
	"github.com/modelarena/modelarena/internal/metering"
	"github.com/modelarena/modelarena/internal/payment"
	"github.com/modelarena/modelarena/internal/provider"
	"github.com/modelarena/modelarena/internal/ratelimit"
	"github.com/modelarena/modelarena/internal/wallet"
)

// RegisterFrontRoutes registers the public API routes, middleware, and handlers.
func RegisterFrontRoutes(r *gin.Engine, conn *gorm.DB, jwtCfg config.JWTConfig, stripeCfg config.StripeConfig, registry *provider.Registry) {
	if r == nil || conn == nil {
		return
	}

	store := wallet.NewGormStore(conn)
	engine := metering.NewEngine(store, registry)
	payments := payment.NewService(store, stripeCfg)
	limiter := ratelimit.NewManager(ratelimit.LoadSettingsConfig, time.Now, nil)

	// Webhook deliveries are verified by signature, not bearer token.
	r.POST("/v0/payment/webhook", payments.HandleWebhook)

	group := r.Group("/v0")
	group.Use(auth.Middleware(store, jwtCfg))

	generateHandler := handlers.NewGenerateHandler(store, engine, registry)
	generateHandler.SetPromptConverter(imagePromptConverter(registry))
	limited := group.Group("")
	limited.Use(rateLimitMiddleware(store, limiter))
	limited.POST("/chat", generateHandler.Chat)
	limited.POST("/chat/stream", generateHandler.ChatStream)
	limited.POST("/images", generateHandler.Images)

	group.GET("/models", generateHandler.Models)

	me := group.Group("/me")
	me.Use(auth.RequireUser())

	diamondsHandler := handlers.NewDiamondsHandler(store)
	me.GET("/diamonds", diamondsHandler.Get)
	me.POST("/diamonds/check", diamondsHandler.Check)

	usageHandler := handlers.NewUsageHandler(store)
	me.GET("/usage", usageHandler.Get)

	paymentHandler := handlers.NewPaymentHandler(payments)
	group.POST("/payment/create-session", auth.RequireUser(), paymentHandler.CreateSession)
}

// promptRewriteModel prepares image prompts before fan-out. The image
// backends respond best to concise English, so prompts pass through the
// cheapest text model first.
const promptRewriteModel = "gemini-pro"

func imagePromptConverter(registry *provider.Registry) handlers.PromptConverter {
	return func(ctx context.Context, prompt string) (string, error) {
		gen, errResolve := registry.Resolve(promptRewriteModel)
		if errResolve != nil {
			return "", errResolve
		}
		instruction := "Rewrite the following image prompt in concise English, keeping every visual detail: " + prompt
		result, errGen := gen.Generate(ctx, promptRewriteModel, instruction)
		if errGen != nil {
			return "", errGen
		}
		return strings.TrimSpace(result.Content), nil
	}
}

// rateLimitMiddleware throttles identified accounts on the generation
// endpoints. Anonymous requests and limiter backend errors pass through;
// the limiter degrades open rather than blocking traffic.
func rateLimitMiddleware(store *wallet.GormStore, limiter *ratelimit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, authed := auth.FromContext(c)
		if !authed {
			c.Next()
			return
		}

		acct, errGet := store.Get(c.Request.Context(), identity.UserID)
		if errGet != nil {
			c.Next()
			return
		}

		result, errAllow := limiter.AllowAccount(c.Request.Context(), &acct)
		if errAllow != nil {
			c.Next()
			return
		}
		if !result.Allowed {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

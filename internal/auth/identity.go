package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/modelarena/modelarena/internal/config"
	"github.com/modelarena/modelarena/internal/security"
	"github.com/modelarena/modelarena/internal/wallet"
)

const identityContextKey = "authIdentity"

// Identity describes the authenticated caller of a front endpoint.
type Identity struct {
	UserID string
	Email  string
}

// Middleware resolves the caller identity from a bearer token. A missing
// or invalid token is not an error here; the request proceeds anonymously
// and each endpoint decides whether it requires a user. Valid identities
// get their account row ensured so later wallet operations find it.
func Middleware(store *wallet.GormStore, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, errParse := security.ParseUserToken(jwtCfg.Secret, token)
		if errParse != nil {
			log.WithError(errParse).Debug("auth: user token rejected, continuing anonymously")
			c.Next()
			return
		}

		if _, errEnsure := store.EnsureAccount(c.Request.Context(), claims.UserID, claims.Email); errEnsure != nil {
			log.WithError(errEnsure).WithField("user_id", claims.UserID).Error("auth: ensure account failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "account lookup failed"})
			return
		}

		c.Set(identityContextKey, Identity{UserID: claims.UserID, Email: claims.Email})
		c.Next()
	}
}

// RequireUser aborts with 401 when the request carries no verified identity.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := FromContext(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

// FromContext returns the identity resolved by Middleware.
func FromContext(c *gin.Context) (Identity, bool) {
	value, exists := c.Get(identityContextKey)
	if !exists {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	if !ok || identity.UserID == "" {
		return Identity{}, false
	}
	return identity, true
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return ""
	}
	return strings.TrimSpace(token)
}

package auth

import (
	"net/http"
	"strings"
	"time"

	"campaign-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

type Verifier interface {
	Verify(token string, expected TokenType, now time.Time) (Claims, error)
}

// RequireAccessToken verifies the bearer token, stores the identity on the
// request context and tags the request logger with it. Role checks belong
// to rbac.
func RequireAccessToken(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := v.Verify(strings.TrimPrefix(raw, bearerPrefix), TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("access token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		id := claims.Identity()
		log := logger.FromGin(c).With("user_id", id.UserID, "workspace_id", id.WorkspaceID)
		c.Set(logger.GinKey, log)
		ctx := WithIdentity(c.Request.Context(), id)
		c.Request = c.Request.WithContext(logger.With(ctx, log))
		c.Next()
	}
}

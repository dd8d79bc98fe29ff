package rbac

import (
	"net/http"

	"campaign-engine/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireWorkspace rejects requests whose identity carries no workspace.
// Every campaign, queue and call lookup below it is scoped to that workspace.
func RequireWorkspace() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.IdentityFrom(c.Request.Context())
		if !ok || id.WorkspaceID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows the caller if its role is in allowed. super_admin
// always passes; hidden roles pass only when listed explicitly.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		id, ok := auth.IdentityFrom(c.Request.Context())
		if !ok || id.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsSuperAdmin(id.Role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[id.Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// Chain is RequireWorkspace followed by RequireAnyRole(allowed...).
func Chain(allowed ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{RequireWorkspace(), RequireAnyRole(allowed...)}
}

package httpapi

import (
	"campaign-engine/internal/rbac"

	"github.com/gin-gonic/gin"
)

func canAdminister(role string) bool {
	if rbac.IsSuperAdmin(role) {
		return true
	}
	for _, r := range rbac.CampaignAdmins {
		if r == role {
			return true
		}
	}
	return false
}

// Register mounts the operator API on g, which must already authenticate.
func (h Handlers) Register(g *gin.RouterGroup) {
	g.Use(rbac.RequireWorkspace())

	camps := g.Group("/campaigns/:campaign_id")
	{
		camps.GET("/queue", rbac.RequireAnyRole(rbac.Viewers...), h.Remaining)
		camps.GET("/summary", rbac.RequireAnyRole(rbac.Viewers...), h.Summary)
		camps.POST("/queue", rbac.RequireAnyRole(rbac.CampaignAdmins...), h.Enqueue)
		camps.POST("/activate", rbac.RequireAnyRole(rbac.CampaignAdmins...), h.Activate)
		camps.POST("/deactivate", rbac.RequireAnyRole(rbac.CampaignAdmins...), h.Deactivate)
		camps.POST("/cancel", rbac.RequireAnyRole(rbac.CampaignAdmins...), h.Cancel)
		camps.POST("/reset", rbac.RequireAnyRole(rbac.CampaignAdmins...), h.Reset)

		camps.POST("/dial", rbac.RequireAnyRole(rbac.Dialers...), h.DialNext)
		camps.POST("/rooms", rbac.RequireAnyRole(rbac.Dialers...), h.OpenRoom)
	}
	g.POST("/rooms/:room/next", rbac.RequireAnyRole(rbac.Dialers...), h.NextInRoom)

	presence := g.Group("/presence", rbac.RequireAnyRole(rbac.Dialers...))
	{
		presence.POST("/heartbeat", h.Heartbeat)
		presence.DELETE("", h.Offline)
	}
}

package main

import (
	"net/http"

	"campaign-engine/internal/app"
	"campaign-engine/internal/config"
	"campaign-engine/internal/httpapi"
	"campaign-engine/internal/telemetry"
	"campaign-engine/internal/telephony"
	"campaign-engine/internal/webhooks"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, svc *app.Services, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(telemetry.Handler()))
	}

	// Provider webhooks are public but signed.
	hooks := r.Group("")
	if cfg.Twilio.ValidateSignature {
		hooks.Use(telephony.RequireSignature(svc.Providers, cfg.Twilio.PublicBaseURL))
	}
	webhooks.Handlers{
		Calls:      svc.Machine,
		Campaigns:  svc.Campaigns,
		IVR:        svc.IVR,
		Conference: svc.Rooms,
		Callbacks:  svc.Callbacks,
	}.Register(hooks)

	// Operator API
	httpapi.Handlers{
		Campaigns:    svc.Campaigns,
		Queue:        svc.Queue,
		Dialer:       svc.Dialer,
		Rooms:        svc.Rooms,
		Presence:     svc.Presence,
		Cancellation: svc.Cancellation,
		Reports:      svc.Reports,
		Audit:        svc.Audit,
	}.Register(r.Group("/v1", authMW))
}

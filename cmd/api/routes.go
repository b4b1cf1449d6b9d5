package main

import (
	"context"
	"net/http"

	"callrelay/internal/accounts"
	"callrelay/internal/audit"
	"callrelay/internal/auth"
	"callrelay/internal/history"
	"callrelay/internal/httpapi"
	"callrelay/internal/rbac"
	"callrelay/internal/signaling"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	auth      *auth.Manager
	accounts  *accounts.Service
	history   *history.Service
	directory httpapi.PresenceLookup
	calls     httpapi.SessionLister
	audit     *audit.Service
	ws        *signaling.Handler

	// ready is checked by /healthz; nil means always ready.
	ready func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := httpapi.Handlers{
		Accounts: d.accounts,
		History:  d.history,
		Presence: d.directory,
		Calls:    d.calls,
		Audit:    d.audit,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.ready != nil {
			if err := d.ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unavailable"})
				return
			}
		}
		httpapi.Health(c)
	})

	// Signaling socket; the handler authenticates before upgrading.
	if d.ws != nil {
		r.GET("/ws", d.ws.Serve)
	}

	// AUTH routes (token issuance)
	authGroup := r.Group("/v1/auth")
	{
		authGroup.POST("/signup", h.Signup)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/verify", h.Verify)
		authGroup.POST("/resend", h.Resend)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth), rbac.RequireIdentity())
	{
		v1.GET("/me", h.Me)
		v1.GET("/history", h.ListHistory)
		v1.GET("/history/summary", h.HistorySummary)
		v1.GET("/presence/:identity", h.GetPresence)

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.GET("/sessions", h.ListSessions)
		}
	}
}

package main

import (
	"context"
	"net/http"

	"call-scheduler/internal/httpapi"
	"call-scheduler/internal/rbac"
	"call-scheduler/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	handlers  httpapi.Handlers
	authMW    gin.HandlerFunc
	callbacks telephony.CallbackHandler
	health    func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.handlers

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.health != nil {
			if err := d.health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider callbacks are authenticated by the shared token in the URL.
	r.POST("/webhooks/telephony/callback", d.callbacks.Handle)

	r.POST("/v1/auth/login", h.Login)

	// Assistant runtime schedules follow-up calls on a tenant's behalf.
	internal := r.Group("/internal")
	internal.Use(d.authMW)
	internal.Use(httpapi.RequireTenantAndAnyRole(rbac.RoleService)...)
	{
		internal.POST("/assistant-tasks", h.CreateTask)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	{
		v1.GET("/me", h.Me)

		taskRoutes := v1.Group("/tasks")
		taskRoutes.Use(httpapi.RequireTenantAndAnyRole(rbac.TaskRoles...)...)
		{
			taskRoutes.POST("", h.CreateTask)
			taskRoutes.GET("", h.ListTasks)
			taskRoutes.GET("/summary", h.TaskSummary)
			taskRoutes.GET("/:id", h.GetTask)
			taskRoutes.PATCH("/:id", h.UpdateTask)
			taskRoutes.POST("/:id/cancel", h.CancelTask)
			taskRoutes.DELETE("/:id", h.DeleteTask)
		}

		tel := v1.Group("/telephony")
		tel.Use(rbac.RequireTenant())
		{
			// Any tenant member may see whether calls can go out.
			tel.GET("/account", rbac.RequireAnyRole(rbac.TaskRoles...), h.GetAccountStatus)

			manage := tel.Group("")
			manage.Use(rbac.RequireAnyRole(rbac.TelephonyRoles...))
			{
				manage.POST("/provision", h.Provision)
				manage.POST("/repair", h.Repair)
				manage.GET("/verification-url", h.VerificationURL)
				manage.GET("/balance", h.Balance)
				manage.GET("/numbers/available", h.AvailableNumbers)
				manage.POST("/numbers", h.PurchaseNumber)
			}
		}

		rec := v1.Group("/recordings")
		rec.Use(httpapi.RequireTenantAndAnyRole(rbac.TaskRoles...)...)
		{
			rec.GET("/authorize", h.AuthorizeRecording)
		}

		// ADMIN routes: operator-wide, super_admin only.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleSuperAdmin))
		{
			admin.POST("/telephony/repair-all", h.RepairAll)
			admin.GET("/telephony/summary", h.FleetSummary)
			admin.GET("/audit", h.ListAudit)
		}
	}
}

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bookresale-backend/internal/shared/middleware"
	"bookresale-backend/pkg/container"
)

func SetupRouter(c *container.Container) *gin.Engine {
	router := gin.New()

	// Global middlewares
	router.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.CORS(),
	)

	v1 := router.Group("/api/v1")
	{
		// Health check
		v1.GET("/health", healthCheckHandler(c))

		setupItemRoutes(v1, c)
		setupWebhookRoutes(v1, c)
	}

	return router
}

// ========================================
// ITEM ROUTES
// ========================================
func setupItemRoutes(v1 *gin.RouterGroup, c *container.Container) {
	items := v1.Group("/items", middleware.Identity())
	{
		items.POST("", c.ItemHandler.CreateItem)
		items.GET("", c.ItemHandler.ListItems)
		items.GET("/:id", c.ItemHandler.GetItem)
		items.DELETE("/:id", c.ItemHandler.DeleteItem)

		// Pipeline controls
		items.POST("/:id/reprocess", c.ItemHandler.Reprocess)
		items.POST("/:id/delist", c.ItemHandler.Delist)

		// Pipeline history
		items.GET("/:id/assessments", c.ItemHandler.ListAssessments)
		items.GET("/:id/pricing-history", c.ItemHandler.ListPricingHistory)
		items.GET("/:id/listings", c.ItemHandler.ListListings)
	}
}

// ========================================
// WEBHOOK ROUTES
// ========================================
// Marketplace callbacks authenticate with an HMAC signature, not a user
// identity, so they stay outside the Identity() group.
func setupWebhookRoutes(v1 *gin.RouterGroup, c *container.Container) {
	webhooks := v1.Group("/webhooks")
	{
		webhooks.POST("/:platform/sale", c.WebhookHandler.HandleSale)
	}
}

// ========================================
// HEALTH CHECK
// ========================================
func healthCheckHandler(c *container.Container) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
		defer cancel()

		checks := gin.H{
			"database": "ok",
			"redis":    "ok",
		}
		healthy := true

		if err := c.DB.HealthCheck(checkCtx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		}
		if err := c.Redis.HealthCheck(checkCtx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}

		ctx.JSON(status, gin.H{
			"success": healthy,
			"data": gin.H{
				"status": map[bool]string{true: "healthy", false: "degraded"}[healthy],
				"checks": checks,
				"time":   time.Now().UTC().Format(time.RFC3339),
			},
		})
	}
}

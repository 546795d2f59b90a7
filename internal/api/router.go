package api

import (
	"github.com/gin-gonic/gin"
	v1 "github.com/planpay/planpay/internal/api/v1"
	"github.com/planpay/planpay/internal/config"
	"github.com/planpay/planpay/internal/logger"
	"github.com/planpay/planpay/internal/rest/middleware"
)

type Handlers struct {
	Health  *v1.HealthHandler
	Plan    *v1.PlanHandler
	Webhook *v1.WebhookHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, logger *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.TenantMiddleware,
		middleware.SentryMiddleware(cfg),
		middleware.ErrorHandler(),
	)

	router.GET("/health", handlers.Health.Health)

	v1Group := router.Group("/v1")
	registerV1Routes(v1Group, handlers, cfg)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers, cfg *config.Configuration) {
	// Gateway webhooks
	webhooks := router.Group("/webhooks")
	webhooks.Use(middleware.GatewaySignatureMiddleware(cfg))
	{
		webhooks.POST("/gateway", handlers.Webhook.HandleGatewayEvent)
	}

	// Plan management
	plans := router.Group("/plans")
	{
		plans.POST("", handlers.Plan.CreatePlan)
		plans.GET("", handlers.Plan.ListPlans)
		plans.POST("/validate", handlers.Plan.ValidatePlan)
		plans.GET("/:id", handlers.Plan.GetPlan)
		plans.GET("/:id/payments", handlers.Plan.GetPaymentRecords)
		plans.POST("/:id/activate", handlers.Plan.ActivatePlan)
	}
}

package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/planpay/planpay/internal/api"
	v1 "github.com/planpay/planpay/internal/api/v1"
	"github.com/planpay/planpay/internal/cache"
	"github.com/planpay/planpay/internal/config"
	"github.com/planpay/planpay/internal/gateway/webhook"
	"github.com/planpay/planpay/internal/httpclient"
	"github.com/planpay/planpay/internal/logger"
	"github.com/planpay/planpay/internal/notification"
	"github.com/planpay/planpay/internal/postgres"
	"github.com/planpay/planpay/internal/repository"
	"github.com/planpay/planpay/internal/sentry"
	"github.com/planpay/planpay/internal/service"
	"go.uber.org/fx"
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	app := fx.New(
		fx.Provide(
			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Monitoring
			sentry.NewSentryService,

			// Cache
			cache.NewInMemoryCache,

			// Postgres
			postgres.NewDB,
			provideDBClient,

			// Repositories
			repository.NewPlanRepository,

			// HTTP Client
			httpclient.NewDefaultClient,

			// Notification sinks
			provideSink,

			// Gateway event normalizer
			webhook.NewNormalizer,

			// Services
			service.NewServiceParams,
			service.NewPlanService,
			service.NewWebhookProcessorService,

			// API
			provideHandlers,
			provideRouter,
		),
		fx.Invoke(
			sentry.RegisterHooks,
			startServer,
		),
	)
	app.Run()
}

func provideDBClient(db *postgres.DB) postgres.IClient {
	return db
}

func provideSink(cfg *config.Configuration, client httpclient.Client, log *logger.Logger) notification.Sink {
	sinks := make([]notification.Sink, 0, 2)
	if slack := notification.NewSlackSink(cfg, client, log); slack != nil {
		sinks = append(sinks, slack)
	}
	if crm := notification.NewCRMSink(cfg, client, log); crm != nil {
		sinks = append(sinks, crm)
	}
	return notification.NewCompositeSink(log, sinks...)
}

func provideHandlers(
	log *logger.Logger,
	planService service.PlanService,
	processorService service.WebhookProcessorService,
	normalizer *webhook.Normalizer,
) api.Handlers {
	return api.Handlers{
		Health:  v1.NewHealthHandler(log),
		Plan:    v1.NewPlanHandler(planService, log),
		Webhook: v1.NewWebhookHandler(normalizer, processorService, log),
	}
}

func provideRouter(handlers api.Handlers, cfg *config.Configuration, log *logger.Logger) *gin.Engine {
	return api.NewRouter(handlers, cfg, log)
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	db *postgres.DB,
	log *logger.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := r.Run(cfg.Server.Address); err != nil {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server")
			db.Close()
			return nil
		},
	})
}

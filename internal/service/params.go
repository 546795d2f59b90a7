package service

import (
	"github.com/planpay/planpay/internal/config"
	"github.com/planpay/planpay/internal/domain/plan"
	"github.com/planpay/planpay/internal/logger"
	"github.com/planpay/planpay/internal/notification"
	"github.com/planpay/planpay/internal/postgres"
)

// ServiceParams holds the dependencies shared by all services. Services embed
// it so constructors stay stable as dependencies grow.
type ServiceParams struct {
	Logger   *logger.Logger
	Config   *config.Configuration
	DB       postgres.IClient
	PlanRepo plan.Repository
	Sink     notification.Sink
}

// NewServiceParams creates a new ServiceParams with all dependencies
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	planRepo plan.Repository,
	sink notification.Sink,
) ServiceParams {
	return ServiceParams{
		Logger:   logger,
		Config:   config,
		DB:       db,
		PlanRepo: planRepo,
		Sink:     sink,
	}
}

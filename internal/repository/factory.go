package repository

import (
	"github.com/planpay/planpay/internal/cache"
	"github.com/planpay/planpay/internal/domain/plan"
	"github.com/planpay/planpay/internal/logger"
	"github.com/planpay/planpay/internal/postgres"
	postgresRepo "github.com/planpay/planpay/internal/repository/postgres"
)

func NewPlanRepository(db *postgres.DB, c cache.Cache, logger *logger.Logger) plan.Repository {
	return NewCachedPlanRepository(postgresRepo.NewPlanRepository(db, logger), c)
}

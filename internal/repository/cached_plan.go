package repository

import (
	"context"

	"github.com/planpay/planpay/internal/cache"
	"github.com/planpay/planpay/internal/domain/plan"
)

// cachedPlanRepository decorates a plan repository with a read-through cache
// on the two hot lookups the webhook path performs: by id and by subscription
// id. Every write invalidates the affected entries, so a cached plan is at
// worst as stale as a concurrent transition, which the compare-and-swap write
// already guards against.
type cachedPlanRepository struct {
	plan.Repository
	cache cache.Cache
}

// NewCachedPlanRepository wraps repo with the given cache
func NewCachedPlanRepository(repo plan.Repository, c cache.Cache) plan.Repository {
	return &cachedPlanRepository{
		Repository: repo,
		cache:      c,
	}
}

func (r *cachedPlanRepository) Get(ctx context.Context, id string) (*plan.Plan, error) {
	key := cache.PrefixPlan + id
	if cached, ok := r.cache.Get(ctx, key); ok {
		if p, ok := cached.(*plan.Plan); ok {
			return clonePlan(p), nil
		}
	}

	p, err := r.Repository.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(ctx, key, clonePlan(p), cache.DefaultExpiration)
	return p, nil
}

func (r *cachedPlanRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*plan.Plan, error) {
	key := cache.PrefixPlanSubscription + subscriptionID
	if cached, ok := r.cache.Get(ctx, key); ok {
		if p, ok := cached.(*plan.Plan); ok {
			return clonePlan(p), nil
		}
	}

	p, err := r.Repository.GetBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	r.cache.Set(ctx, key, clonePlan(p), cache.DefaultExpiration)
	return p, nil
}

// clonePlan keeps cached plans isolated from callers that mutate the result
func clonePlan(p *plan.Plan) *plan.Plan {
	c := *p
	return &c
}

func (r *cachedPlanRepository) Update(ctx context.Context, p *plan.Plan) error {
	if err := r.Repository.Update(ctx, p); err != nil {
		return err
	}
	r.invalidate(ctx, p)
	return nil
}

func (r *cachedPlanRepository) UpdateProgress(ctx context.Context, p *plan.Plan, update plan.ProgressUpdate) error {
	err := r.Repository.UpdateProgress(ctx, p, update)
	// Invalidate on conflict too: the cached snapshot is what just lost the
	// race, and the retry must re-read fresh state.
	r.invalidate(ctx, p)
	return err
}

func (r *cachedPlanRepository) invalidate(ctx context.Context, p *plan.Plan) {
	r.cache.Delete(ctx, cache.PrefixPlan+p.ID)
	if p.SubscriptionID != nil {
		r.cache.Delete(ctx, cache.PrefixPlanSubscription+*p.SubscriptionID)
	}
}

package service

import (
	"context"

	"github.com/planpay/planpay/internal/api/dto"
	"github.com/planpay/planpay/internal/domain/plan"
	ierr "github.com/planpay/planpay/internal/errors"
	"github.com/planpay/planpay/internal/types"
)

// PlanService manages payment plan creation and the management API surface.
// The webhook-driven lifecycle lives in WebhookProcessorService.
type PlanService interface {
	CreatePlan(ctx context.Context, req *dto.CreatePlanRequest) (*dto.PlanResponse, error)
	GetPlan(ctx context.Context, id string) (*dto.PlanResponse, error)
	ListPlans(ctx context.Context, filter *types.PlanFilter) (*dto.ListPlansResponse, error)
	GetPaymentRecords(ctx context.Context, planID string) (*dto.ListPaymentRecordsResponse, error)
	ActivatePlan(ctx context.Context, id string, req *dto.ActivatePlanRequest) (*dto.PlanResponse, error)
	ValidatePlan(ctx context.Context, req *dto.ValidatePlanRequest) (*dto.ValidatePlanResponse, error)
}

type planService struct {
	ServiceParams
}

// NewPlanService creates a new plan service
func NewPlanService(params ServiceParams) PlanService {
	return &planService{
		ServiceParams: params,
	}
}

func (s *planService) CreatePlan(ctx context.Context, req *dto.CreatePlanRequest) (*dto.PlanResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, records, err := req.ToPlan(ctx)
	if err != nil {
		return nil, err
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	// the plan and its full set of records commit together
	err = s.DB.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.PlanRepo.Create(txCtx, p); err != nil {
			return err
		}
		return s.PlanRepo.CreatePaymentRecords(txCtx, records)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("created payment plan",
		"plan_id", p.ID,
		"order_id", p.OrderID,
		"total_amount", p.TotalAmount.StringFixed(2),
		"installments", p.InstallmentCount,
	)

	resp := dto.NewPlanResponse(p)
	resp.Schedule, _ = plan.ComputeSchedule(p.TotalAmount, p.InstallmentCount)
	return resp, nil
}

func (s *planService) GetPlan(ctx context.Context, id string) (*dto.PlanResponse, error) {
	if id == "" {
		return nil, ierr.NewError("plan id is required").
			WithHint("Plan ID is required").
			Mark(ierr.ErrValidation)
	}

	p, err := s.PlanRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewPlanResponse(p), nil
}

func (s *planService) ListPlans(ctx context.Context, filter *types.PlanFilter) (*dto.ListPlansResponse, error) {
	if filter == nil {
		filter = types.NewPlanFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid filter parameters").
			Mark(ierr.ErrValidation)
	}

	plans, err := s.PlanRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.PlanRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.PlanResponse, 0, len(plans))
	for _, p := range plans {
		items = append(items, dto.NewPlanResponse(p))
	}
	return &dto.ListPlansResponse{Items: items, Total: total}, nil
}

func (s *planService) GetPaymentRecords(ctx context.Context, planID string) (*dto.ListPaymentRecordsResponse, error) {
	if planID == "" {
		return nil, ierr.NewError("plan id is required").
			WithHint("Plan ID is required").
			Mark(ierr.ErrValidation)
	}

	// surface not-found for the plan itself rather than an empty list
	if _, err := s.PlanRepo.Get(ctx, planID); err != nil {
		return nil, err
	}

	records, err := s.PlanRepo.ListPaymentRecords(ctx, planID)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.PaymentRecordResponse, 0, len(records))
	for _, r := range records {
		items = append(items, dto.NewPaymentRecordResponse(r))
	}
	return &dto.ListPaymentRecordsResponse{Items: items}, nil
}

// ActivatePlan links the gateway subscription to a pending plan. From this
// point on, inbound webhooks carrying this subscription id drive the plan's
// state machine.
func (s *planService) ActivatePlan(ctx context.Context, id string, req *dto.ActivatePlanRequest) (*dto.PlanResponse, error) {
	if id == "" {
		return nil, ierr.NewError("plan id is required").
			WithHint("Plan ID is required").
			Mark(ierr.ErrValidation)
	}
	if req.SubscriptionID == "" {
		return nil, ierr.NewError("subscription id is required").
			WithHint("Subscription ID is required").
			Mark(ierr.ErrValidation)
	}

	// the subscription id is unique across plans
	existing, err := s.PlanRepo.GetBySubscriptionID(ctx, req.SubscriptionID)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if existing != nil && existing.ID != id {
		return nil, ierr.NewError("subscription already linked").
			WithHint("This subscription is already linked to another plan").
			WithReportableDetails(map[string]any{
				"subscription_id": req.SubscriptionID,
				"plan_id":         existing.ID,
			}).
			Mark(ierr.ErrAlreadyExists)
	}

	p, err := s.PlanRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.PlanStatus != types.PlanStatusPending {
		return nil, ierr.NewError("plan is not pending").
			WithHintf("Only pending plans can be activated, this plan is %s", p.PlanStatus).
			Mark(ierr.ErrInvalidOperation)
	}

	p.SubscriptionID = &req.SubscriptionID
	p.PlanStatus = types.PlanStatusActive
	if err := s.PlanRepo.Update(ctx, p); err != nil {
		return nil, err
	}

	s.Logger.Infow("activated payment plan",
		"plan_id", p.ID,
		"subscription_id", req.SubscriptionID,
	)
	return dto.NewPlanResponse(p), nil
}

func (s *planService) ValidatePlan(ctx context.Context, req *dto.ValidatePlanRequest) (*dto.ValidatePlanResponse, error) {
	reason, ok := plan.ValidateSchedule(req.TotalAmount, req.InstallmentCount)
	resp := &dto.ValidatePlanResponse{
		Valid:  ok,
		Reason: reason,
	}
	if ok {
		schedule, err := plan.ComputeSchedule(req.TotalAmount, req.InstallmentCount)
		if err != nil {
			return nil, err
		}
		resp.Schedule = schedule
	}
	return resp, nil
}

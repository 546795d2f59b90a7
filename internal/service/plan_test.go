package service

import (
	"testing"

	"github.com/planpay/planpay/internal/api/dto"
	ierr "github.com/planpay/planpay/internal/errors"
	"github.com/planpay/planpay/internal/testutil"
	"github.com/planpay/planpay/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type PlanServiceSuite struct {
	testutil.BaseServiceTestSuite
	service PlanService
}

func TestPlanService(t *testing.T) {
	suite.Run(t, new(PlanServiceSuite))
}

func (s *PlanServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewPlanService(ServiceParams{
		Logger:   s.GetLogger(),
		Config:   s.GetConfig(),
		DB:       s.GetDB(),
		PlanRepo: s.GetStores().PlanRepo,
		Sink:     s.GetSink(),
	})
}

func (s *PlanServiceSuite) createPlan(orderID, total string, installments int) *dto.PlanResponse {
	resp, err := s.service.CreatePlan(s.GetContext(), &dto.CreatePlanRequest{
		OrderID:          orderID,
		TotalAmount:      decimal.RequireFromString(total),
		InstallmentCount: installments,
	})
	s.Require().NoError(err)
	return resp
}

func (s *PlanServiceSuite) TestCreatePlan() {
	resp := s.createPlan("order_1", "2980.00", 3)

	s.Equal("order_1", resp.OrderID)
	s.Equal(3, resp.InstallmentCount)
	s.Equal(0, resp.CompletedPayments)
	s.Equal(types.PlanStatusPending, resp.PlanStatus)
	s.Require().NotNil(resp.Schedule)
	s.Equal("993.34", resp.Schedule.FirstPayment.StringFixed(2))
	s.Equal("993.33", resp.Schedule.RecurringAmount.StringFixed(2))
	s.Equal(2, resp.Schedule.RemainingOccurrences)

	// all payment records created up front with the right amounts
	records, err := s.service.GetPaymentRecords(s.GetContext(), resp.ID)
	s.NoError(err)
	s.Require().Len(records.Items, 3)
	s.Equal("993.34", records.Items[0].Amount.StringFixed(2))
	s.Equal("993.33", records.Items[1].Amount.StringFixed(2))
	s.Equal("993.33", records.Items[2].Amount.StringFixed(2))
	for i, record := range records.Items {
		s.Equal(i+1, record.PaymentNumber)
		s.Equal(types.PaymentRecordStatusPending, record.RecordStatus)
	}
}

func (s *PlanServiceSuite) TestCreatePlanInvalidParameters() {
	tests := []struct {
		name string
		req  *dto.CreatePlanRequest
	}{
		{"missing order id", &dto.CreatePlanRequest{TotalAmount: decimal.NewFromInt(100), InstallmentCount: 3}},
		{"zero total", &dto.CreatePlanRequest{OrderID: "o1", InstallmentCount: 3}},
		{"one installment", &dto.CreatePlanRequest{OrderID: "o1", TotalAmount: decimal.NewFromInt(100), InstallmentCount: 1}},
		{"thirteen installments", &dto.CreatePlanRequest{OrderID: "o1", TotalAmount: decimal.NewFromInt(100), InstallmentCount: 13}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.CreatePlan(s.GetContext(), tt.req)
			s.Error(err)
			s.True(ierr.IsValidation(err))
		})
	}
}

func (s *PlanServiceSuite) TestGetPlan() {
	created := s.createPlan("order_2", "100.00", 2)

	resp, err := s.service.GetPlan(s.GetContext(), created.ID)
	s.NoError(err)
	s.Equal(created.ID, resp.ID)

	_, err = s.service.GetPlan(s.GetContext(), "plan_missing")
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *PlanServiceSuite) TestListPlans() {
	s.createPlan("order_a", "100.00", 2)
	s.createPlan("order_b", "200.00", 4)

	resp, err := s.service.ListPlans(s.GetContext(), nil)
	s.NoError(err)
	s.Len(resp.Items, 2)
	s.Equal(2, resp.Total)

	filtered, err := s.service.ListPlans(s.GetContext(), &types.PlanFilter{
		QueryFilter: types.NewDefaultQueryFilter(),
		OrderID:     lo.ToPtr("order_a"),
	})
	s.NoError(err)
	s.Require().Len(filtered.Items, 1)
	s.Equal("order_a", filtered.Items[0].OrderID)
}

func (s *PlanServiceSuite) TestActivatePlan() {
	created := s.createPlan("order_3", "100.00", 2)

	resp, err := s.service.ActivatePlan(s.GetContext(), created.ID, &dto.ActivatePlanRequest{
		SubscriptionID: "sub_activate",
	})
	s.NoError(err)
	s.Equal(types.PlanStatusActive, resp.PlanStatus)
	s.Require().NotNil(resp.SubscriptionID)
	s.Equal("sub_activate", *resp.SubscriptionID)

	// an active plan cannot be activated again
	_, err = s.service.ActivatePlan(s.GetContext(), created.ID, &dto.ActivatePlanRequest{
		SubscriptionID: "sub_other",
	})
	s.Error(err)

	// the subscription id is unique across plans
	other := s.createPlan("order_4", "100.00", 2)
	_, err = s.service.ActivatePlan(s.GetContext(), other.ID, &dto.ActivatePlanRequest{
		SubscriptionID: "sub_activate",
	})
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))
}

func (s *PlanServiceSuite) TestValidatePlan() {
	resp, err := s.service.ValidatePlan(s.GetContext(), &dto.ValidatePlanRequest{
		TotalAmount:      decimal.RequireFromString("2980.00"),
		InstallmentCount: 3,
	})
	s.NoError(err)
	s.True(resp.Valid)
	s.Empty(resp.Reason)
	s.Require().NotNil(resp.Schedule)
	s.Equal("993.34", resp.Schedule.FirstPayment.StringFixed(2))

	resp, err = s.service.ValidatePlan(s.GetContext(), &dto.ValidatePlanRequest{
		TotalAmount:      decimal.RequireFromString("2.50"),
		InstallmentCount: 3,
	})
	s.NoError(err)
	s.False(resp.Valid)
	s.NotEmpty(resp.Reason)
	s.Nil(resp.Schedule)
}

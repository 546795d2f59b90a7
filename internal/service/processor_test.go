package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/planpay/planpay/internal/domain/plan"
	"github.com/planpay/planpay/internal/gateway/webhook"
	"github.com/planpay/planpay/internal/testutil"
	"github.com/planpay/planpay/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type WebhookProcessorSuite struct {
	testutil.BaseServiceTestSuite
	service WebhookProcessorService
}

func TestWebhookProcessorService(t *testing.T) {
	suite.Run(t, new(WebhookProcessorSuite))
}

func (s *WebhookProcessorSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewWebhookProcessorService(ServiceParams{
		Logger:   s.GetLogger(),
		Config:   s.GetConfig(),
		DB:       s.GetDB(),
		PlanRepo: s.GetStores().PlanRepo,
		Sink:     s.GetSink(),
	})
}

// createActivePlan seeds a plan with a linked subscription and all of its
// payment records.
func (s *WebhookProcessorSuite) createActivePlan(subscriptionID string, total string, installments int) *plan.Plan {
	ctx := s.GetContext()

	schedule, err := plan.ComputeSchedule(decimal.RequireFromString(total), installments)
	s.Require().NoError(err)

	p, records := plan.New(ctx, "order_"+subscriptionID, decimal.RequireFromString(total), schedule)
	p.SubscriptionID = lo.ToPtr(subscriptionID)
	p.PlanStatus = types.PlanStatusActive

	s.Require().NoError(s.GetStores().PlanRepo.Create(ctx, p))
	s.Require().NoError(s.GetStores().PlanRepo.CreatePaymentRecords(ctx, records))
	return p
}

func paidEvent(subscriptionID, transactionID string) *webhook.NormalizedPaymentEvent {
	return &webhook.NormalizedPaymentEvent{
		Kind:           webhook.EventKindInstallmentPaid,
		EventID:        "ev_" + transactionID,
		EventType:      "transaction.charged",
		SubscriptionID: subscriptionID,
		TransactionID:  transactionID,
		Amount:         decimal.RequireFromString("993.33"),
	}
}

func (s *WebhookProcessorSuite) TestInstallmentPaidAdvancesPlan() {
	ctx := s.GetContext()
	p := s.createActivePlan("sub_1", "2980.00", 3)

	result, err := s.service.ProcessEvent(ctx, paidEvent("sub_1", "txn_1"))
	s.NoError(err)
	s.Equal(OutcomeApplied, result.Outcome)
	s.Equal(1, result.PaymentNumber)

	stored, err := s.GetStores().PlanRepo.Get(ctx, p.ID)
	s.NoError(err)
	s.Equal(1, stored.CompletedPayments)
	s.Equal(types.PlanStatusActive, stored.PlanStatus)
	s.Nil(stored.OrderPaidAt)

	record, err := s.GetStores().PlanRepo.GetPaymentRecord(ctx, p.ID, 1)
	s.NoError(err)
	s.Equal(types.PaymentRecordStatusPaid, record.RecordStatus)
	s.NotNil(record.PaidAt)
	s.Require().NotNil(record.TransactionID)
	s.Equal("txn_1", *record.TransactionID)

	calls := s.GetSink().Calls()
	s.Require().Len(calls, 1)
	s.Equal("installment_paid", calls[0].Kind)
	s.Equal(1, calls[0].PaymentNumber)
}

func (s *WebhookProcessorSuite) TestFinalInstallmentCompletesPlan() {
	ctx := s.GetContext()
	p := s.createActivePlan("sub_2", "2980.00", 3)

	for i := 1; i <= 3; i++ {
		result, err := s.service.ProcessEvent(ctx, paidEvent("sub_2", fmt.Sprintf("txn_%d", i)))
		s.NoError(err)
		s.Equal(OutcomeApplied, result.Outcome)
	}

	stored, err := s.GetStores().PlanRepo.Get(ctx, p.ID)
	s.NoError(err)
	s.Equal(3, stored.CompletedPayments)
	s.Equal(types.PlanStatusCompleted, stored.PlanStatus)
	s.NotNil(stored.OrderPaidAt)
}

func (s *WebhookProcessorSuite) TestRedeliveredTransactionIsDuplicate() {
	ctx := s.GetContext()
	p := s.createActivePlan("sub_3", "2980.00", 3)

	result, err := s.service.ProcessEvent(ctx, paidEvent("sub_3", "txn_1"))
	s.NoError(err)
	s.Equal(OutcomeApplied, result.Outcome)

	// the gateway redelivers the same charge
	result, err = s.service.ProcessEvent(ctx, paidEvent("sub_3", "txn_1"))
	s.NoError(err)
	s.Equal(OutcomeDuplicate, result.Outcome)
	s.Equal(1, result.PaymentNumber)

	stored, err := s.GetStores().PlanRepo.Get(ctx, p.ID)
	s.NoError(err)
	s.Equal(1, stored.CompletedPayments)

	// a genuinely new charge still lands on the next slot
	result, err = s.service.ProcessEvent(ctx, paidEvent("sub_3", "txn_2"))
	s.NoError(err)
	s.Equal(OutcomeApplied, result.Outcome)
	s.Equal(2, result.PaymentNumber)
}

func (s *WebhookProcessorSuite) TestExcessDeliveriesAfterCompletionAreDuplicates() {
	ctx := s.GetContext()
	p := s.createActivePlan("sub_4", "100.00", 2)

	for i := 1; i <= 2; i++ {
		_, err := s.service.ProcessEvent(ctx, paidEvent("sub_4", fmt.Sprintf("txn_%d", i)))
		s.NoError(err)
	}

	result, err := s.service.ProcessEvent(ctx, paidEvent("sub_4", "txn_3"))
	s.NoError(err)
	s.Equal(OutcomeDuplicate, result.Outcome)

	stored, err := s.GetStores().PlanRepo.Get(ctx, p.ID)
	s.NoError(err)
	s.Equal(2, stored.CompletedPayments)
	s.Equal(types.PlanStatusCompleted, stored.PlanStatus)
}

func (s *WebhookProcessorSuite) TestCrashBetweenRecordAndCounterHeals() {
	ctx := s.GetContext()
	p := s.createActivePlan("sub_5", "2980.00", 3)

	// simulate a crash after the record write but before the counter bump
	record, err := s.GetStores().PlanRepo.GetPaymentRecord(ctx, p.ID, 1)
	s.Require().NoError(err)
	now := s.GetNow()
	record.RecordStatus = types.PaymentRecordStatusPaid
	record.PaidAt = &now
	record.TransactionID = lo.ToPtr("txn_original")
	s.Require().NoError(s.GetStores().PlanRepo.UpdatePaymentRecord(ctx, record))

	// redelivery finishes the interrupted transition and keeps the original
	// transaction id on the record
	result, err := s.service.ProcessEvent(ctx, paidEvent("sub_5", "txn_original"))
	s.NoError(err)
	s.Equal(OutcomeApplied, result.Outcome)
	s.Equal(1, result.PaymentNumber)

	stored, err := s.GetStores().PlanRepo.Get(ctx, p.ID)
	s.NoError(err)
	s.Equal(1, stored.CompletedPayments)

	healed, err := s.GetStores().PlanRepo.GetPaymentRecord(ctx, p.ID, 1)
	s.NoError(err)
	s.Require().NotNil(healed.TransactionID)
	s.Equal("txn_original", *healed.TransactionID)
}

func (s *WebhookProcessorSuite) TestConcurrentDistinctPaymentsBothLand() {
	ctx := s.GetContext()
	p := s.createActivePlan("sub_6", "2980.00", 3)

	var wg sync.WaitGroup
	results := make([]*ProcessResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.service.ProcessEvent(ctx, paidEvent("sub_6", fmt.Sprintf("txn_%d", i+1)))
		}(i)
	}
	wg.Wait()

	s.NoError(errs[0])
	s.NoError(errs[1])
	s.Equal(OutcomeApplied, results[0].Outcome)
	s.Equal(OutcomeApplied, results[1].Outcome)

	stored, err := s.GetStores().PlanRepo.Get(ctx, p.ID)
	s.NoError(err)
	s.Equal(2, stored.CompletedPayments)

	// the two charges landed on distinct installments
	numbers := []int{results[0].PaymentNumber, results[1].PaymentNumber}
	s.ElementsMatch([]int{1, 2}, numbers)
}

func (s *WebhookProcessorSuite) TestSuspensionMarksFailedRecord() {
	ctx := s.GetContext()
	p := s.createActivePlan("sub_7", "2980.00", 3)

	_, err := s.service.ProcessEvent(ctx, paidEvent("sub_7", "txn_1"))
	s.NoError(err)
	_, err = s.service.ProcessEvent(ctx, paidEvent("sub_7", "txn_2"))
	s.NoError(err)

	result, err := s.service.ProcessEvent(ctx, &webhook.NormalizedPaymentEvent{
		Kind:           webhook.EventKindPlanSuspended,
		EventID:        "ev_susp",
		EventType:      "subscription.suspended",
		SubscriptionID: "sub_7",
	})
	s.NoError(err)
	s.Equal(OutcomeApplied, result.Outcome)
	s.Equal(3, result.PaymentNumber)

	stored, err := s.GetStores().PlanRepo.Get(ctx, p.ID)
	s.NoError(err)
	s.Equal(types.PlanStatusSuspended, stored.PlanStatus)
	s.Equal(2, stored.CompletedPayments)

	record, err := s.GetStores().PlanRepo.GetPaymentRecord(ctx, p.ID, 3)
	s.NoError(err)
	s.Equal(types.PaymentRecordStatusFailed, record.RecordStatus)
	s.NotNil(record.FailedAt)

	// payments do not resume a suspended plan
	paid, err := s.service.ProcessEvent(ctx, paidEvent("sub_7", "txn_3"))
	s.NoError(err)
	s.Equal(OutcomeSkipped, paid.Outcome)

	// a repeated suspension is a duplicate
	again, err := s.service.ProcessEvent(ctx, &webhook.NormalizedPaymentEvent{
		Kind:           webhook.EventKindPlanSuspended,
		EventID:        "ev_susp_2",
		SubscriptionID: "sub_7",
	})
	s.NoError(err)
	s.Equal(OutcomeDuplicate, again.Outcome)
}

// hookedPlanRepo lets a test interleave work between a transition's plan read
// and its record write.
type hookedPlanRepo struct {
	plan.Repository
	beforeRecordRead func()
}

func (r *hookedPlanRepo) GetPaymentRecord(ctx context.Context, planID string, paymentNumber int) (*plan.PaymentRecord, error) {
	if r.beforeRecordRead != nil {
		r.beforeRecordRead()
	}
	return r.Repository.GetPaymentRecord(ctx, planID, paymentNumber)
}

func (s *WebhookProcessorSuite) TestSuspensionRacingPaymentKeepsPaidRecord() {
	ctx := s.GetContext()
	p := s.createActivePlan("sub_9", "2980.00", 3)

	// a full payment delivery lands between the suspension's plan read and
	// its record write
	hooked := &hookedPlanRepo{Repository: s.GetStores().PlanRepo}
	fired := false
	hooked.beforeRecordRead = func() {
		if fired {
			return
		}
		fired = true
		result, err := s.service.ProcessEvent(ctx, paidEvent("sub_9", "txn_1"))
		s.Require().NoError(err)
		s.Require().Equal(OutcomeApplied, result.Outcome)
	}

	suspender := NewWebhookProcessorService(ServiceParams{
		Logger:   s.GetLogger(),
		Config:   s.GetConfig(),
		DB:       s.GetDB(),
		PlanRepo: hooked,
		Sink:     s.GetSink(),
	})

	result, err := suspender.ProcessEvent(ctx, &webhook.NormalizedPaymentEvent{
		Kind:           webhook.EventKindPlanSuspended,
		EventID:        "ev_susp_race",
		EventType:      "subscription.suspended",
		SubscriptionID: "sub_9",
	})
	s.NoError(err)
	s.Equal(OutcomeApplied, result.Outcome)
	s.Equal(2, result.PaymentNumber)

	stored, err := s.GetStores().PlanRepo.Get(ctx, p.ID)
	s.NoError(err)
	s.Equal(types.PlanStatusSuspended, stored.PlanStatus)
	s.Equal(1, stored.CompletedPayments)

	// the concurrently paid record keeps its status and transaction id
	paid, err := s.GetStores().PlanRepo.GetPaymentRecord(ctx, p.ID, 1)
	s.NoError(err)
	s.Equal(types.PaymentRecordStatusPaid, paid.RecordStatus)
	s.Require().NotNil(paid.TransactionID)
	s.Equal("txn_1", *paid.TransactionID)

	// exactly one record fails, the one after the paid slot
	failed, err := s.GetStores().PlanRepo.GetPaymentRecord(ctx, p.ID, 2)
	s.NoError(err)
	s.Equal(types.PaymentRecordStatusFailed, failed.RecordStatus)

	last, err := s.GetStores().PlanRepo.GetPaymentRecord(ctx, p.ID, 3)
	s.NoError(err)
	s.Equal(types.PaymentRecordStatusPending, last.RecordStatus)
}

func (s *WebhookProcessorSuite) TestSuspensionRedeliveryAfterPartialWrite() {
	ctx := s.GetContext()
	p := s.createActivePlan("sub_10", "2980.00", 3)

	// a prior attempt failed the record, then crashed before the plan write
	s.Require().NoError(s.GetStores().PlanRepo.MarkPaymentRecordFailed(ctx, p.ID, 1))

	result, err := s.service.ProcessEvent(ctx, &webhook.NormalizedPaymentEvent{
		Kind:           webhook.EventKindPlanSuspended,
		EventID:        "ev_susp_redelivery",
		EventType:      "subscription.suspended",
		SubscriptionID: "sub_10",
	})
	s.NoError(err)
	s.Equal(OutcomeApplied, result.Outcome)
	s.Equal(1, result.PaymentNumber)

	stored, err := s.GetStores().PlanRepo.Get(ctx, p.ID)
	s.NoError(err)
	s.Equal(types.PlanStatusSuspended, stored.PlanStatus)

	record, err := s.GetStores().PlanRepo.GetPaymentRecord(ctx, p.ID, 1)
	s.NoError(err)
	s.Equal(types.PaymentRecordStatusFailed, record.RecordStatus)
	s.NotNil(record.FailedAt)
}

func (s *WebhookProcessorSuite) TestCancellation() {
	ctx := s.GetContext()
	p := s.createActivePlan("sub_8", "100.00", 2)

	result, err := s.service.ProcessEvent(ctx, &webhook.NormalizedPaymentEvent{
		Kind:           webhook.EventKindPlanCancelled,
		EventID:        "ev_cancel",
		EventType:      "subscription.cancelled",
		SubscriptionID: "sub_8",
	})
	s.NoError(err)
	s.Equal(OutcomeApplied, result.Outcome)

	stored, err := s.GetStores().PlanRepo.Get(ctx, p.ID)
	s.NoError(err)
	s.Equal(types.PlanStatusCancelled, stored.PlanStatus)

	again, err := s.service.ProcessEvent(ctx, &webhook.NormalizedPaymentEvent{
		Kind:           webhook.EventKindPlanCancelled,
		EventID:        "ev_cancel_2",
		SubscriptionID: "sub_8",
	})
	s.NoError(err)
	s.Equal(OutcomeDuplicate, again.Outcome)

	calls := s.GetSink().Calls()
	s.Require().Len(calls, 1)
	s.Equal("plan_cancelled", calls[0].Kind)
}

func (s *WebhookProcessorSuite) TestUnknownSubscriptionIsBenign() {
	ctx := s.GetContext()

	result, err := s.service.ProcessEvent(ctx, paidEvent("sub_unknown", "txn_1"))
	s.NoError(err)
	s.Equal(OutcomePlanNotFound, result.Outcome)

	// no subscription id at all
	event := paidEvent("", "txn_2")
	result, err = s.service.ProcessEvent(ctx, event)
	s.NoError(err)
	s.Equal(OutcomePlanNotFound, result.Outcome)

	s.Empty(s.GetSink().Calls())
}

func (s *WebhookProcessorSuite) TestSinglePaymentPlanIsSkipped() {
	ctx := s.GetContext()

	p := &plan.Plan{
		ID:               types.GenerateUUIDWithPrefix(types.UUIDPrefixPlan),
		OrderID:          "order_single",
		TotalAmount:      decimal.RequireFromString("500.00"),
		InstallmentCount: 0,
		SubscriptionID:   lo.ToPtr("sub_single"),
		PlanStatus:       types.PlanStatusActive,
		BaseModel:        types.GetDefaultBaseModel(ctx),
	}
	s.Require().NoError(s.GetStores().PlanRepo.Create(ctx, p))

	result, err := s.service.ProcessEvent(ctx, paidEvent("sub_single", "txn_1"))
	s.NoError(err)
	s.Equal(OutcomeSkipped, result.Outcome)
}

func (s *WebhookProcessorSuite) TestUnsupportedEventKind() {
	result, err := s.service.ProcessEvent(s.GetContext(), &webhook.NormalizedPaymentEvent{
		Kind:      webhook.EventKindUnsupported,
		EventID:   "ev_x",
		EventType: "customer.updated",
	})
	s.NoError(err)
	s.Equal(OutcomeUnsupported, result.Outcome)
	s.Empty(s.GetSink().Calls())
}

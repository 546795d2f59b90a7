package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/planpay/planpay/internal/domain/plan"
	ierr "github.com/planpay/planpay/internal/errors"
	"github.com/planpay/planpay/internal/types"
)

// InMemoryPlanStore implements plan.Repository. All reads return copies so
// concurrent callers never share a mutable plan, and UpdateProgress performs
// the same compare-and-swap on completed_payments as the postgres repository.
type InMemoryPlanStore struct {
	mu      sync.RWMutex
	plans   map[string]*plan.Plan
	records map[string][]*plan.PaymentRecord
}

// NewInMemoryPlanStore creates a new in-memory plan store
func NewInMemoryPlanStore() *InMemoryPlanStore {
	return &InMemoryPlanStore{
		plans:   make(map[string]*plan.Plan),
		records: make(map[string][]*plan.PaymentRecord),
	}
}

func copyPlan(p *plan.Plan) *plan.Plan {
	c := *p
	return &c
}

func copyRecord(r *plan.PaymentRecord) *plan.PaymentRecord {
	c := *r
	return &c
}

func (s *InMemoryPlanStore) Create(ctx context.Context, p *plan.Plan) error {
	if p == nil {
		return ierr.NewError("plan cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID]; exists {
		return ierr.NewError("payment plan already exists").
			Mark(ierr.ErrAlreadyExists)
	}

	s.plans[p.ID] = copyPlan(p)
	return nil
}

func (s *InMemoryPlanStore) Get(ctx context.Context, id string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, exists := s.plans[id]; exists {
		return copyPlan(p), nil
	}
	return nil, ierr.NewError("payment plan not found").
		WithHint("Payment plan not found").
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryPlanStore) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.SubscriptionID != nil && *p.SubscriptionID == subscriptionID {
			return copyPlan(p), nil
		}
	}
	return nil, ierr.NewError("payment plan not found").
		WithHint("No plan is linked to this subscription").
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryPlanStore) Update(ctx context.Context, p *plan.Plan) error {
	if p == nil {
		return ierr.NewError("plan cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID]; !exists {
		return ierr.NewError("payment plan not found").
			Mark(ierr.ErrNotFound)
	}

	updated := copyPlan(p)
	updated.UpdatedAt = time.Now().UTC()
	updated.UpdatedBy = types.GetUserID(ctx)
	s.plans[p.ID] = updated
	return nil
}

// UpdateProgress mirrors the postgres CAS semantics: the write only lands when
// the stored counter still equals ExpectedCompletedPayments.
func (s *InMemoryPlanStore) UpdateProgress(ctx context.Context, p *plan.Plan, update plan.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.plans[p.ID]
	if !exists {
		return ierr.NewError("payment plan not found").
			Mark(ierr.ErrNotFound)
	}
	if stored.CompletedPayments != update.ExpectedCompletedPayments {
		return ierr.NewError("plan progress moved concurrently").
			WithHint("The plan was updated by a concurrent delivery").
			Mark(ierr.ErrVersionConflict)
	}

	now := time.Now().UTC()
	updated := copyPlan(stored)
	updated.CompletedPayments = update.CompletedPayments
	updated.PlanStatus = update.PlanStatus
	if update.MarkOrderPaid {
		updated.OrderPaidAt = &now
	}
	updated.UpdatedAt = now
	updated.UpdatedBy = types.GetUserID(ctx)
	s.plans[p.ID] = updated
	return nil
}

func (s *InMemoryPlanStore) List(ctx context.Context, filter *types.PlanFilter) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*plan.Plan
	for _, p := range s.plans {
		if planMatchesFilter(p, filter) {
			result = append(result, copyPlan(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter != nil && !filter.IsUnlimited() {
		start := filter.GetOffset()
		if start >= len(result) {
			return []*plan.Plan{}, nil
		}
		end := start + filter.GetLimit()
		if end > len(result) {
			end = len(result)
		}
		result = result[start:end]
	}
	return result, nil
}

func (s *InMemoryPlanStore) Count(ctx context.Context, filter *types.PlanFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.plans {
		if planMatchesFilter(p, filter) {
			count++
		}
	}
	return count, nil
}

func planMatchesFilter(p *plan.Plan, filter *types.PlanFilter) bool {
	if filter == nil {
		return true
	}
	if filter.PlanStatus != nil && p.PlanStatus != *filter.PlanStatus {
		return false
	}
	if filter.OrderID != nil && p.OrderID != *filter.OrderID {
		return false
	}
	return true
}

func (s *InMemoryPlanStore) CreatePaymentRecords(ctx context.Context, records []*plan.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		s.records[r.PlanID] = append(s.records[r.PlanID], copyRecord(r))
	}
	return nil
}

func (s *InMemoryPlanStore) GetPaymentRecord(ctx context.Context, planID string, paymentNumber int) (*plan.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records[planID] {
		if r.PaymentNumber == paymentNumber {
			return copyRecord(r), nil
		}
	}
	return nil, ierr.NewError("payment record not found").
		WithHintf("No payment record #%d for this plan", paymentNumber).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryPlanStore) UpdatePaymentRecord(ctx context.Context, record *plan.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.records[record.PlanID]
	for i, r := range list {
		if r.PaymentNumber == record.PaymentNumber {
			updated := copyRecord(record)
			updated.UpdatedAt = time.Now().UTC()
			updated.UpdatedBy = types.GetUserID(ctx)
			list[i] = updated
			return nil
		}
	}
	return ierr.NewError("payment record not found").
		Mark(ierr.ErrNotFound)
}

// MarkPaymentRecordPaid applies the guarded paid transition: an already-paid
// record yields ErrVersionConflict, matching the postgres repository.
func (s *InMemoryPlanStore) MarkPaymentRecordPaid(ctx context.Context, planID string, paymentNumber int, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.records[planID]
	for i, r := range list {
		if r.PaymentNumber != paymentNumber {
			continue
		}
		if r.RecordStatus == types.PaymentRecordStatusPaid {
			return ierr.NewError("payment record already paid").
				WithHint("The record was paid by a concurrent delivery").
				Mark(ierr.ErrVersionConflict)
		}
		now := time.Now().UTC()
		updated := copyRecord(r)
		updated.RecordStatus = types.PaymentRecordStatusPaid
		updated.PaidAt = &now
		updated.FailedAt = nil
		if transactionID != "" {
			updated.TransactionID = &transactionID
		} else {
			updated.TransactionID = nil
		}
		updated.UpdatedAt = now
		updated.UpdatedBy = types.GetUserID(ctx)
		list[i] = updated
		return nil
	}
	return ierr.NewError("payment record not found").
		Mark(ierr.ErrNotFound)
}

// MarkPaymentRecordFailed applies the guarded failed transition: only a
// pending record can fail, matching the postgres repository.
func (s *InMemoryPlanStore) MarkPaymentRecordFailed(ctx context.Context, planID string, paymentNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.records[planID]
	for i, r := range list {
		if r.PaymentNumber != paymentNumber {
			continue
		}
		if r.RecordStatus != types.PaymentRecordStatusPending {
			return ierr.NewError("payment record no longer pending").
				WithHint("The record was claimed by a concurrent delivery").
				Mark(ierr.ErrVersionConflict)
		}
		now := time.Now().UTC()
		updated := copyRecord(r)
		updated.RecordStatus = types.PaymentRecordStatusFailed
		updated.FailedAt = &now
		updated.UpdatedAt = now
		updated.UpdatedBy = types.GetUserID(ctx)
		list[i] = updated
		return nil
	}
	return ierr.NewError("payment record not found").
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryPlanStore) ListPaymentRecords(ctx context.Context, planID string) ([]*plan.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.PaymentRecord, 0, len(s.records[planID]))
	for _, r := range s.records[planID] {
		result = append(result, copyRecord(r))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PaymentNumber < result[j].PaymentNumber
	})
	return result, nil
}

// Clear clears the plan store
func (s *InMemoryPlanStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = make(map[string]*plan.Plan)
	s.records = make(map[string][]*plan.PaymentRecord)
}

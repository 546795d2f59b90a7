package testutil

import (
	"context"
	"sync"

	"github.com/planpay/planpay/internal/domain/plan"
)

// SinkCall records a single notification delivered to the in-memory sink
type SinkCall struct {
	Kind          string
	PlanID        string
	PaymentNumber int
}

// InMemorySink implements notification.Sink and records every call so tests
// can assert what was sent after a transition committed.
type InMemorySink struct {
	mu    sync.Mutex
	calls []SinkCall
}

// NewInMemorySink creates a new recording sink
func NewInMemorySink() *InMemorySink {
	return &InMemorySink{}
}

func (s *InMemorySink) NotifyInstallmentPaid(ctx context.Context, p *plan.Plan, paymentNumber int) error {
	s.record(SinkCall{Kind: "installment_paid", PlanID: p.ID, PaymentNumber: paymentNumber})
	return nil
}

func (s *InMemorySink) NotifyPlanSuspended(ctx context.Context, p *plan.Plan) error {
	s.record(SinkCall{Kind: "plan_suspended", PlanID: p.ID})
	return nil
}

func (s *InMemorySink) NotifyPlanCancelled(ctx context.Context, p *plan.Plan) error {
	s.record(SinkCall{Kind: "plan_cancelled", PlanID: p.ID})
	return nil
}

func (s *InMemorySink) record(call SinkCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

// Calls returns a snapshot of everything recorded so far
func (s *InMemorySink) Calls() []SinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SinkCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Clear resets the recorded calls
func (s *InMemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

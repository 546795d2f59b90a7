package plan

import (
	"context"

	"github.com/planpay/planpay/internal/types"
)

// ProgressUpdate carries the fields touched by a single state-machine
// transition on a plan.
type ProgressUpdate struct {
	// ExpectedCompletedPayments is the counter value the caller read before
	// deciding the transition. The write must fail with a version conflict if
	// the stored counter no longer matches, so concurrent deliveries for the
	// same subscription cannot both claim the same installment.
	ExpectedCompletedPayments int
	CompletedPayments         int
	PlanStatus                types.PlanStatus
	MarkOrderPaid             bool
}

// Repository defines the interface for payment plan persistence
type Repository interface {
	// Plan operations
	Create(ctx context.Context, plan *Plan) error
	Get(ctx context.Context, id string) (*Plan, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*Plan, error)
	Update(ctx context.Context, plan *Plan) error
	List(ctx context.Context, filter *types.PlanFilter) ([]*Plan, error)
	Count(ctx context.Context, filter *types.PlanFilter) (int, error)

	// UpdateProgress applies a transition's plan-side write with a
	// compare-and-swap on completed_payments. Returns ErrVersionConflict if
	// the stored counter moved since the caller read it. Takes the plan the
	// caller already holds so decorators can invalidate by subscription id
	// without an extra read.
	UpdateProgress(ctx context.Context, p *Plan, update ProgressUpdate) error

	// Payment record operations
	CreatePaymentRecords(ctx context.Context, records []*PaymentRecord) error
	GetPaymentRecord(ctx context.Context, planID string, paymentNumber int) (*PaymentRecord, error)
	UpdatePaymentRecord(ctx context.Context, record *PaymentRecord) error
	ListPaymentRecords(ctx context.Context, planID string) ([]*PaymentRecord, error)

	// MarkPaymentRecordPaid transitions one record to paid, but only if it is
	// not paid already. Returns ErrVersionConflict when a concurrent delivery
	// claimed the record first.
	MarkPaymentRecordPaid(ctx context.Context, planID string, paymentNumber int, transactionID string) error

	// MarkPaymentRecordFailed transitions one record to failed, but only from
	// pending. Returns ErrVersionConflict when the record is no longer
	// pending, so a suspension racing a payment never overwrites a paid slot.
	MarkPaymentRecordFailed(ctx context.Context, planID string, paymentNumber int) error
}

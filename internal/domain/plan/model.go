package plan

import (
	"context"
	"time"

	ierr "github.com/planpay/planpay/internal/errors"
	"github.com/planpay/planpay/internal/types"
	"github.com/shopspring/decimal"
)

// Plan represents one order/quote configured for installment billing.
type Plan struct {
	// Unique identifier for this plan, stable for its lifetime
	ID string `db:"id" json:"id"`
	// The order_id references the owning order/quote
	OrderID string `db:"order_id" json:"order_id"`
	// The total_amount is the full value split across installments, fixed at creation
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	// The installment_count is fixed at creation, always in [2, 12]
	InstallmentCount int `db:"installment_count" json:"installment_count"`
	// The subscription_id is assigned by the payment gateway once the
	// recurring subscription exists; nil until then, unique when present.
	// This is the join key used to match inbound webhooks to a plan.
	SubscriptionID *string `db:"subscription_id" json:"subscription_id,omitempty"`
	// The completed_payments counter is monotonically non-decreasing and
	// bounded by installment_count
	CompletedPayments int `db:"completed_payments" json:"completed_payments"`
	// The plan_status reflects the state machine driven by gateway events
	PlanStatus types.PlanStatus `db:"plan_status" json:"plan_status"`
	// The order_paid_at timestamp is set when the final installment completes
	// and the owning order is considered fully paid
	OrderPaidAt *time.Time `db:"order_paid_at" json:"order_paid_at,omitempty"`

	types.BaseModel
}

// PaymentRecord represents one scheduled installment within a plan. Exactly
// installment_count records exist per plan, created together at plan creation.
type PaymentRecord struct {
	ID string `db:"id" json:"id"`
	// The plan_id references the owning plan; a record's lifetime is bounded
	// by its plan
	PlanID string `db:"plan_id" json:"plan_id"`
	// The payment_number is the 1-based position, contiguous 1..installment_count
	PaymentNumber int `db:"payment_number" json:"payment_number"`
	// The amount equals the first payment for record #1 and the recurring
	// amount for every other record; all amounts sum to the plan total exactly
	Amount decimal.Decimal `db:"amount" json:"amount"`
	// The record_status is pending until the gateway reports the charge
	RecordStatus types.PaymentRecordStatus `db:"record_status" json:"record_status"`
	// The transaction_id is the gateway identifier of the charge that paid
	// this installment, set only on the paid transition
	TransactionID *string `db:"transaction_id" json:"transaction_id,omitempty"`
	// The paid_at timestamp is set only on the paid transition
	PaidAt *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	// The failed_at timestamp is set only on the failed transition
	FailedAt *time.Time `db:"failed_at" json:"failed_at,omitempty"`

	types.BaseModel
}

// New builds a pending plan with its full set of payment records from a
// computed schedule.
func New(ctx context.Context, orderID string, total decimal.Decimal, schedule *Schedule) (*Plan, []*PaymentRecord) {
	p := &Plan{
		ID:                types.GenerateUUIDWithPrefix(types.UUIDPrefixPlan),
		OrderID:           orderID,
		TotalAmount:       total,
		InstallmentCount:  schedule.RemainingOccurrences + 1,
		CompletedPayments: 0,
		PlanStatus:        types.PlanStatusPending,
		BaseModel:         types.GetDefaultBaseModel(ctx),
	}

	records := make([]*PaymentRecord, 0, p.InstallmentCount)
	for i := 1; i <= p.InstallmentCount; i++ {
		amount := schedule.RecurringAmount
		if i == 1 {
			amount = schedule.FirstPayment
		}
		records = append(records, &PaymentRecord{
			ID:            types.GenerateUUIDWithPrefix(types.UUIDPrefixPaymentRecord),
			PlanID:        p.ID,
			PaymentNumber: i,
			Amount:        amount,
			RecordStatus:  types.PaymentRecordStatusPending,
			BaseModel:     types.GetDefaultBaseModel(ctx),
		})
	}

	return p, records
}

// Validate checks the structural invariants of a plan
func (p *Plan) Validate() error {
	if p.OrderID == "" {
		return ierr.NewError("invalid order id").
			WithHint("Order id is required").
			Mark(ierr.ErrValidation)
	}
	if p.TotalAmount.IsZero() || p.TotalAmount.IsNegative() {
		return ierr.NewError("invalid total amount").
			WithHint("Total amount must be greater than 0").
			Mark(ierr.ErrValidation)
	}
	if p.InstallmentCount < MinInstallments || p.InstallmentCount > MaxInstallments {
		return ierr.NewError("invalid installment count").
			WithHintf("Installment count must be between %d and %d", MinInstallments, MaxInstallments).
			Mark(ierr.ErrValidation)
	}
	if p.CompletedPayments < 0 || p.CompletedPayments > p.InstallmentCount {
		return ierr.NewError("completed payments out of range").
			WithHint("Completed payments must be between 0 and the installment count").
			Mark(ierr.ErrValidation)
	}
	if err := p.PlanStatus.Validate(); err != nil {
		return ierr.WithError(err).
			WithHint("Plan status is invalid").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsInstallmentPlan reports whether this plan participates in the installment
// state machine at all. Single-payment orders share the table but carry an
// installment count of zero.
func (p *Plan) IsInstallmentPlan() bool {
	return p.InstallmentCount >= MinInstallments
}

// TableName returns the table name for the plan
func (p *Plan) TableName() string {
	return "payment_plans"
}

// TableName returns the table name for the payment record
func (r *PaymentRecord) TableName() string {
	return "payment_records"
}

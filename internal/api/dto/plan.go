package dto

import (
	"context"
	"time"

	"github.com/planpay/planpay/internal/domain/plan"
	ierr "github.com/planpay/planpay/internal/errors"
	"github.com/planpay/planpay/internal/types"
	"github.com/shopspring/decimal"
)

// CreatePlanRequest creates a payment plan for an order: the total is split
// into installment_count rounded installments and the full set of payment
// records is created up front.
type CreatePlanRequest struct {
	OrderID          string          `json:"order_id" binding:"required"`
	TotalAmount      decimal.Decimal `json:"total_amount" binding:"required"`
	InstallmentCount int             `json:"installment_count" binding:"required"`
}

func (r *CreatePlanRequest) Validate() error {
	if r.OrderID == "" {
		return ierr.NewError("order id is required").
			WithHint("Order ID is required").
			Mark(ierr.ErrValidation)
	}
	if _, err := plan.ComputeSchedule(r.TotalAmount, r.InstallmentCount); err != nil {
		return err
	}
	return nil
}

// ValidatePlanRequest backs the pre-submission form validation endpoint
type ValidatePlanRequest struct {
	TotalAmount      decimal.Decimal `json:"total_amount"`
	InstallmentCount int             `json:"installment_count"`
}

// ValidatePlanResponse reports whether the parameters are acceptable and a
// human-readable reason when they are not
type ValidatePlanResponse struct {
	Valid    bool           `json:"valid"`
	Reason   string         `json:"reason,omitempty"`
	Schedule *plan.Schedule `json:"schedule,omitempty"`
}

// ActivatePlanRequest links a gateway subscription to a pending plan
type ActivatePlanRequest struct {
	SubscriptionID string `json:"subscription_id" binding:"required"`
}

// PlanResponse is the API representation of a payment plan
type PlanResponse struct {
	ID                string           `json:"id"`
	OrderID           string           `json:"order_id"`
	TotalAmount       decimal.Decimal  `json:"total_amount"`
	InstallmentCount  int              `json:"installment_count"`
	SubscriptionID    *string          `json:"subscription_id,omitempty"`
	CompletedPayments int              `json:"completed_payments"`
	PlanStatus        types.PlanStatus `json:"plan_status"`
	OrderPaidAt       *time.Time       `json:"order_paid_at,omitempty"`
	Schedule          *plan.Schedule   `json:"schedule,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NewPlanResponse converts a domain plan to its API representation
func NewPlanResponse(p *plan.Plan) *PlanResponse {
	return &PlanResponse{
		ID:                p.ID,
		OrderID:           p.OrderID,
		TotalAmount:       p.TotalAmount,
		InstallmentCount:  p.InstallmentCount,
		SubscriptionID:    p.SubscriptionID,
		CompletedPayments: p.CompletedPayments,
		PlanStatus:        p.PlanStatus,
		OrderPaidAt:       p.OrderPaidAt,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// PaymentRecordResponse is the API representation of one installment
type PaymentRecordResponse struct {
	ID            string                    `json:"id"`
	PlanID        string                    `json:"plan_id"`
	PaymentNumber int                       `json:"payment_number"`
	Amount        decimal.Decimal           `json:"amount"`
	RecordStatus  types.PaymentRecordStatus `json:"record_status"`
	TransactionID *string                   `json:"transaction_id,omitempty"`
	PaidAt        *time.Time                `json:"paid_at,omitempty"`
	FailedAt      *time.Time                `json:"failed_at,omitempty"`
}

// NewPaymentRecordResponse converts a domain payment record
func NewPaymentRecordResponse(r *plan.PaymentRecord) *PaymentRecordResponse {
	return &PaymentRecordResponse{
		ID:            r.ID,
		PlanID:        r.PlanID,
		PaymentNumber: r.PaymentNumber,
		Amount:        r.Amount,
		RecordStatus:  r.RecordStatus,
		TransactionID: r.TransactionID,
		PaidAt:        r.PaidAt,
		FailedAt:      r.FailedAt,
	}
}

// ListPlansResponse is the paginated plan list
type ListPlansResponse struct {
	Items []*PlanResponse `json:"items"`
	Total int             `json:"total"`
}

// ListPaymentRecordsResponse lists a plan's installments in payment order
type ListPaymentRecordsResponse struct {
	Items []*PaymentRecordResponse `json:"items"`
}

// ToPlan builds the domain objects for a create request
func (r *CreatePlanRequest) ToPlan(ctx context.Context) (*plan.Plan, []*plan.PaymentRecord, error) {
	schedule, err := plan.ComputeSchedule(r.TotalAmount, r.InstallmentCount)
	if err != nil {
		return nil, nil, err
	}
	p, records := plan.New(ctx, r.OrderID, r.TotalAmount, schedule)
	return p, records, nil
}

package types

import (
	"fmt"

	"github.com/samber/lo"
)

// PlanStatus represents the lifecycle state of a payment plan
type PlanStatus string

const (
	// PlanStatusPending means the plan exists but no gateway subscription has
	// been linked to it yet.
	PlanStatusPending PlanStatus = "pending"
	// PlanStatusActive means the subscription is running and at least one
	// installment has been collected.
	PlanStatusActive PlanStatus = "active"
	// PlanStatusCompleted is terminal: every installment was collected.
	PlanStatusCompleted PlanStatus = "completed"
	// PlanStatusSuspended is terminal unless an operator reactivates the plan
	// out of band.
	PlanStatusSuspended PlanStatus = "suspended"
	// PlanStatusCancelled is terminal.
	PlanStatusCancelled PlanStatus = "cancelled"
)

func (s PlanStatus) String() string {
	return string(s)
}

func (s PlanStatus) Validate() error {
	allowed := []PlanStatus{
		PlanStatusPending,
		PlanStatusActive,
		PlanStatusCompleted,
		PlanStatusSuspended,
		PlanStatusCancelled,
	}
	if !lo.Contains(allowed, s) {
		return fmt.Errorf("invalid plan status: %s", s)
	}
	return nil
}

// IsTerminal reports whether webhook events may still move the plan forward
func (s PlanStatus) IsTerminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusSuspended || s == PlanStatusCancelled
}

// PaymentRecordStatus represents the state of a single installment
type PaymentRecordStatus string

const (
	PaymentRecordStatusPending PaymentRecordStatus = "pending"
	PaymentRecordStatusPaid    PaymentRecordStatus = "paid"
	PaymentRecordStatusFailed  PaymentRecordStatus = "failed"
)

func (s PaymentRecordStatus) String() string {
	return string(s)
}

func (s PaymentRecordStatus) Validate() error {
	allowed := []PaymentRecordStatus{
		PaymentRecordStatusPending,
		PaymentRecordStatusPaid,
		PaymentRecordStatusFailed,
	}
	if !lo.Contains(allowed, s) {
		return fmt.Errorf("invalid payment record status: %s", s)
	}
	return nil
}

// PlanFilter represents the filter for listing payment plans
type PlanFilter struct {
	*QueryFilter

	PlanIDs    []string    `form:"plan_ids"`
	PlanStatus *PlanStatus `form:"plan_status"`
	OrderID    *string     `form:"order_id"`
}

// NewPlanFilter creates a plan filter with default pagination
func NewPlanFilter() *PlanFilter {
	return &PlanFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

// Validate validates the plan filter
func (f *PlanFilter) Validate() error {
	if f == nil {
		return nil
	}
	if err := f.QueryFilter.Validate(); err != nil {
		return err
	}
	if f.PlanStatus != nil {
		if err := f.PlanStatus.Validate(); err != nil {
			return err
		}
	}
	return nil
}

package plan

import (
	"fmt"

	ierr "github.com/planpay/planpay/internal/errors"
	"github.com/shopspring/decimal"
)

const (
	MinInstallments = 2
	MaxInstallments = 12
)

var (
	hundred = decimal.NewFromInt(100)
	// minRecurringAmount is a business floor for form validation, not an
	// internal invariant
	minRecurringAmount = decimal.NewFromInt(1)
)

// Schedule is the result of splitting a total into rounded installments.
// The first payment absorbs the rounding remainder so that
// FirstPayment + RecurringAmount * RemainingOccurrences equals the total to
// the cent.
type Schedule struct {
	FirstPayment decimal.Decimal `json:"first_payment"`
	// RecurringAmount is charged for every installment after the first
	RecurringAmount decimal.Decimal `json:"recurring_amount"`
	// RemainingOccurrences is the number of recurring charges the gateway
	// subscription should run; the first payment is collected out-of-band
	// at plan creation
	RemainingOccurrences int `json:"remaining_occurrences"`
}

// ComputeSchedule splits total into installments rounded to the cent. The
// recurring amount is the total divided by the count rounded down to the
// cent, and the first payment picks up whatever remainder that rounding
// leaves behind.
func ComputeSchedule(total decimal.Decimal, installments int) (*Schedule, error) {
	if total.IsZero() || total.IsNegative() {
		return nil, ierr.NewError("invalid plan parameters").
			WithHint("Total amount must be greater than 0").
			WithReportableDetails(map[string]any{
				"total_amount": total.String(),
			}).
			Mark(ierr.ErrValidation)
	}
	if installments < MinInstallments || installments > MaxInstallments {
		return nil, ierr.NewError("invalid plan parameters").
			WithHintf("Installment count must be between %d and %d", MinInstallments, MaxInstallments).
			WithReportableDetails(map[string]any{
				"installments": installments,
			}).
			Mark(ierr.ErrValidation)
	}

	count := decimal.NewFromInt(int64(installments))

	// floor(total * 100 / n) / 100: round the per-installment amount down to
	// the cent so the schedule never overshoots the total
	base := total.Mul(hundred).Div(count).Floor().Div(hundred)
	remainder := total.Sub(base.Mul(count)).Round(2)
	first := base.Add(remainder).Round(2)

	return &Schedule{
		FirstPayment:         first,
		RecurringAmount:      base,
		RemainingOccurrences: installments - 1,
	}, nil
}

// ValidateSchedule applies the same constraints as ComputeSchedule plus the
// business rule that the recurring amount must be at least 1.00. It reports
// a human-readable reason instead of failing because it backs pre-submission
// form validation.
func ValidateSchedule(total decimal.Decimal, installments int) (string, bool) {
	if total.IsZero() || total.IsNegative() {
		return "total amount must be greater than zero", false
	}
	if installments < MinInstallments || installments > MaxInstallments {
		return fmt.Sprintf("installment count must be between %d and %d", MinInstallments, MaxInstallments), false
	}

	schedule, err := ComputeSchedule(total, installments)
	if err != nil {
		return "plan parameters are invalid", false
	}
	if schedule.RecurringAmount.LessThan(minRecurringAmount) {
		return fmt.Sprintf("recurring amount %s is below the 1.00 minimum", schedule.RecurringAmount.StringFixed(2)), false
	}

	return "", true
}

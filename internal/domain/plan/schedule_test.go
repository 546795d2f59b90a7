package plan

import (
	"context"
	"testing"

	ierr "github.com/planpay/planpay/internal/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSchedule(t *testing.T) {
	tests := []struct {
		name          string
		total         string
		installments  int
		wantFirst     string
		wantRecurring string
	}{
		{
			name:          "even split",
			total:         "3000.00",
			installments:  3,
			wantFirst:     "1000.00",
			wantRecurring: "1000.00",
		},
		{
			name:          "remainder lands on first payment",
			total:         "2980.00",
			installments:  3,
			wantFirst:     "993.34",
			wantRecurring: "993.33",
		},
		{
			name:          "cent-level total",
			total:         "100.01",
			installments:  2,
			wantFirst:     "50.01",
			wantRecurring: "50.00",
		},
		{
			name:          "max installments",
			total:         "1000.00",
			installments:  12,
			wantFirst:     "83.37",
			wantRecurring: "83.33",
		},
		{
			name:          "small amounts",
			total:         "0.05",
			installments:  2,
			wantFirst:     "0.03",
			wantRecurring: "0.02",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, err := decimal.NewFromString(tt.total)
			require.NoError(t, err)

			schedule, err := ComputeSchedule(total, tt.installments)
			require.NoError(t, err)

			assert.Equal(t, tt.wantFirst, schedule.FirstPayment.StringFixed(2))
			assert.Equal(t, tt.wantRecurring, schedule.RecurringAmount.StringFixed(2))
			assert.Equal(t, tt.installments-1, schedule.RemainingOccurrences)

			// the schedule must reproduce the total to the cent
			sum := schedule.FirstPayment.Add(
				schedule.RecurringAmount.Mul(decimal.NewFromInt(int64(schedule.RemainingOccurrences))))
			assert.True(t, sum.Equal(total),
				"first %s + recurring %s x %d = %s, want %s",
				schedule.FirstPayment, schedule.RecurringAmount,
				schedule.RemainingOccurrences, sum, total)

			// never more than one cent above the recurring amount
			diff := schedule.FirstPayment.Sub(schedule.RecurringAmount)
			assert.True(t, diff.GreaterThanOrEqual(decimal.Zero))
			assert.True(t, diff.LessThan(decimal.NewFromFloat(float64(tt.installments)).Div(decimal.NewFromInt(100)).Add(decimal.NewFromFloat(0.01))))
		})
	}
}

func TestComputeScheduleExactSumAcrossRange(t *testing.T) {
	totals := []string{"2980.00", "101.01", "999.99", "1.27", "54321.99"}
	for _, raw := range totals {
		total := decimal.RequireFromString(raw)
		for n := MinInstallments; n <= MaxInstallments; n++ {
			schedule, err := ComputeSchedule(total, n)
			require.NoError(t, err)

			sum := schedule.FirstPayment.Add(
				schedule.RecurringAmount.Mul(decimal.NewFromInt(int64(n - 1))))
			assert.True(t, sum.Equal(total), "total %s over %d installments", raw, n)
		}
	}
}

func TestComputeScheduleInvalidParameters(t *testing.T) {
	tests := []struct {
		name         string
		total        string
		installments int
	}{
		{"zero total", "0", 3},
		{"negative total", "-10.00", 3},
		{"single installment", "100.00", 1},
		{"zero installments", "100.00", 0},
		{"too many installments", "100.00", 13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeSchedule(decimal.RequireFromString(tt.total), tt.installments)
			require.Error(t, err)
			assert.True(t, ierr.IsValidation(err))
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	reason, ok := ValidateSchedule(decimal.RequireFromString("2980.00"), 3)
	assert.True(t, ok)
	assert.Empty(t, reason)

	reason, ok = ValidateSchedule(decimal.RequireFromString("2980.00"), 13)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)

	reason, ok = ValidateSchedule(decimal.Zero, 3)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)

	// recurring amount below the 1.00 business floor
	reason, ok = ValidateSchedule(decimal.RequireFromString("2.50"), 3)
	assert.False(t, ok)
	assert.Contains(t, reason, "1.00")
}

func TestNewPlanRecords(t *testing.T) {
	ctx := context.Background()
	total := decimal.RequireFromString("2980.00")

	schedule, err := ComputeSchedule(total, 3)
	require.NoError(t, err)

	p, records := New(ctx, "order-123", total, schedule)
	require.NoError(t, p.Validate())

	assert.Equal(t, 3, p.InstallmentCount)
	assert.Equal(t, 0, p.CompletedPayments)
	require.Len(t, records, 3)

	sum := decimal.Zero
	for i, record := range records {
		assert.Equal(t, p.ID, record.PlanID)
		assert.Equal(t, i+1, record.PaymentNumber)
		sum = sum.Add(record.Amount)
	}
	assert.Equal(t, "993.34", records[0].Amount.StringFixed(2))
	assert.Equal(t, "993.33", records[1].Amount.StringFixed(2))
	assert.True(t, sum.Equal(total))
}

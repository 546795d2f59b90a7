package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/planpay/planpay/internal/domain/plan"
	ierr "github.com/planpay/planpay/internal/errors"
	"github.com/planpay/planpay/internal/logger"
	"github.com/planpay/planpay/internal/postgres"
	"github.com/planpay/planpay/internal/types"
)

type planRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

// NewPlanRepository creates a new instance of plan repository
func NewPlanRepository(db *postgres.DB, logger *logger.Logger) plan.Repository {
	return &planRepository{
		db:     db,
		logger: logger,
	}
}

func (r *planRepository) Create(ctx context.Context, p *plan.Plan) error {
	query := `
		INSERT INTO payment_plans (
			id, order_id, total_amount, installment_count, subscription_id,
			completed_payments, plan_status, order_paid_at,
			tenant_id, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :order_id, :total_amount, :installment_count, :subscription_id,
			:completed_payments, :plan_status, :order_paid_at,
			:tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by
		)`

	r.logger.Debugw("creating payment plan",
		"plan_id", p.ID,
		"order_id", p.OrderID,
		"tenant_id", types.GetTenantID(ctx),
	)

	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create payment plan").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *planRepository) Get(ctx context.Context, id string) (*plan.Plan, error) {
	query := `
		SELECT * FROM payment_plans
		WHERE id = :id
		AND tenant_id = :tenant_id
		AND status = :status`

	return r.getOne(ctx, query, map[string]interface{}{
		"id":        id,
		"tenant_id": types.GetTenantID(ctx),
		"status":    types.StatusPublished,
	})
}

func (r *planRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*plan.Plan, error) {
	query := `
		SELECT * FROM payment_plans
		WHERE subscription_id = :subscription_id
		AND tenant_id = :tenant_id
		AND status = :status`

	return r.getOne(ctx, query, map[string]interface{}{
		"subscription_id": subscriptionID,
		"tenant_id":       types.GetTenantID(ctx),
		"status":          types.StatusPublished,
	})
}

func (r *planRepository) getOne(ctx context.Context, query string, params map[string]interface{}) (*plan.Plan, error) {
	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query payment plan").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ierr.NewError("payment plan not found").
			WithHint("Payment plan not found").
			Mark(ierr.ErrNotFound)
	}

	var p plan.Plan
	if err := rows.StructScan(&p); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to scan payment plan").
			Mark(ierr.ErrDatabase)
	}
	return &p, nil
}

func (r *planRepository) Update(ctx context.Context, p *plan.Plan) error {
	p.UpdatedAt = time.Now().UTC()
	p.UpdatedBy = types.GetUserID(ctx)

	query := `
		UPDATE payment_plans
		SET
			subscription_id = :subscription_id,
			completed_payments = :completed_payments,
			plan_status = :plan_status,
			order_paid_at = :order_paid_at,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id
		AND tenant_id = :tenant_id
		AND status = :status`

	params := map[string]interface{}{
		"id":                 p.ID,
		"subscription_id":    p.SubscriptionID,
		"completed_payments": p.CompletedPayments,
		"plan_status":        p.PlanStatus,
		"order_paid_at":      p.OrderPaidAt,
		"updated_at":         p.UpdatedAt,
		"updated_by":         p.UpdatedBy,
		"tenant_id":          types.GetTenantID(ctx),
		"status":             types.StatusPublished,
	}

	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update payment plan").
			Mark(ierr.ErrDatabase)
	}
	return requireRowAffected(result, "payment plan not found")
}

// UpdateProgress applies a transition's plan-side write guarded by a
// compare-and-swap on completed_payments. Two concurrent deliveries for the
// same subscription both read the same counter, but only one of them can
// satisfy the WHERE clause; the loser sees ErrVersionConflict and re-reads.
func (r *planRepository) UpdateProgress(ctx context.Context, p *plan.Plan, update plan.ProgressUpdate) error {
	now := time.Now().UTC()

	query := `
		UPDATE payment_plans
		SET
			completed_payments = :completed_payments,
			plan_status = :plan_status,
			order_paid_at = CASE WHEN :mark_order_paid THEN :now ELSE order_paid_at END,
			updated_at = :now,
			updated_by = :updated_by
		WHERE id = :id
		AND completed_payments = :expected_completed_payments
		AND tenant_id = :tenant_id
		AND status = :status`

	params := map[string]interface{}{
		"id":                          p.ID,
		"completed_payments":          update.CompletedPayments,
		"expected_completed_payments": update.ExpectedCompletedPayments,
		"plan_status":                 update.PlanStatus,
		"mark_order_paid":             update.MarkOrderPaid,
		"now":                         now,
		"updated_by":                  types.GetUserID(ctx),
		"tenant_id":                   types.GetTenantID(ctx),
		"status":                      types.StatusPublished,
	}

	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update plan progress").
			Mark(ierr.ErrDatabase)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to read affected rows").
			Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewError("plan progress moved concurrently").
			WithHint("The plan was updated by a concurrent delivery").
			WithReportableDetails(map[string]any{
				"plan_id":            p.ID,
				"expected_completed": update.ExpectedCompletedPayments,
			}).
			Mark(ierr.ErrVersionConflict)
	}
	return nil
}

func (r *planRepository) List(ctx context.Context, filter *types.PlanFilter) ([]*plan.Plan, error) {
	query := `
		SELECT * FROM payment_plans
		WHERE tenant_id = :tenant_id
		AND status = :status`
	params := map[string]interface{}{
		"tenant_id": types.GetTenantID(ctx),
		"status":    types.StatusPublished,
	}

	if filter != nil && filter.PlanStatus != nil {
		query += ` AND plan_status = :plan_status`
		params["plan_status"] = *filter.PlanStatus
	}
	if filter != nil && filter.OrderID != nil {
		query += ` AND order_id = :order_id`
		params["order_id"] = *filter.OrderID
	}

	query += ` ORDER BY created_at DESC`
	if filter != nil && !filter.IsUnlimited() {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.GetLimit(), filter.GetOffset())
	}

	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list payment plans").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var plans []*plan.Plan
	for rows.Next() {
		var p plan.Plan
		if err := rows.StructScan(&p); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan payment plan").
				Mark(ierr.ErrDatabase)
		}
		plans = append(plans, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Error iterating payment plan rows").
			Mark(ierr.ErrDatabase)
	}
	return plans, nil
}

func (r *planRepository) Count(ctx context.Context, filter *types.PlanFilter) (int, error) {
	query := `
		SELECT COUNT(*) FROM payment_plans
		WHERE tenant_id = :tenant_id
		AND status = :status`
	params := map[string]interface{}{
		"tenant_id": types.GetTenantID(ctx),
		"status":    types.StatusPublished,
	}

	if filter != nil && filter.PlanStatus != nil {
		query += ` AND plan_status = :plan_status`
		params["plan_status"] = *filter.PlanStatus
	}

	rows, err := r.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count payment plans").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, ierr.WithError(err).
				WithHint("Failed to scan count").
				Mark(ierr.ErrDatabase)
		}
	}
	return count, nil
}

func (r *planRepository) CreatePaymentRecords(ctx context.Context, records []*plan.PaymentRecord) error {
	query := `
		INSERT INTO payment_records (
			id, plan_id, payment_number, amount, record_status,
			transaction_id, paid_at, failed_at,
			tenant_id, status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :plan_id, :payment_number, :amount, :record_status,
			:transaction_id, :paid_at, :failed_at,
			:tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by
		)`

	for _, record := range records {
		if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to create payment records").
				WithReportableDetails(map[string]any{
					"plan_id":        record.PlanID,
					"payment_number": record.PaymentNumber,
				}).
				Mark(ierr.ErrDatabase)
		}
	}
	return nil
}

func (r *planRepository) GetPaymentRecord(ctx context.Context, planID string, paymentNumber int) (*plan.PaymentRecord, error) {
	query := `
		SELECT * FROM payment_records
		WHERE plan_id = :plan_id
		AND payment_number = :payment_number
		AND tenant_id = :tenant_id
		AND status = :status`

	rows, err := r.db.NamedQueryContext(ctx, query, map[string]interface{}{
		"plan_id":        planID,
		"payment_number": paymentNumber,
		"tenant_id":      types.GetTenantID(ctx),
		"status":         types.StatusPublished,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to query payment record").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ierr.NewError("payment record not found").
			WithHintf("No payment record #%d for this plan", paymentNumber).
			Mark(ierr.ErrNotFound)
	}

	var record plan.PaymentRecord
	if err := rows.StructScan(&record); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to scan payment record").
			Mark(ierr.ErrDatabase)
	}
	return &record, nil
}

func (r *planRepository) UpdatePaymentRecord(ctx context.Context, record *plan.PaymentRecord) error {
	record.UpdatedAt = time.Now().UTC()
	record.UpdatedBy = types.GetUserID(ctx)

	query := `
		UPDATE payment_records
		SET
			record_status = :record_status,
			transaction_id = :transaction_id,
			paid_at = :paid_at,
			failed_at = :failed_at,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE plan_id = :plan_id
		AND payment_number = :payment_number
		AND tenant_id = :tenant_id
		AND status = :status`

	params := map[string]interface{}{
		"plan_id":        record.PlanID,
		"payment_number": record.PaymentNumber,
		"record_status":  record.RecordStatus,
		"transaction_id": record.TransactionID,
		"paid_at":        record.PaidAt,
		"failed_at":      record.FailedAt,
		"updated_at":     record.UpdatedAt,
		"updated_by":     record.UpdatedBy,
		"tenant_id":      types.GetTenantID(ctx),
		"status":         types.StatusPublished,
	}

	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update payment record").
			Mark(ierr.ErrDatabase)
	}
	return requireRowAffected(result, "payment record not found")
}

// MarkPaymentRecordPaid is the guarded paid transition: the WHERE clause
// excludes records that are paid already, so of two concurrent deliveries
// aiming at the same slot only one can land.
func (r *planRepository) MarkPaymentRecordPaid(ctx context.Context, planID string, paymentNumber int, transactionID string) error {
	now := time.Now().UTC()

	query := `
		UPDATE payment_records
		SET
			record_status = :paid_status,
			transaction_id = :transaction_id,
			paid_at = :now,
			failed_at = NULL,
			updated_at = :now,
			updated_by = :updated_by
		WHERE plan_id = :plan_id
		AND payment_number = :payment_number
		AND record_status <> :paid_status
		AND tenant_id = :tenant_id
		AND status = :status`

	var txnID *string
	if transactionID != "" {
		txnID = &transactionID
	}

	params := map[string]interface{}{
		"plan_id":        planID,
		"payment_number": paymentNumber,
		"paid_status":    types.PaymentRecordStatusPaid,
		"transaction_id": txnID,
		"now":            now,
		"updated_by":     types.GetUserID(ctx),
		"tenant_id":      types.GetTenantID(ctx),
		"status":         types.StatusPublished,
	}

	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to mark payment record paid").
			Mark(ierr.ErrDatabase)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to read affected rows").
			Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewError("payment record already paid").
			WithHint("The record was paid by a concurrent delivery").
			WithReportableDetails(map[string]any{
				"plan_id":        planID,
				"payment_number": paymentNumber,
			}).
			Mark(ierr.ErrVersionConflict)
	}
	return nil
}

// MarkPaymentRecordFailed is the guarded failed transition: the WHERE clause
// only accepts pending records, so a suspension racing a concurrent payment
// on the same slot conflicts instead of overwriting the paid record.
func (r *planRepository) MarkPaymentRecordFailed(ctx context.Context, planID string, paymentNumber int) error {
	now := time.Now().UTC()

	query := `
		UPDATE payment_records
		SET
			record_status = :failed_status,
			failed_at = :now,
			updated_at = :now,
			updated_by = :updated_by
		WHERE plan_id = :plan_id
		AND payment_number = :payment_number
		AND record_status = :pending_status
		AND tenant_id = :tenant_id
		AND status = :status`

	params := map[string]interface{}{
		"plan_id":        planID,
		"payment_number": paymentNumber,
		"failed_status":  types.PaymentRecordStatusFailed,
		"pending_status": types.PaymentRecordStatusPending,
		"now":            now,
		"updated_by":     types.GetUserID(ctx),
		"tenant_id":      types.GetTenantID(ctx),
		"status":         types.StatusPublished,
	}

	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to mark payment record failed").
			Mark(ierr.ErrDatabase)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to read affected rows").
			Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewError("payment record no longer pending").
			WithHint("The record was claimed by a concurrent delivery").
			WithReportableDetails(map[string]any{
				"plan_id":        planID,
				"payment_number": paymentNumber,
			}).
			Mark(ierr.ErrVersionConflict)
	}
	return nil
}

func (r *planRepository) ListPaymentRecords(ctx context.Context, planID string) ([]*plan.PaymentRecord, error) {
	query := `
		SELECT * FROM payment_records
		WHERE plan_id = :plan_id
		AND tenant_id = :tenant_id
		AND status = :status
		ORDER BY payment_number ASC`

	rows, err := r.db.NamedQueryContext(ctx, query, map[string]interface{}{
		"plan_id":   planID,
		"tenant_id": types.GetTenantID(ctx),
		"status":    types.StatusPublished,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list payment records").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var records []*plan.PaymentRecord
	for rows.Next() {
		var record plan.PaymentRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan payment record").
				Mark(ierr.ErrDatabase)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Error iterating payment record rows").
			Mark(ierr.ErrDatabase)
	}
	return records, nil
}

func requireRowAffected(result sql.Result, notFoundMsg string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to read affected rows").
			Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewError(notFoundMsg).
			WithHint(notFoundMsg).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

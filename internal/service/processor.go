package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/planpay/planpay/internal/domain/plan"
	ierr "github.com/planpay/planpay/internal/errors"
	"github.com/planpay/planpay/internal/gateway/webhook"
	"github.com/planpay/planpay/internal/types"
)

// ProcessOutcome states what a webhook delivery did to plan state. Benign
// no-ops are outcomes, not errors: the gateway must receive a success for
// them so it stops redelivering.
type ProcessOutcome string

const (
	// OutcomeApplied means the transition was committed
	OutcomeApplied ProcessOutcome = "applied"
	// OutcomePlanNotFound means no plan is linked to the subscription
	OutcomePlanNotFound ProcessOutcome = "plan_not_found"
	// OutcomeDuplicate means the delivery repeated a transition already applied
	OutcomeDuplicate ProcessOutcome = "duplicate"
	// OutcomeSkipped means the plan's current state does not accept this event
	OutcomeSkipped ProcessOutcome = "skipped"
	// OutcomeUnsupported means the event kind is outside the taxonomy
	OutcomeUnsupported ProcessOutcome = "unsupported"
)

// ProcessResult describes what one delivery did.
type ProcessResult struct {
	Outcome       ProcessOutcome `json:"outcome"`
	PlanID        string         `json:"plan_id,omitempty"`
	PaymentNumber int            `json:"payment_number,omitempty"`
}

// WebhookProcessorService drives the plan state machine from normalized
// gateway events. Errors returned from ProcessEvent are retryable storage
// failures; everything else resolves to a ProcessResult.
type WebhookProcessorService interface {
	ProcessEvent(ctx context.Context, event *webhook.NormalizedPaymentEvent) (*ProcessResult, error)
}

type webhookProcessorService struct {
	ServiceParams
}

// NewWebhookProcessorService creates a new webhook processor
func NewWebhookProcessorService(params ServiceParams) WebhookProcessorService {
	return &webhookProcessorService{
		ServiceParams: params,
	}
}

func (s *webhookProcessorService) ProcessEvent(ctx context.Context, event *webhook.NormalizedPaymentEvent) (*ProcessResult, error) {
	switch event.Kind {
	case webhook.EventKindInstallmentPaid:
		return s.retryOnConflict(ctx, event, s.applyInstallmentPaid)
	case webhook.EventKindPlanSuspended:
		return s.retryOnConflict(ctx, event, s.applyPlanSuspended)
	case webhook.EventKindPlanCancelled:
		return s.retryOnConflict(ctx, event, s.applyPlanCancelled)
	default:
		s.Logger.Infow("dropping unsupported gateway event",
			"event_id", event.EventID,
			"event_type", event.EventType,
		)
		return &ProcessResult{Outcome: OutcomeUnsupported}, nil
	}
}

// retryOnConflict runs one transition attempt and retries it when the
// plan-side compare-and-swap loses to a concurrent delivery. Each retry
// re-reads the plan and re-derives the transition, so two concurrent distinct
// payments both land and a true duplicate resolves to a no-op.
func (s *webhookProcessorService) retryOnConflict(
	ctx context.Context,
	event *webhook.NormalizedPaymentEvent,
	apply func(context.Context, *webhook.NormalizedPaymentEvent) (*ProcessResult, error),
) (*ProcessResult, error) {
	var result *ProcessResult

	operation := func() error {
		var err error
		result, err = apply(ctx, event)
		if err == nil {
			return nil
		}
		if ierr.IsVersionConflict(err) {
			s.Logger.Debugw("plan progress moved concurrently, retrying",
				"event_id", event.EventID,
				"subscription_id", event.SubscriptionID,
			)
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(10*time.Millisecond),
		backoff.WithMaxInterval(250*time.Millisecond),
	), 5), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}

// applyInstallmentPaid marks the next pending installment paid and advances
// the plan counter. The payment record write lands first and the counter bump
// second, so a crash between the two writes heals itself on redelivery: the
// already-paid record keeps its transaction id and only the counter is
// re-bumped.
func (s *webhookProcessorService) applyInstallmentPaid(ctx context.Context, event *webhook.NormalizedPaymentEvent) (*ProcessResult, error) {
	p, result, err := s.locatePlan(ctx, event)
	if p == nil {
		return result, err
	}

	if p.PlanStatus == types.PlanStatusSuspended || p.PlanStatus == types.PlanStatusCancelled {
		// suspended plans do not resume automatically; reactivation is a
		// manual operator action
		s.Logger.Infow("ignoring payment event for inactive plan",
			"plan_id", p.ID,
			"plan_status", p.PlanStatus,
			"event_id", event.EventID,
		)
		return &ProcessResult{Outcome: OutcomeSkipped, PlanID: p.ID}, nil
	}

	next := p.CompletedPayments + 1
	if next > p.InstallmentCount {
		// duplicate or out-of-order delivery after the plan finished
		s.Logger.Infow("payment event exceeds installment count, ignoring",
			"plan_id", p.ID,
			"completed_payments", p.CompletedPayments,
			"event_id", event.EventID,
		)
		return &ProcessResult{Outcome: OutcomeDuplicate, PlanID: p.ID}, nil
	}

	records, err := s.PlanRepo.ListPaymentRecords(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	// A redelivered event carries the transaction id of a charge already
	// applied to an earlier installment. Without this check the counter
	// re-derivation would happily assign the same charge to the next slot.
	if event.TransactionID != "" {
		for _, record := range records {
			if record.RecordStatus == types.PaymentRecordStatusPaid &&
				record.TransactionID != nil && *record.TransactionID == event.TransactionID &&
				record.PaymentNumber != next {
				s.Logger.Infow("transaction already applied, treating as redelivery",
					"plan_id", p.ID,
					"transaction_id", event.TransactionID,
					"payment_number", record.PaymentNumber,
				)
				return &ProcessResult{Outcome: OutcomeDuplicate, PlanID: p.ID, PaymentNumber: record.PaymentNumber}, nil
			}
		}
	}

	target := findRecord(records, next)
	if target == nil {
		return nil, ierr.NewError("payment record missing").
			WithHintf("Plan has no payment record #%d", next).
			WithReportableDetails(map[string]any{
				"plan_id":        p.ID,
				"payment_number": next,
			}).
			Mark(ierr.ErrDatabase)
	}

	// Record write first, counter bump second. A record already paid with this
	// event's transaction id means a prior attempt crashed between the two
	// writes; keep the record as is and just re-bump the counter. Paid with a
	// DIFFERENT transaction id means our read went stale under a concurrent
	// delivery, so surface a conflict and let the retry re-derive everything.
	if target.RecordStatus == types.PaymentRecordStatusPaid {
		if event.TransactionID != "" &&
			(target.TransactionID == nil || *target.TransactionID != event.TransactionID) {
			return nil, ierr.NewError("installment claimed concurrently").
				WithHint("The installment was paid by a concurrent delivery").
				WithReportableDetails(map[string]any{
					"plan_id":        p.ID,
					"payment_number": next,
				}).
				Mark(ierr.ErrVersionConflict)
		}
	} else {
		if err := s.PlanRepo.MarkPaymentRecordPaid(ctx, p.ID, next, event.TransactionID); err != nil {
			return nil, err
		}
	}

	status := types.PlanStatusActive
	completed := next == p.InstallmentCount
	if completed {
		status = types.PlanStatusCompleted
	}

	update := plan.ProgressUpdate{
		ExpectedCompletedPayments: p.CompletedPayments,
		CompletedPayments:         next,
		PlanStatus:                status,
		MarkOrderPaid:             completed,
	}
	if err := s.PlanRepo.UpdateProgress(ctx, p, update); err != nil {
		return nil, err
	}

	p.CompletedPayments = next
	p.PlanStatus = status

	s.Logger.Infow("installment paid",
		"plan_id", p.ID,
		"payment_number", next,
		"completed_payments", next,
		"plan_status", status,
		"transaction_id", event.TransactionID,
	)

	s.notify(ctx, func(sinkCtx context.Context) error {
		return s.Sink.NotifyInstallmentPaid(sinkCtx, p, next)
	})

	return &ProcessResult{Outcome: OutcomeApplied, PlanID: p.ID, PaymentNumber: next}, nil
}

// applyPlanSuspended marks the installment the gateway failed to collect and
// parks the plan. The plan stays suspended until an operator intervenes.
func (s *webhookProcessorService) applyPlanSuspended(ctx context.Context, event *webhook.NormalizedPaymentEvent) (*ProcessResult, error) {
	p, result, err := s.locatePlan(ctx, event)
	if p == nil {
		return result, err
	}

	if p.PlanStatus.IsTerminal() {
		return &ProcessResult{Outcome: OutcomeDuplicate, PlanID: p.ID}, nil
	}

	failedNumber := p.CompletedPayments + 1
	if failedNumber <= p.InstallmentCount {
		record, err := s.PlanRepo.GetPaymentRecord(ctx, p.ID, failedNumber)
		if err != nil {
			return nil, err
		}

		// Mirror of the paid path: a record already failed means a prior
		// attempt crashed before the plan-side write, so only the plan still
		// needs suspending. A paid record means our read went stale under a
		// concurrent payment; surface a conflict so the retry re-derives the
		// failed slot. Only a pending record takes the guarded failed write,
		// which itself conflicts if a payment claims the slot first.
		switch record.RecordStatus {
		case types.PaymentRecordStatusFailed:
		case types.PaymentRecordStatusPaid:
			return nil, ierr.NewError("installment claimed concurrently").
				WithHint("The installment was paid by a concurrent delivery").
				WithReportableDetails(map[string]any{
					"plan_id":        p.ID,
					"payment_number": failedNumber,
				}).
				Mark(ierr.ErrVersionConflict)
		default:
			if err := s.PlanRepo.MarkPaymentRecordFailed(ctx, p.ID, failedNumber); err != nil {
				return nil, err
			}
		}
	}

	update := plan.ProgressUpdate{
		ExpectedCompletedPayments: p.CompletedPayments,
		CompletedPayments:         p.CompletedPayments,
		PlanStatus:                types.PlanStatusSuspended,
	}
	if err := s.PlanRepo.UpdateProgress(ctx, p, update); err != nil {
		return nil, err
	}

	p.PlanStatus = types.PlanStatusSuspended

	s.Logger.Warnw("payment plan suspended",
		"plan_id", p.ID,
		"failed_payment_number", failedNumber,
		"event_id", event.EventID,
	)

	s.notify(ctx, func(sinkCtx context.Context) error {
		return s.Sink.NotifyPlanSuspended(sinkCtx, p)
	})

	return &ProcessResult{Outcome: OutcomeApplied, PlanID: p.ID, PaymentNumber: failedNumber}, nil
}

func (s *webhookProcessorService) applyPlanCancelled(ctx context.Context, event *webhook.NormalizedPaymentEvent) (*ProcessResult, error) {
	p, result, err := s.locatePlan(ctx, event)
	if p == nil {
		return result, err
	}

	if p.PlanStatus.IsTerminal() {
		return &ProcessResult{Outcome: OutcomeDuplicate, PlanID: p.ID}, nil
	}

	update := plan.ProgressUpdate{
		ExpectedCompletedPayments: p.CompletedPayments,
		CompletedPayments:         p.CompletedPayments,
		PlanStatus:                types.PlanStatusCancelled,
	}
	if err := s.PlanRepo.UpdateProgress(ctx, p, update); err != nil {
		return nil, err
	}

	p.PlanStatus = types.PlanStatusCancelled

	s.Logger.Infow("payment plan cancelled",
		"plan_id", p.ID,
		"event_id", event.EventID,
	)

	s.notify(ctx, func(sinkCtx context.Context) error {
		return s.Sink.NotifyPlanCancelled(sinkCtx, p)
	})

	return &ProcessResult{Outcome: OutcomeApplied, PlanID: p.ID}, nil
}

// locatePlan resolves the event's subscription to a plan. A nil plan with a
// non-nil result is a benign no-op; a nil plan with an error is a storage
// failure the caller must surface.
func (s *webhookProcessorService) locatePlan(ctx context.Context, event *webhook.NormalizedPaymentEvent) (*plan.Plan, *ProcessResult, error) {
	if event.SubscriptionID == "" {
		s.Logger.Infow("event carries no subscription id, ignoring",
			"event_id", event.EventID,
			"event_type", event.EventType,
		)
		return nil, &ProcessResult{Outcome: OutcomePlanNotFound}, nil
	}

	p, err := s.PlanRepo.GetBySubscriptionID(ctx, event.SubscriptionID)
	if err != nil {
		if ierr.IsNotFound(err) {
			// a subscription this system did not create, or one not yet linked
			s.Logger.Infow("no plan linked to subscription, ignoring",
				"subscription_id", event.SubscriptionID,
				"event_id", event.EventID,
			)
			return nil, &ProcessResult{Outcome: OutcomePlanNotFound}, nil
		}
		return nil, nil, err
	}

	if !p.IsInstallmentPlan() {
		s.Logger.Infow("plan is not an installment plan, ignoring",
			"plan_id", p.ID,
			"event_id", event.EventID,
		)
		return nil, &ProcessResult{Outcome: OutcomeSkipped, PlanID: p.ID}, nil
	}

	return p, nil, nil
}

// notify runs a post-commit hook with a bounded timeout detached from the
// request context, so a cancelled webhook delivery or a slow target never
// touches the committed transition.
func (s *webhookProcessorService) notify(ctx context.Context, fn func(context.Context) error) {
	if s.Sink == nil {
		return
	}

	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Config.Notification.Timeout())
	defer cancel()

	if err := fn(sinkCtx); err != nil {
		s.Logger.Warnw("post-commit notification failed", "error", err)
	}
}

func findRecord(records []*plan.PaymentRecord, paymentNumber int) *plan.PaymentRecord {
	for _, record := range records {
		if record.PaymentNumber == paymentNumber {
			return record
		}
	}
	return nil
}

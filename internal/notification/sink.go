package notification

import (
	"context"

	"github.com/planpay/planpay/internal/domain/plan"
	"github.com/planpay/planpay/internal/logger"
)

// Sink receives best-effort notifications after a plan transition has been
// durably committed. Implementations must treat every call as fire-and-forget:
// errors are returned for logging only and are never retried or propagated to
// the webhook flow.
type Sink interface {
	NotifyInstallmentPaid(ctx context.Context, p *plan.Plan, paymentNumber int) error
	NotifyPlanSuspended(ctx context.Context, p *plan.Plan) error
	NotifyPlanCancelled(ctx context.Context, p *plan.Plan) error
}

// CompositeSink fans out to every configured sink. Each sink is invoked
// independently so one failing target cannot affect another.
type CompositeSink struct {
	sinks  []Sink
	logger *logger.Logger
}

// NewCompositeSink creates a sink that fans out to all given sinks
func NewCompositeSink(logger *logger.Logger, sinks ...Sink) *CompositeSink {
	return &CompositeSink{
		sinks:  sinks,
		logger: logger,
	}
}

func (s *CompositeSink) NotifyInstallmentPaid(ctx context.Context, p *plan.Plan, paymentNumber int) error {
	s.each(func(sink Sink) error {
		return sink.NotifyInstallmentPaid(ctx, p, paymentNumber)
	})
	return nil
}

func (s *CompositeSink) NotifyPlanSuspended(ctx context.Context, p *plan.Plan) error {
	s.each(func(sink Sink) error {
		return sink.NotifyPlanSuspended(ctx, p)
	})
	return nil
}

func (s *CompositeSink) NotifyPlanCancelled(ctx context.Context, p *plan.Plan) error {
	s.each(func(sink Sink) error {
		return sink.NotifyPlanCancelled(ctx, p)
	})
	return nil
}

func (s *CompositeSink) each(fn func(Sink) error) {
	for _, sink := range s.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Errorw("notification sink panicked", "panic", r)
				}
			}()
			if err := fn(sink); err != nil {
				s.logger.Warnw("notification sink failed", "error", err)
			}
		}()
	}
}

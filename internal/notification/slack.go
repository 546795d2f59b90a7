package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/planpay/planpay/internal/config"
	"github.com/planpay/planpay/internal/domain/plan"
	"github.com/planpay/planpay/internal/httpclient"
	"github.com/planpay/planpay/internal/logger"
)

// SlackSink posts plan lifecycle messages to a Slack incoming webhook.
type SlackSink struct {
	webhookURL string
	client     httpclient.Client
	logger     *logger.Logger
}

// NewSlackSink creates a Slack notification sink. Returns nil when no webhook
// URL is configured so callers can skip wiring it.
func NewSlackSink(cfg *config.Configuration, client httpclient.Client, logger *logger.Logger) *SlackSink {
	if cfg.Notification.SlackWebhookURL == "" {
		return nil
	}
	return &SlackSink{
		webhookURL: cfg.Notification.SlackWebhookURL,
		client:     client,
		logger:     logger,
	}
}

func (s *SlackSink) NotifyInstallmentPaid(ctx context.Context, p *plan.Plan, paymentNumber int) error {
	text := fmt.Sprintf("Installment %d of %d paid for order %s (%s of plan total collected)",
		paymentNumber, p.InstallmentCount, p.OrderID, p.TotalAmount.StringFixed(2))
	if p.PlanStatus.IsTerminal() {
		text = fmt.Sprintf("Payment plan for order %s is now %s (%d/%d installments)",
			p.OrderID, p.PlanStatus, p.CompletedPayments, p.InstallmentCount)
	}
	return s.post(ctx, text)
}

func (s *SlackSink) NotifyPlanSuspended(ctx context.Context, p *plan.Plan) error {
	return s.post(ctx, fmt.Sprintf("Payment plan for order %s was suspended after %d of %d installments",
		p.OrderID, p.CompletedPayments, p.InstallmentCount))
}

func (s *SlackSink) NotifyPlanCancelled(ctx context.Context, p *plan.Plan) error {
	return s.post(ctx, fmt.Sprintf("Payment plan for order %s was cancelled after %d of %d installments",
		p.OrderID, p.CompletedPayments, p.InstallmentCount))
}

func (s *SlackSink) post(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}

	_, err = s.client.Send(ctx, &httpclient.Request{
		Method: http.MethodPost,
		URL:    s.webhookURL,
		Body:   body,
	})
	return err
}

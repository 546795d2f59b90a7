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

// CRMSink records plan lifecycle notes against the order's contact in the
// CRM. Like every sink this is best-effort: the CRM being down must never
// affect plan state.
type CRMSink struct {
	baseURL string
	apiKey  string
	client  httpclient.Client
	logger  *logger.Logger
}

// NewCRMSink creates a CRM notification sink. Returns nil when the CRM is not
// configured.
func NewCRMSink(cfg *config.Configuration, client httpclient.Client, logger *logger.Logger) *CRMSink {
	if cfg.Notification.CRMBaseURL == "" {
		return nil
	}
	return &CRMSink{
		baseURL: cfg.Notification.CRMBaseURL,
		apiKey:  cfg.Notification.CRMAPIKey,
		client:  client,
		logger:  logger,
	}
}

func (s *CRMSink) NotifyInstallmentPaid(ctx context.Context, p *plan.Plan, paymentNumber int) error {
	note := fmt.Sprintf("Installment %d/%d collected", paymentNumber, p.InstallmentCount)
	tag := ""
	if p.PlanStatus.IsTerminal() {
		tag = "plan-completed"
	}
	return s.addNote(ctx, p.OrderID, note, tag)
}

func (s *CRMSink) NotifyPlanSuspended(ctx context.Context, p *plan.Plan) error {
	return s.addNote(ctx, p.OrderID,
		fmt.Sprintf("Payment plan suspended at installment %d/%d", p.CompletedPayments+1, p.InstallmentCount),
		"plan-suspended")
}

func (s *CRMSink) NotifyPlanCancelled(ctx context.Context, p *plan.Plan) error {
	return s.addNote(ctx, p.OrderID, "Payment plan cancelled", "plan-cancelled")
}

func (s *CRMSink) addNote(ctx context.Context, orderID, note, tag string) error {
	body, err := json.Marshal(map[string]string{
		"order_id": orderID,
		"note":     note,
		"tag":      tag,
	})
	if err != nil {
		return err
	}

	_, err = s.client.Send(ctx, &httpclient.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/v1/orders/%s/notes", s.baseURL, orderID),
		Headers: map[string]string{
			"Authorization": fmt.Sprintf("Bearer %s", s.apiKey),
		},
		Body: body,
	})
	return err
}

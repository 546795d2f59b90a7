package webhook

import (
	"encoding/json"
	"testing"

	"github.com/planpay/planpay/internal/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(logger.NewDevLogger())
}

func TestClassifyEventType(t *testing.T) {
	tests := []struct {
		eventType string
		want      EventKind
	}{
		{"transaction.charged", EventKindInstallmentPaid},
		{"invoice.paid", EventKindInstallmentPaid},
		{"subscription.charged_successfully", EventKindInstallmentPaid},
		{"subscription.suspended", EventKindPlanSuspended},
		{"subscription.payment_failure", EventKindPlanSuspended},
		{"subscription.cancelled", EventKindPlanCancelled},
		{"subscription.deleted", EventKindPlanCancelled},
		// unknown types fall through to keyword matching
		{"v2.installment.paid_out", EventKindInstallmentPaid},
		{"gateway.subscription_suspend_notice", EventKindPlanSuspended},
		{"order.cancellation", EventKindPlanCancelled},
		// the paid group wins over later groups for ambiguous types
		{"payment_cancelled_retry", EventKindInstallmentPaid},
		{"customer.updated", EventKindUnsupported},
		{"", EventKindUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyEventType(tt.eventType))
		})
	}
}

func TestNormalizeTransactionShape(t *testing.T) {
	n := newTestNormalizer()

	payload := `{
		"transaction": {
			"id": "txn_801",
			"amount": 993.33,
			"subscription_id": "sub_100",
			"customer_email": "buyer@example.com"
		}
	}`
	event := n.Normalize(&Envelope{
		ID:        "ev_1",
		EventType: "transaction.charged",
		Payload:   json.RawMessage(payload),
	})

	assert.Equal(t, EventKindInstallmentPaid, event.Kind)
	assert.Equal(t, "ev_1", event.EventID)
	assert.Equal(t, "sub_100", event.SubscriptionID)
	assert.Equal(t, "txn_801", event.TransactionID)
	assert.Equal(t, "993.33", event.Amount.StringFixed(2))
	assert.Equal(t, "buyer@example.com", event.CustomerEmail)
}

func TestNormalizeInvoiceShape(t *testing.T) {
	n := newTestNormalizer()

	payload := `{
		"invoice": {
			"subscription": {"id": "sub_200"},
			"amount_paid": "1,993.33",
			"linked_payments": [{"txn_id": "txn_900"}],
			"customer": {"email": "other@example.com"}
		}
	}`
	event := n.Normalize(&Envelope{
		ID:        "ev_2",
		EventType: "invoice.paid",
		Payload:   json.RawMessage(payload),
	})

	assert.Equal(t, EventKindInstallmentPaid, event.Kind)
	assert.Equal(t, "sub_200", event.SubscriptionID)
	assert.Equal(t, "txn_900", event.TransactionID)
	assert.Equal(t, "1993.33", event.Amount.StringFixed(2))
	assert.Equal(t, "other@example.com", event.CustomerEmail)
}

func TestNormalizePathPriority(t *testing.T) {
	n := newTestNormalizer()

	// both shapes present: the earlier path wins
	payload := `{
		"subscription": {"id": "sub_top"},
		"transaction": {"subscription_id": "sub_nested", "id": "txn_1"}
	}`
	event := n.Normalize(&Envelope{
		ID:        "ev_3",
		EventType: "transaction.charged",
		Payload:   json.RawMessage(payload),
	})
	assert.Equal(t, "sub_top", event.SubscriptionID)
}

func TestNormalizeDegradesSafely(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name    string
		payload string
	}{
		{"empty payload", ``},
		{"empty object", `{}`},
		{"payload is an array", `[1, 2, 3]`},
		{"payload is a scalar", `"oops"`},
		{"null fields", `{"transaction": null, "subscription": null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := n.Normalize(&Envelope{
				ID:        "ev_4",
				EventType: "transaction.charged",
				Payload:   json.RawMessage(tt.payload),
			})
			require.NotNil(t, event)
			assert.Equal(t, EventKindInstallmentPaid, event.Kind)
			assert.Empty(t, event.SubscriptionID)
			assert.Empty(t, event.TransactionID)
			assert.True(t, event.Amount.IsZero())
		})
	}
}

func TestNormalizeNumericIdentifiers(t *testing.T) {
	n := newTestNormalizer()

	event := n.Normalize(&Envelope{
		ID:        "ev_5",
		EventType: "transaction.charged",
		Payload:   json.RawMessage(`{"transaction": {"id": 12345, "subscription_id": "sub_1"}}`),
	})
	assert.Equal(t, "12345", event.TransactionID)
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"plain float", 1993.33, "1993.33"},
		{"plain string", "1993.33", "1993.33"},
		{"currency symbol and separators", "$1,993.33", "1993.33"},
		{"trailing whitespace", "1993.33 ", "1993.33"},
		{"euro style symbol", "EUR 45.10", "45.10"},
		{"integer", 250, "250.00"},
		{"nil", nil, "0.00"},
		{"empty string", "", "0.00"},
		{"garbage string", "not a number", "0.00"},
		{"negative collapses to zero", "-50.00", "0.00"},
		{"negative float collapses to zero", -12.5, "0.00"},
		{"unsupported type", []string{"x"}, "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMoney(tt.value)
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestParseMoneyJSONNumber(t *testing.T) {
	got := ParseMoney(json.Number("1993.33"))
	assert.True(t, got.Equal(decimal.RequireFromString("1993.33")))

	got = ParseMoney(json.Number("bogus"))
	assert.True(t, got.IsZero())
}

package webhook

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/planpay/planpay/internal/logger"
	"github.com/shopspring/decimal"
)

// The gateway nests the same semantic fields under different key paths
// depending on event family (transaction vs. invoice vs. subscription
// management), and has been observed to vary within a family. Each semantic
// field therefore carries an ordered list of candidate paths; the first
// present, non-empty value wins. A path segment that parses as an integer
// indexes into an array.
var (
	subscriptionIDPaths = []string{
		"subscription.id",
		"subscription_id",
		"transaction.subscription_id",
		"invoice.subscription_id",
		"invoice.subscription.id",
		"content.subscription.id",
	}
	transactionIDPaths = []string{
		"transaction.id",
		"transaction_id",
		"charge.id",
		"invoice.linked_payments.0.txn_id",
		"payment.id",
	}
	amountPaths = []string{
		"transaction.amount",
		"invoice.amount_paid",
		"invoice.total",
		"charge.amount",
		"amount",
		"total",
	}
	customerEmailPaths = []string{
		"customer.email",
		"transaction.customer_email",
		"invoice.customer.email",
		"contact.email",
		"email",
	}
)

// knownEventKinds maps exact gateway event-type strings onto the canonical
// taxonomy. The keyword fallback below handles types the gateway introduces
// without notice.
var knownEventKinds = map[string]EventKind{
	"transaction.charged":               EventKindInstallmentPaid,
	"transaction.payment_succeeded":     EventKindInstallmentPaid,
	"invoice.paid":                      EventKindInstallmentPaid,
	"subscription.payment_succeeded":    EventKindInstallmentPaid,
	"subscription.charged_successfully": EventKindInstallmentPaid,
	"subscription.suspended":            EventKindPlanSuspended,
	"subscription.payment_failure":      EventKindPlanSuspended,
	"subscription.cancelled":            EventKindPlanCancelled,
	"subscription.deleted":              EventKindPlanCancelled,
}

// keywordGroups is the ordered fallback for unknown event types. Order
// matters: the paid group is checked first so "payment_cancelled_retry" style
// oddities do not land in the cancelled bucket by accident.
var keywordGroups = []struct {
	kind     EventKind
	keywords []string
}{
	{EventKindInstallmentPaid, []string{"paid", "pay"}},
	{EventKindPlanSuspended, []string{"suspend"}},
	{EventKindPlanCancelled, []string{"cancel"}},
}

// Normalizer maps raw gateway envelopes into NormalizedPaymentEvents. It is
// total over arbitrary input: missing or malformed fields degrade to safe
// defaults, never to errors.
type Normalizer struct {
	logger *logger.Logger
}

// NewNormalizer creates a new webhook event normalizer
func NewNormalizer(logger *logger.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize converts one envelope into its canonical event form.
func (n *Normalizer) Normalize(envelope *Envelope) *NormalizedPaymentEvent {
	payload := map[string]any{}
	if len(envelope.Payload) > 0 {
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			n.logger.Warnw("webhook payload is not a JSON object, treating as empty",
				"event_id", envelope.ID,
				"event_type", envelope.EventType,
				"error", err,
			)
			payload = map[string]any{}
		}
	}

	kind := classifyEventType(envelope.EventType)
	if kind == EventKindUnsupported {
		n.logger.Infow("unsupported gateway event type",
			"event_id", envelope.ID,
			"event_type", envelope.EventType,
		)
	}

	return &NormalizedPaymentEvent{
		Kind:           kind,
		EventID:        envelope.ID,
		EventType:      envelope.EventType,
		SubscriptionID: firstString(payload, subscriptionIDPaths),
		TransactionID:  firstString(payload, transactionIDPaths),
		Amount:         ParseMoney(firstValue(payload, amountPaths)),
		CustomerEmail:  firstString(payload, customerEmailPaths),
	}
}

func classifyEventType(eventType string) EventKind {
	if kind, ok := knownEventKinds[eventType]; ok {
		return kind
	}

	lowered := strings.ToLower(eventType)
	for _, group := range keywordGroups {
		for _, keyword := range group.keywords {
			if strings.Contains(lowered, keyword) {
				return group.kind
			}
		}
	}
	return EventKindUnsupported
}

// firstValue resolves the first present value among the candidate paths.
func firstValue(payload map[string]any, paths []string) any {
	for _, path := range paths {
		if value, ok := resolvePath(payload, path); ok {
			return value
		}
	}
	return nil
}

// firstString resolves the first present, non-empty string among the
// candidate paths. Non-string scalars are stringified so numeric identifiers
// still come through.
func firstString(payload map[string]any, paths []string) string {
	for _, path := range paths {
		value, ok := resolvePath(payload, path)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// resolvePath walks a dotted path through nested maps and arrays. Integer
// segments index into arrays.
func resolvePath(root any, path string) (any, bool) {
	current := root
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok || value == nil {
				return nil, false
			}
			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// ParseMoney parses a best-effort decimal amount out of whatever the gateway
// put in an amount field. Currency symbols and thousands separators are
// stripped, parse failures and negative results collapse to zero.
func ParseMoney(value any) decimal.Decimal {
	var parsed decimal.Decimal

	switch v := value.(type) {
	case nil:
		return decimal.Zero
	case float64:
		parsed = decimal.NewFromFloat(v)
	case int:
		parsed = decimal.NewFromInt(int64(v))
	case int64:
		parsed = decimal.NewFromInt(v)
	case json.Number:
		var err error
		parsed, err = decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero
		}
	case string:
		cleaned := cleanMoneyString(v)
		if cleaned == "" {
			return decimal.Zero
		}
		var err error
		parsed, err = decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero
		}
	default:
		return decimal.Zero
	}

	if parsed.IsNegative() {
		return decimal.Zero
	}
	return parsed
}

// cleanMoneyString strips everything except digits, the decimal point and a
// leading minus sign, so "$1,993.33 " parses the same as "1993.33".
func cleanMoneyString(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

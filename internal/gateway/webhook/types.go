package webhook

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Envelope is the outer structure of every gateway webhook delivery. The
// payload shape varies by event family and is parsed loosely downstream.
type Envelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	EventDate string          `json:"event_date"`
	Payload   json.RawMessage `json:"payload"`
}

// EventKind is the canonical three-way taxonomy the state machine consumes.
// Anything the gateway sends that does not map to one of the first three is
// unsupported and dropped.
type EventKind string

const (
	EventKindInstallmentPaid EventKind = "installment_paid"
	EventKindPlanSuspended   EventKind = "plan_suspended"
	EventKindPlanCancelled   EventKind = "plan_cancelled"
	EventKindUnsupported     EventKind = "unsupported"
)

func (k EventKind) String() string {
	return string(k)
}

// NormalizedPaymentEvent is the canonical form of one webhook delivery.
// Constructed once per delivery, consumed immediately by the state machine,
// never persisted verbatim.
type NormalizedPaymentEvent struct {
	Kind      EventKind `json:"kind"`
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	// SubscriptionID locates the plan this event concerns; may be empty when
	// the gateway sent an event about something this system never created
	SubscriptionID string `json:"subscription_id"`
	// TransactionID identifies the specific charge, used for audit and
	// idempotency
	TransactionID string `json:"transaction_id"`
	// Amount is the charged amount, best-effort parsed; zero when absent or
	// unparseable
	Amount decimal.Decimal `json:"amount"`
	// CustomerEmail is extracted for notification context only
	CustomerEmail string `json:"customer_email"`
}

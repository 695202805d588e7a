package payloads

import (
	"time"

	"github.com/google/uuid"
)

// OrderCreatedEvent is recorded when a visitor starts checkout.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	ExpectedAmount string    `json:"expected_amount"`
	Currency       string    `json:"currency"`
	DisplayName    string    `json:"display_name"`
}

// OrderApprovedEvent is recorded exactly once, when an order leaves PENDING.
// Downstream issuance (confirmation mail, link delivery) keys off it.
type OrderApprovedEvent struct {
	OrderID           uuid.UUID `json:"order_id"`
	ProviderPaymentID string    `json:"provider_payment_id"`
	PaidAmount        string    `json:"paid_amount,omitempty"`
	Currency          string    `json:"currency,omitempty"`
	ApprovedAt        time.Time `json:"approved_at"`
	Source            string    `json:"source"`
}

const (
	ApprovalSourceReconcile = "reconcile"
	ApprovalSourceOperator  = "operator"
)

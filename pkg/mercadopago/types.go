package mercadopago

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/natalfamilia/natal-backend/pkg/enums"
)

// StatusApproved is the only payment status that unlocks an order.
const StatusApproved = enums.PaymentStatusApproved

// PreferenceRequest is the checkout intent sent to the gateway.
type PreferenceRequest struct {
	ExternalReference   string
	Title               string
	Description         string
	UnitPrice           decimal.Decimal
	CurrencyID          string
	SuccessURL          string
	FailureURL          string
	PendingURL          string
	NotificationURL     string
	StatementDescriptor string
	Installments        int
}

// Preference is a created or fetched checkout intent.
type Preference struct {
	ID                string
	ExternalReference string
	InitPoint         string
	SandboxInitPoint  string
}

// CheckoutURL returns the production checkout link, or the sandbox one when
// the account is in test mode.
func (p *Preference) CheckoutURL() string {
	if p == nil {
		return ""
	}
	if p.InitPoint != "" {
		return p.InitPoint
	}
	return p.SandboxInitPoint
}

// Payment is the gateway's authoritative view of a payment.
type Payment struct {
	ID                string
	Status            enums.PaymentStatus
	StatusDetail      string
	TransactionAmount decimal.Decimal
	CurrencyID        string
	ExternalReference string
	PreferenceID      string
	DateApproved      *time.Time
}

// Approved reports whether the gateway settled the payment.
func (p *Payment) Approved() bool {
	return p != nil && p.Status == StatusApproved
}

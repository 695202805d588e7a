package reconcile

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/mercadopago"
)

// UntrustedHint is what a notification claims. Only the kind and the object
// id are kept; nothing else from the caller is ever read.
type UntrustedHint struct {
	Kind             enums.NotificationKind
	ProviderObjectID string
}

// VerifiedPayment is the gateway's own answer for a payment id. The state
// machine only acts on this type.
type VerifiedPayment struct {
	PaymentID    string
	Status       enums.PaymentStatus
	Amount       decimal.Decimal
	Currency     string
	CrossRef     string
	PreferenceID string
	ApprovedAt   *time.Time
}

func verify(p *mercadopago.Payment) VerifiedPayment {
	return VerifiedPayment{
		PaymentID:    p.ID,
		Status:       p.Status,
		Amount:       p.TransactionAmount,
		Currency:     p.CurrencyID,
		CrossRef:     p.ExternalReference,
		PreferenceID: p.PreferenceID,
		ApprovedAt:   p.DateApproved,
	}
}

// Outcome names how a reconciliation attempt ended.
type Outcome string

const (
	OutcomeIgnoredKind            Outcome = "ignored_kind"
	OutcomeInvalidHint            Outcome = "invalid_hint"
	OutcomePaymentNotFound        Outcome = "payment_not_found"
	OutcomeGatewayUnavailable     Outcome = "gateway_unavailable"
	OutcomeGatewayRejected        Outcome = "gateway_rejected"
	OutcomeNotApproved            Outcome = "not_approved"
	OutcomeUnresolvedReference    Outcome = "unresolved_reference"
	OutcomePreferenceLookupFailed Outcome = "preference_lookup_failed"
	OutcomeUnknownOrder           Outcome = "unknown_order"
	OutcomeAmountMismatch         Outcome = "amount_mismatch"
	OutcomeApproved               Outcome = "approved"
	OutcomeAlreadyApproved        Outcome = "already_approved"
	OutcomeStoreError             Outcome = "store_error"
	OutcomeInternalError          Outcome = "internal_error"
)

// Transient reports whether trying the same hint later may end differently.
func (o Outcome) Transient() bool {
	switch o {
	case OutcomeGatewayUnavailable, OutcomeStoreError:
		return true
	}
	return false
}

// Success reports whether the order is approved after this attempt.
func (o Outcome) Success() bool {
	return o == OutcomeApproved || o == OutcomeAlreadyApproved
}

// Result is the engine's verdict for one hint. It is never an error: every
// failure is an outcome.
type Result struct {
	Outcome   Outcome
	OrderID   uuid.UUID
	PaymentID string
	Applied   bool
	Detail    string
}

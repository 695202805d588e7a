package orders

import (
	"errors"

	"github.com/natalfamilia/natal-backend/pkg/enums"
	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
)

// ErrNotFound is returned by the repository when no order matches.
var ErrNotFound = errors.New("order not found")

// PaymentRequiredDetails is exposed to the client so checkout can resume.
type PaymentRequiredDetails struct {
	Status    enums.OrderStatus `json:"status"`
	PayableID string            `json:"payableId"`
}

func paymentRequired(status enums.OrderStatus, payableID string) error {
	return pkgerrors.New(pkgerrors.CodePaymentRequired, "payment pending").
		WithDetails(PaymentRequiredDetails{Status: status, PayableID: payableID})
}

func notFound() error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrNotFound, "order not found")
}

package enums

import "fmt"

// PaymentStatus is the gateway's status for a payment. Only approved unlocks
// an order.
type PaymentStatus string

const (
	PaymentStatusPending     PaymentStatus = "pending"
	PaymentStatusApproved    PaymentStatus = "approved"
	PaymentStatusAuthorized  PaymentStatus = "authorized"
	PaymentStatusInProcess   PaymentStatus = "in_process"
	PaymentStatusInMediation PaymentStatus = "in_mediation"
	PaymentStatusRejected    PaymentStatus = "rejected"
	PaymentStatusCancelled   PaymentStatus = "cancelled"
	PaymentStatusRefunded    PaymentStatus = "refunded"
	PaymentStatusChargedBack PaymentStatus = "charged_back"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusApproved,
	PaymentStatusAuthorized,
	PaymentStatusInProcess,
	PaymentStatusInMediation,
	PaymentStatusRejected,
	PaymentStatusCancelled,
	PaymentStatusRefunded,
	PaymentStatusChargedBack,
}

func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsFinal reports whether the gateway will not move the payment again on
// its own.
func (p PaymentStatus) IsFinal() bool {
	switch p {
	case PaymentStatusApproved, PaymentStatusRejected, PaymentStatusCancelled,
		PaymentStatusRefunded, PaymentStatusChargedBack:
		return true
	}
	return false
}

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}

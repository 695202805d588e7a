package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/natalfamilia/natal-backend/pkg/enums"
)

// PlaceholderPreferenceID marks an order whose checkout preference has not
// been created yet.
const PlaceholderPreferenceID = "TEMP"

// Order is one paid microsite. Status only ever moves PENDING -> APPROVED.
type Order struct {
	ID                   uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	ExpectedAmount       decimal.Decimal   `gorm:"column:expected_amount;type:numeric(10,2);not null"`
	Currency             string            `gorm:"column:currency;not null"`
	Status               enums.OrderStatus `gorm:"column:status;not null"`
	ProviderPreferenceID string            `gorm:"column:provider_preference_id;not null"`
	ProviderPaymentID    *string           `gorm:"column:provider_payment_id"`
	DisplayName          string            `gorm:"column:display_name;not null"`
	Message              string            `gorm:"column:message;not null"`
	MediaRef             string            `gorm:"column:media_ref;not null"`
	ApprovedAt           *time.Time        `gorm:"column:approved_at"`
	CreatedAt            time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

// IsApproved reports whether the protected payload may be served.
func (o Order) IsApproved() bool {
	return o.Status == enums.OrderStatusApproved
}

// HasPreference reports whether the gateway preference id has been stored.
func (o Order) HasPreference() bool {
	return o.ProviderPreferenceID != "" && o.ProviderPreferenceID != PlaceholderPreferenceID
}

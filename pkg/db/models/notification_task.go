package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/natalfamilia/natal-backend/pkg/enums"
)

// NotificationTask is a gateway notification waiting for reconciliation. The
// raw body is kept for audit only; reconciliation never reads it.
type NotificationTask struct {
	ID               uuid.UUID                    `gorm:"column:id;type:uuid;primaryKey"`
	Kind             enums.NotificationKind       `gorm:"column:kind;not null"`
	ProviderObjectID string                       `gorm:"column:provider_object_id;not null"`
	Source           enums.NotificationSource     `gorm:"column:source;not null"`
	Status           enums.NotificationTaskStatus `gorm:"column:status;not null"`
	RawPayload       datatypes.JSON               `gorm:"column:raw_payload"`
	RequestID        *string                      `gorm:"column:request_id"`
	AttemptCount     int                          `gorm:"column:attempt_count;not null;default:0"`
	AvailableAt      time.Time                    `gorm:"column:available_at;not null"`
	LockedAt         *time.Time                   `gorm:"column:locked_at"`
	LastOutcome      *string                      `gorm:"column:last_outcome"`
	LastError        *string                      `gorm:"column:last_error"`
	OrderID          *uuid.UUID                   `gorm:"column:order_id;type:uuid"`
	HandledAt        *time.Time                   `gorm:"column:handled_at"`
	CreatedAt        time.Time                    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                    `gorm:"column:updated_at;autoUpdateTime"`
}

func (NotificationTask) TableName() string { return "notification_tasks" }

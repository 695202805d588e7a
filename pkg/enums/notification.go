package enums

import (
	"fmt"
	"strings"
)

// NotificationKind is the resource type named by a gateway notification.
type NotificationKind string

const (
	NotificationKindPayment       NotificationKind = "payment"
	NotificationKindMerchantOrder NotificationKind = "merchant_order"
)

var validNotificationKinds = []NotificationKind{
	NotificationKindPayment,
	NotificationKindMerchantOrder,
}

func (k NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseNotificationKind normalizes provider spellings such as "payment.updated"
// and "topic_merchant_order_wh".
func ParseNotificationKind(value string) (NotificationKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if idx := strings.Index(normalized, "."); idx > 0 {
		normalized = normalized[:idx]
	}
	normalized = strings.TrimPrefix(normalized, "topic_")
	normalized = strings.TrimSuffix(normalized, "_wh")
	for _, candidate := range validNotificationKinds {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return NotificationKind(normalized), fmt.Errorf("unsupported notification kind %q", value)
}

// NotificationTaskStatus tracks a queued reconciliation task.
type NotificationTaskStatus string

const (
	NotificationTaskQueued     NotificationTaskStatus = "queued"
	NotificationTaskProcessing NotificationTaskStatus = "processing"
	NotificationTaskHandled    NotificationTaskStatus = "handled"
	NotificationTaskDiscarded  NotificationTaskStatus = "discarded"
	NotificationTaskFailed     NotificationTaskStatus = "failed"
)

var validNotificationTaskStatuses = []NotificationTaskStatus{
	NotificationTaskQueued,
	NotificationTaskProcessing,
	NotificationTaskHandled,
	NotificationTaskDiscarded,
	NotificationTaskFailed,
}

func (s NotificationTaskStatus) IsValid() bool {
	for _, candidate := range validNotificationTaskStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the task will not be picked up again.
func (s NotificationTaskStatus) IsTerminal() bool {
	switch s {
	case NotificationTaskHandled, NotificationTaskDiscarded, NotificationTaskFailed:
		return true
	}
	return false
}

// NotificationSource records where a task came from.
type NotificationSource string

const (
	NotificationSourceWebhook NotificationSource = "webhook"
	NotificationSourceSweep   NotificationSource = "sweep"
	NotificationSourceReplay  NotificationSource = "replay"
)

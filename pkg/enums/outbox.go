package enums

import "slices"

// OutboxAggregateType maps to outbox_events.aggregate_type. Orders are the
// only aggregate that emits events.
type OutboxAggregateType string

const AggregateOrder OutboxAggregateType = "order"

func (a OutboxAggregateType) IsValid() bool { return a == AggregateOrder }

// OutboxEventType maps to outbox_events.event_type and is sent as the
// event_type message attribute.
type OutboxEventType string

const (
	EventOrderCreated  OutboxEventType = "order_created"
	EventOrderApproved OutboxEventType = "order_approved"
)

var outboxEventTypes = []OutboxEventType{EventOrderCreated, EventOrderApproved}

func (e OutboxEventType) IsValid() bool { return slices.Contains(outboxEventTypes, e) }

// OutboxDLQErrorReason records why the publisher stopped retrying an event.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/outbox"
	"github.com/natalfamilia/natal-backend/pkg/outbox/payloads"
)

// EventDescriptor says where an event type is published and which aggregate
// may emit it.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	decode func(data []byte) (any, error)
}

// ResolvedEvent is an outbox row with its envelope and typed payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// EventRegistry is the closed set of events this service emits.
type EventRegistry struct {
	byType map[enums.OutboxEventType]EventDescriptor
}

// orderEvent describes an order event whose payload decodes into T.
func orderEvent[T any](eventType enums.OutboxEventType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		Topic:         topic,
		decode: func(data []byte) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(data, payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

// NewEventRegistry routes every order event to the orders topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.OrdersTopic == "" {
		return nil, errors.New("orders topic is required")
	}
	reg := &EventRegistry{byType: map[enums.OutboxEventType]EventDescriptor{}}
	for _, desc := range []EventDescriptor{
		orderEvent[payloads.OrderCreatedEvent](enums.EventOrderCreated, cfg.OrdersTopic),
		orderEvent[payloads.OrderApprovedEvent](enums.EventOrderApproved, cfg.OrdersTopic),
	} {
		reg.byType[desc.EventType] = desc
	}
	return reg, nil
}

// Topics returns the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	topics := make([]string, 0, len(r.byType))
	for _, desc := range r.byType {
		topics = append(topics, desc.Topic)
	}
	slices.Sort(topics)
	return slices.Compact(topics)
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.byType[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}
	payload, err := desc.decode(envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

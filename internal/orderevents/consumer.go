package orderevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/metrics"
	"github.com/natalfamilia/natal-backend/pkg/outbox/idempotency"
	"github.com/natalfamilia/natal-backend/pkg/outbox/payloads"
	"github.com/natalfamilia/natal-backend/pkg/outbox/registry"
)

const (
	consumerScope = "order-events"
	dedupeTTL     = 7 * 24 * time.Hour

	resultProcessed = "processed"
	resultDuplicate = "duplicate"
	resultMalformed = "malformed"
	resultRetry     = "retry"
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type processedGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

// Handler reacts to decoded order events. Returning an error nacks the
// message so Pub/Sub redelivers it.
type Handler interface {
	OrderCreated(ctx context.Context, event payloads.OrderCreatedEvent) error
	OrderApproved(ctx context.Context, event payloads.OrderApprovedEvent) error
}

type ConsumerParams struct {
	Subscription receiver
	Registry     resolver
	// Dedupe is optional; without it every delivery reaches the handler.
	Dedupe  idempotency.Store
	Handler Handler
	Logger  *logger.Logger
	Metrics *metrics.OrderEventMetrics
	Now     func() time.Time
}

// Consumer reads the orders topic subscription. Delivery is at-least-once,
// so each event id is marked processed in Redis before the handler runs.
type Consumer struct {
	subscription receiver
	registry     resolver
	processed    processedGuard
	handler      Handler
	logg         *logger.Logger
	metrics      *metrics.OrderEventMetrics
	now          func() time.Time
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Subscription == nil {
		return nil, fmt.Errorf("orders subscription required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("event registry required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	handler := params.Handler
	if handler == nil {
		handler = NewAuditHandler(params.Logger)
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	c := &Consumer{
		subscription: params.Subscription,
		registry:     params.Registry,
		handler:      handler,
		logg:         params.Logger,
		metrics:      params.Metrics,
		now:          now,
	}
	if params.Dedupe != nil {
		manager, err := idempotency.NewManager(params.Dedupe, dedupeTTL)
		if err != nil {
			return nil, err
		}
		c.processed = manager
	}
	return c, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Attributes, msg.Data).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	result string
	nack   bool
}

func (c *Consumer) process(ctx context.Context, messageID string, attrs map[string]string, data []byte) processResult {
	eventType := attrs["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	res, lag := c.handle(ctx, logCtx, attrs, data)
	if c.metrics != nil {
		c.metrics.ObserveConsumed(eventType, res.result, lag)
	}
	return res
}

func (c *Consumer) handle(ctx, logCtx context.Context, attrs map[string]string, data []byte) (processResult, time.Duration) {
	event, err := eventFromAttributes(attrs, data)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "discarding order event with bad attributes")
		return processResult{result: resultMalformed}, 0
	}

	resolved, err := c.registry.Resolve(event)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "discarding undecodable order event")
		return processResult{result: resultMalformed}, 0
	}

	eventID := resolved.Envelope.EventID
	if eventID == "" {
		eventID = event.ID.String()
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id": eventID,
		"order_id": event.AggregateID.String(),
	})
	lag := c.now().Sub(resolved.Envelope.OccurredAt)

	if c.processed != nil {
		seen, err := c.processed.CheckAndMarkProcessed(ctx, consumerScope, eventID)
		if err != nil {
			c.logg.Error(logCtx, "order event dedupe check failed", err)
			return processResult{result: resultRetry, nack: true}, lag
		}
		if seen {
			c.logg.Info(logCtx, "order event already processed")
			return processResult{result: resultDuplicate}, lag
		}
	}

	if err := c.dispatch(logCtx, resolved.Payload); err != nil {
		var nonRetry registry.NonRetryableError
		if errors.As(err, &nonRetry) {
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "order event will not be retried")
			return processResult{result: resultMalformed}, lag
		}
		c.logg.Error(logCtx, "order event handling failed", err)
		if c.processed != nil {
			if delErr := c.processed.Delete(ctx, consumerScope, eventID); delErr != nil {
				c.logg.Warn(c.logg.WithField(logCtx, "error", delErr.Error()), "order event dedupe key not released")
			}
		}
		return processResult{result: resultRetry, nack: true}, lag
	}
	return processResult{result: resultProcessed}, lag
}

func (c *Consumer) dispatch(ctx context.Context, payload any) error {
	switch p := payload.(type) {
	case *payloads.OrderCreatedEvent:
		return c.handler.OrderCreated(ctx, *p)
	case *payloads.OrderApprovedEvent:
		return c.handler.OrderApproved(ctx, *p)
	default:
		return registry.NewNonRetryableError(fmt.Errorf("unexpected payload %T", payload))
	}
}

func eventFromAttributes(attrs map[string]string, data []byte) (models.OutboxEvent, error) {
	aggregateID, err := uuid.Parse(attrs["aggregate_id"])
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("aggregate_id: %w", err)
	}
	eventType := enums.OutboxEventType(attrs["event_type"])
	if eventType == "" {
		return models.OutboxEvent{}, errors.New("event_type attribute missing")
	}
	aggregateType := enums.OutboxAggregateType(attrs["aggregate_type"])
	if aggregateType == "" {
		aggregateType = enums.AggregateOrder
	}
	if !json.Valid(data) {
		return models.OutboxEvent{}, errors.New("message data is not json")
	}
	id, err := uuid.Parse(attrs["event_id"])
	if err != nil {
		id = uuid.Nil
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       data,
	}, nil
}

// AuditHandler writes one structured log line per order event. It is the
// default until a mailer or link-delivery handler exists.
type AuditHandler struct {
	logg *logger.Logger
}

func NewAuditHandler(logg *logger.Logger) *AuditHandler {
	return &AuditHandler{logg: logg}
}

func (h *AuditHandler) OrderCreated(ctx context.Context, event payloads.OrderCreatedEvent) error {
	h.logg.Info(h.logg.WithFields(ctx, map[string]any{
		"expected_amount": event.ExpectedAmount,
		"currency":        event.Currency,
	}), "order created")
	return nil
}

func (h *AuditHandler) OrderApproved(ctx context.Context, event payloads.OrderApprovedEvent) error {
	ctx = h.logg.WithFields(ctx, map[string]any{
		"payment_id":  event.ProviderPaymentID,
		"paid_amount": event.PaidAmount,
		"source":      event.Source,
		"approved_at": event.ApprovedAt.Format(time.RFC3339),
	})
	if event.Source == payloads.ApprovalSourceOperator {
		h.logg.Warn(ctx, "order unlocked by operator")
		return nil
	}
	h.logg.Info(ctx, "order unlocked")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

const (
	resultPublished  = "published"
	resultRetry      = "retry"
	resultDeferred   = "deferred"
	resultDeadLetter = "dead_letter"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID, at time.Time) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	RecordTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

// orderedPublisher is implemented by publishers that pause an ordering key
// after a failed publish.
type orderedPublisher interface {
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publishObserver interface {
	IncPublish(eventType, result string)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          publishObserver
	Now              func() time.Time
}

// Service drains order events from the outbox table to Pub/Sub. Messages
// carry the order id as ordering key, so order_created reaches subscribers
// before order_approved. Rows that cannot be delivered go to the DLQ table.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	repo         outboxRepository
	pubsub       pubSubClient
	registry     registryResolver
	dlq          dlqRepository
	metrics      publishObserver
	now          func() time.Time
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration

	newPublisher publisherFactory
	mu           sync.Mutex
	publishers   map[string]publisher
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			return newOrderedPublisher(params.PubSub.Publisher(topic))
		}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	cfg := params.Config.Outbox
	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		pubsub:       params.PubSub,
		registry:     params.Registry,
		dlq:          params.DLQRepository,
		metrics:      params.Metrics,
		now:          now,
		batchSize:    positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(positiveOr(cfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
		newPublisher: factory,
		publishers:   map[string]publisher{},
	}, nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": s.db.Ping,
		"pubsub":   s.pubsub.Ping,
	} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	return nil
}

// Run polls until ctx is canceled. A full batch is followed immediately by
// the next one; an empty or failed batch waits with jitter.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	defer s.stopPublishers()

	backoff := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		processed, err := s.processBatch(ctx)
		wait := s.pollInterval
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxBackoff)
			wait = backoff
		case processed:
			backoff = s.pollInterval
			continue
		default:
			backoff = s.pollInterval
		}
		if err := s.sleep(ctx, withJitter(wait)); err != nil {
			return err
		}
	}
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0

		// Orders whose earlier event failed in this batch; their later events
		// wait for the next poll.
		blocked := map[uuid.UUID]bool{}
		for _, event := range events {
			if blocked[event.AggregateID] {
				s.observe(event, resultDeferred)
				continue
			}
			result, err := s.deliver(ctx, tx, event)
			if err != nil {
				return err
			}
			if result != resultPublished {
				blocked[event.AggregateID] = true
			}
		}
		return nil
	})
	return processed, err
}

// deliver publishes one row and records its outcome in tx. Only storage
// errors are returned.
func (s *Service) deliver(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (string, error) {
	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, event.AggregateID.String()), map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"attempt_count": event.AttemptCount,
	})

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return resultDeadLetter, s.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"topic":    resolved.Descriptor.Topic,
		"event_id": resolved.Envelope.EventID,
	})

	pubErr := s.publish(ctx, event, resolved)
	if pubErr == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID, s.now().UTC()); err != nil {
			return "", fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.observe(event, resultPublished)
		s.logg.Info(logCtx, "outbox event published")
		return resultPublished, nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(pubErr, &nonRetry) {
		return resultDeadLetter, s.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, pubErr)
	}
	if event.AttemptCount+1 >= s.maxAttempts {
		return resultDeadLetter, s.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", pubErr))
	}

	s.logg.Warn(s.logg.WithField(logCtx, "error", pubErr.Error()), "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, event.ID, pubErr); err != nil {
		return "", fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	s.observe(event, resultRetry)
	return resultRetry, nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "outbox event moved to dlq")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.now().UTC(),
	}
	if err := s.dlq.RecordTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.observe(event, resultDeadLetter)
	return nil
}

func (s *Service) observe(event models.OutboxEvent, result string) {
	if s.metrics != nil {
		s.metrics.IncPublish(string(event.EventType), result)
	}
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	key := event.AggregateID.String()
	msg := &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: key,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   key,
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	if _, err := result.Get(publishCtx); err != nil {
		if ordered, ok := pub.(orderedPublisher); ok {
			ordered.ResumePublish(key)
		}
		return err
	}
	return nil
}

// publisherFor returns one publisher per topic for the life of the service.
func (s *Service) publisherFor(topic string) publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pub, ok := s.publishers[topic]; ok {
		return pub
	}
	pub := s.newPublisher(topic)
	if pub != nil {
		s.publishers[topic] = pub
	}
	return pub
}

func (s *Service) stopPublishers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, pub := range s.publishers {
		if stopper, ok := pub.(interface{ Stop() }); ok {
			stopper.Stop()
		}
		delete(s.publishers, topic)
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, limit)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

// gcpPublisher adapts a Pub/Sub publisher with message ordering enabled.
type gcpPublisher struct {
	*gcppubsub.Publisher
}

func newOrderedPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	p.EnableMessageOrdering = true
	return &gcpPublisher{Publisher: p}
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/outbox"
	"github.com/natalfamilia/natal-backend/pkg/outbox/payloads"
	"github.com/natalfamilia/natal-backend/pkg/outbox/registry"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			{
				ID:            uuid.New(),
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelopePayload(t, "event-one"),
			},
			{
				ID:            uuid.New(),
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelopePayload(t, "event-two"),
			},
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "orders-topic",
			AggregateType: enums.AggregateOrder,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.OrderCreatedEvent{},
	}
	eventRegistry := &fakeRegistry{resolved: resolved}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, eventRegistry, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestPublishResolvedSetsMessageAttributes(t *testing.T) {
	pub := &recordingPublisher{}
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderApproved,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "approved"),
		CreatedAt:     time.Date(2025, 12, 24, 20, 0, 0, 0, time.UTC),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "orders-topic"},
		Payload:    &payloads.OrderApprovedEvent{},
	}
	metrics := &fakeMetrics{}
	service := newTestService(t, repo, nil, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, nil)
	service.metrics = metrics
	service.newPublisher = func(topic string) publisher {
		if topic != "orders-topic" {
			t.Fatalf("unexpected topic %q", topic)
		}
		return pub
	}

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	attrs := pub.messages[0].Attributes
	if attrs["event_type"] != string(enums.EventOrderApproved) {
		t.Fatalf("unexpected event_type attribute %q", attrs["event_type"])
	}
	if attrs["aggregate_id"] != event.AggregateID.String() {
		t.Fatalf("unexpected aggregate_id attribute %q", attrs["aggregate_id"])
	}
	if attrs["event_id"] != event.ID.String() {
		t.Fatalf("unexpected event_id attribute %q", attrs["event_id"])
	}
	if !bytes.Equal(pub.messages[0].Data, event.Payload) {
		t.Fatalf("message data should carry the stored envelope")
	}
	if len(repo.publishedAt) != 1 || !repo.publishedAt[0].Equal(fixedNow) {
		t.Fatalf("expected published_at from the service clock, got %v", repo.publishedAt)
	}
	if got := metrics.counts[string(enums.EventOrderApproved)+"/"+resultPublished]; got != 1 {
		t.Fatalf("expected published metric, got %d", got)
	}
}

func TestServiceProcessBatchMissingPublisherGoesToDLQ(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "no-topic"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "missing-topic"},
		Payload:    &payloads.OrderCreatedEvent{},
	}
	dlqRepo := &fakeDLQRepo{}
	metrics := &fakeMetrics{}
	service := newTestService(t, repo, nil, &fakeRegistry{resolved: resolved}, dlqRepo, nil)
	service.metrics = metrics
	service.newPublisher = func(string) publisher { return nil }

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(dlqRepo.entries) != 1 {
		t.Fatalf("expected dlq entry, got %d", len(dlqRepo.entries))
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("expected row marked terminal")
	}
	if got := metrics.counts[string(enums.EventOrderCreated)+"/"+resultDeadLetter]; got != 1 {
		t.Fatalf("expected dead_letter metric, got %d", got)
	}
}

func TestServiceDefersLaterEventsOfFailedOrder(t *testing.T) {
	orderID := uuid.New()
	other := uuid.New()
	repo := &fakeRepo{events: []models.OutboxEvent{
		{ID: uuid.New(), EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: orderID},
		{ID: uuid.New(), EventType: enums.EventOrderApproved, AggregateType: enums.AggregateOrder, AggregateID: orderID},
		{ID: uuid.New(), EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: other},
	}}
	pub := &orderingPublisher{fail: map[string]bool{orderID.String(): true}}
	resolved := &registry.ResolvedEvent{Descriptor: registry.EventDescriptor{Topic: "orders-topic"}}
	metrics := &fakeMetrics{}
	factoryCalls := 0
	service := newTestService(t, repo, nil, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, &config.OutboxConfig{
		BatchSize:   3,
		MaxAttempts: 5,
	})
	service.metrics = metrics
	service.newPublisher = func(string) publisher {
		factoryCalls++
		return pub
	}

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("expected only the created event marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.events[2].ID {
		t.Fatalf("expected the other order published, got %v", repo.published)
	}
	if got := metrics.counts[string(enums.EventOrderApproved)+"/"+resultDeferred]; got != 1 {
		t.Fatalf("expected deferred approval, got %d", got)
	}
	if len(pub.resumed) != 1 || pub.resumed[0] != orderID.String() {
		t.Fatalf("expected ordering key resumed, got %v", pub.resumed)
	}
	for _, msg := range pub.messages {
		if msg.OrderingKey != msg.Attributes["aggregate_id"] {
			t.Fatalf("ordering key %q should be the order id", msg.OrderingKey)
		}
	}
	if factoryCalls != 1 {
		t.Fatalf("expected publisher reused per topic, built %d", factoryCalls)
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	base := 500 * time.Millisecond
	if got := nextBackoff(0, base, maxBackoff); got != time.Second {
		t.Fatalf("expected doubled base, got %s", got)
	}
	if got := nextBackoff(8*time.Second, base, maxBackoff); got != maxBackoff {
		t.Fatalf("expected cap, got %s", got)
	}
	if got := withJitter(time.Second); got < time.Second || got >= time.Second+jitterWindow {
		t.Fatalf("jitter out of window: %s", got)
	}
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "nonretryable"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	registry := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, &fakePublisher{}, registry, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "max-attempts"),
		AttemptCount:  1,
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
		},
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "orders-topic",
			AggregateType: enums.AggregateOrder,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    event.ID.String(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.OrderCreatedEvent{},
	}
	registry := &fakeRegistry{resolved: resolved}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, registry, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, registry registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         registry,
		PublisherFactory: func(_ string) publisher { return pub },
		DLQRepository:    dlq,
		Now:              func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func mustEnvelopePayload(tb testing.TB, eventID string) datatypes.JSON {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

var fixedNow = time.Date(2025, 12, 24, 21, 0, 0, 0, time.UTC)

type fakeRepo struct {
	events      []models.OutboxEvent
	published   []uuid.UUID
	publishedAt []time.Time
	failed      []uuid.UUID
	terminal    []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	f.published = append(f.published, id)
	f.publishedAt = append(f.publishedAt, at)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error {
	return nil
}

func (f *fakePubSubClient) Publisher(name string) *gcppubsub.Publisher {
	return nil
}

type fakePublisher struct {
	results []publishResult
}

func (f *fakePublisher) Publish(context.Context, *gcppubsub.Message) publishResult {
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type recordingPublisher struct {
	messages []*gcppubsub.Message
}

func (r *recordingPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	r.messages = append(r.messages, msg)
	return fakePublishResult{}
}

type orderingPublisher struct {
	fail     map[string]bool
	messages []*gcppubsub.Message
	resumed  []string
}

func (p *orderingPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	if p.fail[msg.OrderingKey] {
		return fakePublishResult{err: errors.New("unavailable")}
	}
	return fakePublishResult{}
}

func (p *orderingPublisher) ResumePublish(key string) {
	p.resumed = append(p.resumed, key)
}

type fakeMetrics struct {
	counts map[string]int
}

func (f *fakeMetrics) IncPublish(eventType, result string) {
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[eventType+"/"+result]++
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) RecordTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

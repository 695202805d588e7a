package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/natalfamilia/natal-backend/pkg/db/dbtest"
	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/outbox/payloads"
)

func TestEmitWritesEnvelope(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	orderID := uuid.New()

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:   enums.EventOrderCreated,
			AggregateID: orderID,
			Actor:       &ActorRef{Kind: ActorPublic},
			Data:        payloads.OrderCreatedEvent{OrderID: orderID, ExpectedAmount: "29.90", Currency: "BRL"},
		})
	})
	require.NoError(t, err)

	rows, err := repo.ListByAggregate(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, enums.AggregateOrder, rows[0].AggregateType)

	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &env))
	require.Equal(t, 1, env.Version)
	require.Equal(t, ActorPublic, env.Actor.Kind)

	var data payloads.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, "29.90", data.ExpectedAmount)
}

func TestEmitValidates(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)

	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderCreated, AggregateID: uuid.New()}))
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{EventType: enums.EventOrderCreated})
	})
	require.Error(t, err)
	err = client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{EventType: "order_shipped", AggregateID: uuid.New()})
	})
	require.Error(t, err)
}

func TestEmitOnceCollapsesDuplicates(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	orderID := uuid.New()

	for i := 0; i < 3; i++ {
		err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
			return svc.EmitOnce(context.Background(), tx, DomainEvent{
				EventType:   enums.EventOrderApproved,
				AggregateID: orderID,
				Data:        payloads.OrderApprovedEvent{OrderID: orderID, ProviderPaymentID: "1"},
			})
		})
		require.NoError(t, err)
	}

	rows, err := repo.ListByAggregate(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestPublishLifecycleAndRetention(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		for _, id := range ids {
			if err := svc.Emit(ctx, tx, DomainEvent{EventType: enums.EventOrderCreated, AggregateID: id, Data: map[string]string{"x": "y"}}); err != nil {
				return err
			}
		}
		return nil
	}))

	var batch []models.OutboxEvent
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		batch, err = repo.FetchUnpublishedForPublish(tx, 10, 5)
		if err != nil {
			return err
		}
		if err := repo.MarkPublishedTx(tx, batch[0].ID, time.Now().Add(-48*time.Hour)); err != nil {
			return err
		}
		return repo.MarkFailedTx(tx, batch[1].ID, context.DeadlineExceeded)
	}))
	require.Len(t, batch, 2)

	var failed models.OutboxEvent
	require.NoError(t, client.DB().First(&failed, "id = ?", batch[1].ID).Error)
	require.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		pending, err := repo.FetchUnpublishedForPublish(tx, 10, 1)
		require.Empty(t, pending, "rows at max attempts are skipped")
		return err
	}))

	deleted, err := repo.DeletePublishedBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}

func TestDLQRepository(t *testing.T) {
	client := dbtest.Open(t)
	dlq := NewDLQRepository(client.DB())
	ctx := context.Background()
	eventID := uuid.New()

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	msg := string(long)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return dlq.RecordTx(tx, models.OutboxDLQ{
			EventID:       eventID,
			EventType:     enums.EventOrderApproved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       []byte(`{}`),
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			ErrorMessage:  &msg,
			FailedAt:      time.Now(),
		})
	}))

	found, err := dlq.ByEventID(ctx, eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Len(t, *found.ErrorMessage, maxDLQErrorLen)

	missing, err := dlq.ByEventID(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)

	rows, err := dlq.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestClipKeepsRunesWhole(t *testing.T) {
	require.Equal(t, "abc", clip("abc", 10))
	require.Equal(t, "ab", clip("abé", 3))
	require.Equal(t, "abé", clip("abé", 4))
}

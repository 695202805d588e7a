package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/natalfamilia/natal-backend/pkg/db/dbtest"
	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
	"github.com/natalfamilia/natal-backend/pkg/pagination"
)

func newQueue(t *testing.T) (*Queue, *Repository) {
	t.Helper()
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	queue, err := NewQueue(repo, nil, nil)
	require.NoError(t, err)
	return queue, repo
}

func TestEnqueueCollapsesQueuedDuplicates(t *testing.T) {
	queue, repo := newQueue(t)
	ctx := context.Background()
	hint := Hint{Kind: enums.NotificationKindPayment, ProviderObjectID: "555"}

	first, err := queue.Enqueue(ctx, hint, EnqueueOptions{Raw: []byte(`{"type":"payment"}`), RequestID: "req-1"})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := queue.Enqueue(ctx, hint, EnqueueOptions{})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	page, err := repo.List(ctx, ListQuery{Params: pagination.Params{Limit: 10}})
	require.NoError(t, err)
	rows := page.Items
	require.Len(t, rows, 1)
	assert.Equal(t, enums.NotificationSourceWebhook, rows[0].Source)
	assert.JSONEq(t, `{"type":"payment"}`, string(rows[0].RawPayload))
	require.NotNil(t, rows[0].RequestID)
	assert.Equal(t, "req-1", *rows[0].RequestID)
}

func TestEnqueueAfterClaimCreatesNewTask(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	queue, err := NewQueue(repo, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	hint := Hint{Kind: enums.NotificationKindPayment, ProviderObjectID: "9"}

	_, err = queue.Enqueue(ctx, hint, EnqueueOptions{})
	require.NoError(t, err)
	var claimed []models.NotificationTask
	require.NoError(t, client.DB().Transaction(func(tx *gorm.DB) error {
		claimed, err = repo.ClaimTx(tx, time.Now().UTC().Add(time.Second), time.Minute, 10)
		return err
	}))
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].AttemptCount)

	res, err := queue.Enqueue(ctx, hint, EnqueueOptions{Source: enums.NotificationSourceSweep})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestEnqueueRejectsBadHints(t *testing.T) {
	queue, _ := newQueue(t)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, Hint{Kind: "chargebacks", ProviderObjectID: "1"}, EnqueueOptions{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = queue.Enqueue(ctx, Hint{Kind: enums.NotificationKindPayment, ProviderObjectID: "  "}, EnqueueOptions{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestEnqueueSkipsNonJSONRaw(t *testing.T) {
	queue, repo := newQueue(t)
	ctx := context.Background()

	res, err := queue.Enqueue(ctx, Hint{Kind: enums.NotificationKindPayment, ProviderObjectID: "3"}, EnqueueOptions{Raw: []byte("type=payment")})
	require.NoError(t, err)

	task, err := repo.FindByID(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Empty(t, task.RawPayload)
}

func TestDeleteTerminalBefore(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	queue, err := NewQueue(repo, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	done, err := queue.Enqueue(ctx, Hint{Kind: enums.NotificationKindPayment, ProviderObjectID: "1"}, EnqueueOptions{})
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, Hint{Kind: enums.NotificationKindPayment, ProviderObjectID: "2"}, EnqueueOptions{})
	require.NoError(t, err)
	require.NoError(t, client.DB().Model(&models.NotificationTask{}).
		Where("id = ?", done.TaskID).
		Update("status", enums.NotificationTaskHandled).Error)

	deleted, err := repo.DeleteTerminalBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.FindByID(ctx, done.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

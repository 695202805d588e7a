package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/metrics"
)

const maxProviderObjectIDLen = 64

type taskStore interface {
	Insert(ctx context.Context, task *models.NotificationTask) (bool, error)
}

// EnqueueOptions describe where a hint came from.
type EnqueueOptions struct {
	Source    enums.NotificationSource
	Raw       []byte
	RequestID string
}

// EnqueueResult reports whether a new task was written.
type EnqueueResult struct {
	TaskID    uuid.UUID
	Duplicate bool
}

// Queue accepts hints for later reconciliation. Enqueueing never talks to the
// gateway so the webhook can acknowledge immediately.
type Queue struct {
	store   taskStore
	logg    *logger.Logger
	metrics *metrics.ReconcileMetrics
	now     func() time.Time
}

func NewQueue(store taskStore, logg *logger.Logger, m *metrics.ReconcileMetrics) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("task store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Queue{store: store, logg: logg, metrics: m, now: time.Now}, nil
}

// Enqueue stores hint as a queued task. A queued task for the same object
// absorbs the new one.
func (q *Queue) Enqueue(ctx context.Context, hint Hint, opts EnqueueOptions) (EnqueueResult, error) {
	if !hint.Supported() {
		return EnqueueResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported notification kind %q", hint.Kind))
	}
	id := strings.TrimSpace(hint.ProviderObjectID)
	if id == "" || len(id) > maxProviderObjectIDLen {
		return EnqueueResult{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid provider object id")
	}
	source := opts.Source
	if source == "" {
		source = enums.NotificationSourceWebhook
	}

	now := q.now().UTC()
	task := &models.NotificationTask{
		ID:               uuid.New(),
		Kind:             hint.Kind,
		ProviderObjectID: id,
		Source:           source,
		Status:           enums.NotificationTaskQueued,
		AvailableAt:      now,
	}
	if len(opts.Raw) > 0 && json.Valid(opts.Raw) {
		task.RawPayload = datatypes.JSON(opts.Raw)
	}
	if opts.RequestID != "" {
		rid := opts.RequestID
		task.RequestID = &rid
	}

	inserted, err := q.store.Insert(ctx, task)
	if err != nil {
		return EnqueueResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue notification")
	}

	result := "queued"
	if !inserted {
		result = "duplicate"
	}
	q.metrics.IncEnqueued(string(source), result)

	logCtx := q.logg.WithFields(ctx, map[string]any{
		"notification_kind":  string(hint.Kind),
		"provider_object_id": id,
		"source":             string(source),
		"result":             result,
	})
	q.logg.Info(logCtx, "notification enqueued")

	if !inserted {
		return EnqueueResult{Duplicate: true}, nil
	}
	return EnqueueResult{TaskID: task.ID}, nil
}

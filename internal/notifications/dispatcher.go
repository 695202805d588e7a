package notifications

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/natalfamilia/natal-backend/internal/reconcile"
	"github.com/natalfamilia/natal-backend/pkg/config"
	dbpkg "github.com/natalfamilia/natal-backend/pkg/db"
	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/metrics"
)

const (
	defaultBatchSize   = 20
	defaultPollMs      = 500
	defaultMaxAttempts = 8
	defaultLease       = 2 * time.Minute
	defaultRetryBase   = 5 * time.Second
	defaultRetryMax    = 10 * time.Minute
	maxLoopBackoff     = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond

	outcomeSuperseded = "superseded"
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type dispatchStore interface {
	ClaimTx(tx *gorm.DB, now time.Time, lease time.Duration, limit int) ([]models.NotificationTask, error)
	Finish(ctx context.Context, id uuid.UUID, update TaskUpdate) error
}

type reconciler interface {
	Reconcile(ctx context.Context, hint reconcile.UntrustedHint) reconcile.Result
}

// DispatcherParams wires the queue worker.
type DispatcherParams struct {
	DB      txRunner
	Store   dispatchStore
	Engine  reconciler
	Config  config.ReconcileConfig
	Logger  *logger.Logger
	Metrics *metrics.ReconcileMetrics
	Now     func() time.Time
}

// Dispatcher drains notification tasks into the reconciliation engine.
type Dispatcher struct {
	db           txRunner
	store        dispatchStore
	engine       reconciler
	logg         *logger.Logger
	metrics      *metrics.ReconcileMetrics
	now          func() time.Time
	batchSize    int
	maxAttempts  int
	lease        time.Duration
	retryBase    time.Duration
	retryMax     time.Duration
	pollInterval time.Duration
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Store == nil {
		return nil, errors.New("task store is required")
	}
	if params.Engine == nil {
		return nil, errors.New("reconciliation engine is required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	cfg := params.Config
	return &Dispatcher{
		db:           params.DB,
		store:        params.Store,
		engine:       params.Engine,
		logg:         params.Logger,
		metrics:      params.Metrics,
		now:          params.Now,
		batchSize:    orDefault(cfg.BatchSize, defaultBatchSize),
		maxAttempts:  orDefault(cfg.MaxAttempts, defaultMaxAttempts),
		lease:        durationOrDefault(cfg.Lease, defaultLease),
		retryBase:    durationOrDefault(cfg.RetryBase, defaultRetryBase),
		retryMax:     durationOrDefault(cfg.RetryMax, defaultRetryMax),
		pollInterval: time.Duration(orDefault(cfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
	}, nil
}

// Run polls until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			d.logg.Info(ctx, "notification dispatcher stopped")
			return ctx.Err()
		default:
		}

		processed, err := d.ProcessBatch(ctx)
		if err != nil {
			d.logg.Error(ctx, "notification dispatcher batch error", err)
			backoff = nextBackoff(backoff, interval, maxLoopBackoff)
			if err := sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval
		if processed > 0 {
			continue
		}
		if err := sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// ProcessBatch claims one batch and reconciles each task. Claiming commits
// before any gateway call so no transaction spans network I/O.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (int, error) {
	var tasks []models.NotificationTask
	err := d.db.WithTx(ctx, func(tx *gorm.DB) error {
		claimed, err := d.store.ClaimTx(tx, d.now().UTC(), d.lease, d.batchSize)
		tasks = claimed
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("claim notification tasks: %w", err)
	}

	// A task whose verdict cannot be written keeps its lease and is claimed
	// again once it expires; the rest of the batch still runs.
	var errs error
	for _, task := range tasks {
		if err := d.dispatch(ctx, task); err != nil {
			d.logg.Error(d.logg.WithField(ctx, "task_id", task.ID.String()), "notification task not finished", err)
			errs = multierr.Append(errs, err)
		}
	}
	return len(tasks), errs
}

func (d *Dispatcher) dispatch(ctx context.Context, task models.NotificationTask) error {
	ctx = d.logg.WithFields(ctx, map[string]any{
		"task_id":       task.ID.String(),
		"attempt_count": task.AttemptCount,
		"source":        string(task.Source),
	})

	res := d.engine.Reconcile(ctx, reconcile.UntrustedHint{
		Kind:             task.Kind,
		ProviderObjectID: task.ProviderObjectID,
	})

	now := d.now().UTC()
	update := TaskUpdate{Outcome: string(res.Outcome), Detail: res.Detail, At: now}
	if res.OrderID != uuid.Nil {
		orderID := res.OrderID
		update.OrderID = &orderID
	}

	var result string
	switch {
	case res.Outcome.Success():
		update.Status = enums.NotificationTaskHandled
		result = "handled"
	case res.Outcome.Transient() && task.AttemptCount < d.maxAttempts:
		update.Status = enums.NotificationTaskQueued
		update.AvailableAt = now.Add(d.retryDelay(task.AttemptCount))
		result = "retried"
	case res.Outcome.Transient():
		update.Status = enums.NotificationTaskFailed
		result = "failed"
	default:
		update.Status = enums.NotificationTaskDiscarded
		result = "discarded"
	}

	err := d.store.Finish(ctx, task.ID, update)
	if err != nil && update.Status == enums.NotificationTaskQueued && dbpkg.IsUniqueViolation(err, "ux_notification_tasks_queued_object") {
		// A newer hint for the same object is already waiting.
		update.Status = enums.NotificationTaskDiscarded
		update.Outcome = outcomeSuperseded
		result = "discarded"
		err = d.store.Finish(ctx, task.ID, update)
	}
	if err != nil {
		return fmt.Errorf("finish task %s: %w", task.ID, err)
	}

	d.metrics.IncTask(result)
	if update.Status == enums.NotificationTaskFailed {
		d.logg.Warn(d.logg.WithField(ctx, "outcome", string(res.Outcome)), "notification task exhausted retries")
	}
	return nil
}

// retryDelay doubles from retryBase per attempt, capped at retryMax.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	delay := d.retryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.retryMax {
			return d.retryMax
		}
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
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

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func durationOrDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

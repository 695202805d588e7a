package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/natalfamilia/natal-backend/internal/notifications"
	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/mercadopago"
)

type staleOrderLister interface {
	ListStalePending(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]models.Order, error)
}

type paymentSearcher interface {
	SearchPayments(ctx context.Context, externalReference string) ([]mercadopago.Payment, error)
}

type hintEnqueuer interface {
	Enqueue(ctx context.Context, hint notifications.Hint, opts notifications.EnqueueOptions) (notifications.EnqueueResult, error)
}

type PendingSweepJobParams struct {
	Logger   *logger.Logger
	Orders   staleOrderLister
	Payments paymentSearcher
	Queue    hintEnqueuer
	Config   config.SweepConfig
}

// NewPendingSweepJob finds orders still pending after the webhook should have
// arrived and queues any approved payment the gateway knows about. It never
// approves anything itself.
func NewPendingSweepJob(params PendingSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order lister required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment searcher required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("notification queue required")
	}
	cfg := params.Config
	if cfg.MinAge <= 0 {
		cfg.MinAge = 10 * time.Minute
	}
	if cfg.MaxAge <= cfg.MinAge {
		cfg.MaxAge = 72 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &pendingSweepJob{
		logg:     params.Logger,
		orders:   params.Orders,
		payments: params.Payments,
		queue:    params.Queue,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

type pendingSweepJob struct {
	logg     *logger.Logger
	orders   staleOrderLister
	payments paymentSearcher
	queue    hintEnqueuer
	cfg      config.SweepConfig
	now      func() time.Time
}

func (j *pendingSweepJob) Name() string { return "pending-sweep" }

func (j *pendingSweepJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	stale, err := j.orders.ListStalePending(ctx, now.Add(-j.cfg.MinAge), now.Add(-j.cfg.MaxAge), j.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stale orders: %w", err)
	}

	var searched, queued, failures int
	for _, order := range stale {
		payments, err := j.payments.SearchPayments(ctx, order.ID.String())
		if err != nil {
			failures++
			j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
				"order_id": order.ID.String(),
				"error":    err.Error(),
			}), "payment search failed")
			if mercadopago.IsTransient(err) {
				// The gateway is struggling; try the rest next cycle.
				break
			}
			continue
		}
		searched++
		for _, p := range payments {
			if !p.Approved() || p.ID == "" {
				continue
			}
			res, err := j.queue.Enqueue(ctx, notifications.Hint{
				Kind:             enums.NotificationKindPayment,
				ProviderObjectID: p.ID,
			}, notifications.EnqueueOptions{Source: enums.NotificationSourceSweep})
			if err != nil {
				return fmt.Errorf("enqueue payment %s: %w", p.ID, err)
			}
			if !res.Duplicate {
				queued++
			}
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"stale_orders": len(stale),
		"searched":     searched,
		"queued":       queued,
		"failures":     failures,
	}), "pending sweep complete")
	return nil
}

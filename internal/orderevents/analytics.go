package orderevents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/natalfamilia/natal-backend/pkg/bigquery"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/outbox/payloads"
	"github.com/natalfamilia/natal-backend/pkg/outbox/registry"
)

const (
	defaultInsertAttempts = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

type rowInserter interface {
	InsertRows(ctx context.Context, table string, rows []bigquery.Row) error
}

// OrderEventRow is one line of the order funnel table.
type OrderEventRow struct {
	EventType  string    `bigquery:"event_type"`
	OrderID    string    `bigquery:"order_id"`
	Amount     string    `bigquery:"amount"`
	Currency   string    `bigquery:"currency"`
	PaymentID  string    `bigquery:"payment_id"`
	Source     string    `bigquery:"source"`
	OccurredAt time.Time `bigquery:"occurred_at"`
}

// OrderEventsTable declares the order funnel table, partitioned by day on
// occurred_at.
func OrderEventsTable(name string) bigquery.TableSpec {
	return bigquery.TableSpec{
		Name:           strings.TrimSpace(name),
		Row:            OrderEventRow{},
		PartitionField: "occurred_at",
	}
}

// insertID is stable per order and event type; each order emits at most one
// of each, so a redelivered message maps to the same row.
func (r OrderEventRow) insertID() string {
	return r.EventType + ":" + r.OrderID
}

type AnalyticsParams struct {
	Inserter       rowInserter
	Table          string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
	Now            func() time.Time
}

// AnalyticsHandler streams order events into BigQuery. Transient insert
// failures are retried in place; permanent ones are not redelivered.
type AnalyticsHandler struct {
	inserter    rowInserter
	table       string
	maxAttempts int
	initial     time.Duration
	maximum     time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewAnalyticsHandler(params AnalyticsParams) (*AnalyticsHandler, error) {
	if params.Inserter == nil {
		return nil, errors.New("bigquery inserter required")
	}
	table := strings.TrimSpace(params.Table)
	if table == "" {
		return nil, errors.New("order events table required")
	}
	h := &AnalyticsHandler{
		inserter:    params.Inserter,
		table:       table,
		maxAttempts: params.MaxAttempts,
		initial:     params.InitialBackoff,
		maximum:     params.MaximumBackoff,
		now:         params.Now,
		sleep:       sleepCtx,
	}
	if h.maxAttempts <= 0 {
		h.maxAttempts = defaultInsertAttempts
	}
	if h.initial <= 0 {
		h.initial = defaultInitialBackoff
	}
	if h.maximum < h.initial {
		h.maximum = max(defaultMaximumBackoff, h.initial)
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}

func (h *AnalyticsHandler) OrderCreated(ctx context.Context, event payloads.OrderCreatedEvent) error {
	return h.insert(ctx, OrderEventRow{
		EventType:  string(enums.EventOrderCreated),
		OrderID:    event.OrderID.String(),
		Amount:     event.ExpectedAmount,
		Currency:   event.Currency,
		OccurredAt: h.now().UTC(),
	})
}

func (h *AnalyticsHandler) OrderApproved(ctx context.Context, event payloads.OrderApprovedEvent) error {
	occurred := event.ApprovedAt
	if occurred.IsZero() {
		occurred = h.now()
	}
	return h.insert(ctx, OrderEventRow{
		EventType:  string(enums.EventOrderApproved),
		OrderID:    event.OrderID.String(),
		Amount:     event.PaidAmount,
		Currency:   event.Currency,
		PaymentID:  event.ProviderPaymentID,
		Source:     event.Source,
		OccurredAt: occurred.UTC(),
	})
}

func (h *AnalyticsHandler) insert(ctx context.Context, row OrderEventRow) error {
	rows := []bigquery.Row{{InsertID: row.insertID(), Value: &row}}
	backoff := h.initial
	for attempt := 1; ; attempt++ {
		err := h.inserter.InsertRows(ctx, h.table, rows)
		if err == nil {
			return nil
		}
		if !bigquery.IsRetryable(err) {
			return registry.NewNonRetryableError(fmt.Errorf("insert %s row: %w", h.table, err))
		}
		if attempt >= h.maxAttempts {
			return fmt.Errorf("insert %s row after %d attempts: %w", h.table, attempt, err)
		}
		if err := h.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, h.maximum)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fanout runs handlers in order and stops at the first error.
func Fanout(handlers ...Handler) Handler {
	return fanout(handlers)
}

type fanout []Handler

func (f fanout) OrderCreated(ctx context.Context, event payloads.OrderCreatedEvent) error {
	for _, h := range f {
		if err := h.OrderCreated(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (f fanout) OrderApproved(ctx context.Context, event payloads.OrderApprovedEvent) error {
	for _, h := range f {
		if err := h.OrderApproved(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

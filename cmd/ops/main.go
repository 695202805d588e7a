package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/natalfamilia/natal-backend/internal/app"
	"github.com/natalfamilia/natal-backend/internal/notifications"
	"github.com/natalfamilia/natal-backend/internal/orders"
	"github.com/natalfamilia/natal-backend/internal/reconcile"
	"github.com/natalfamilia/natal-backend/pkg/auth"
	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/db"
	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/outbox"
)

const usage = `ops -cmd=<command> [flags]

commands:
  token      mint an operator token (-operator, -role)
  replay     queue a notification for reconciliation (-kind, -id)
  reconcile  reconcile a notification now and print the outcome (-kind, -id)
  approve    force-approve an order (-order, -reason, -payment)
  events     print the outbox history of an order (-order)
  dlq        list dead-lettered outbox events (-limit) or show one (-event)
`

type options struct {
	cmd      string
	operator string
	role     string
	kind     string
	objectID string
	orderID  string
	reason   string
	payment  string
	eventID  string
	limit    int
}

func main() {
	_ = godotenv.Load()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(context.Background(), opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ops %s failed: %v\n", opts.cmd, err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("ops", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.cmd, "cmd", "", "command: token|replay|reconcile|approve|events|dlq")
	fs.StringVar(&opts.operator, "operator", "", "operator name for -cmd=token")
	fs.StringVar(&opts.role, "role", string(enums.OperatorRoleOps), "operator role for -cmd=token (ops|viewer)")
	fs.StringVar(&opts.kind, "kind", string(enums.NotificationKindPayment), "notification kind (payment|merchant_order)")
	fs.StringVar(&opts.objectID, "id", "", "provider object id for replay/reconcile")
	fs.StringVar(&opts.orderID, "order", "", "order id for -cmd=approve|events")
	fs.StringVar(&opts.reason, "reason", "", "audit reason for -cmd=approve")
	fs.StringVar(&opts.payment, "payment", "", "payment id recorded by -cmd=approve")
	fs.StringVar(&opts.eventID, "event", "", "outbox event id for -cmd=dlq")
	fs.IntVar(&opts.limit, "limit", 20, "rows listed by -cmd=dlq")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("%v\n\n%s", err, usage)
	}
	if opts.cmd == "" {
		return opts, errors.New(usage)
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	switch opts.cmd {
	case "token":
		var jwtCfg config.JWTConfig
		if err := envconfig.Process(config.EnvPrefix, &jwtCfg); err != nil {
			return fmt.Errorf("parsing jwt config: %w", err)
		}
		return mintToken(jwtCfg, opts, time.Now(), out)
	case "replay", "reconcile", "approve", "events", "dlq":
		return runWithDomain(ctx, opts, out)
	default:
		return fmt.Errorf("unknown -cmd value %q\n\n%s", opts.cmd, usage)
	}
}

func mintToken(cfg config.JWTConfig, opts options, now time.Time, out io.Writer) error {
	token, err := auth.MintOpsToken(cfg, now, auth.OpsTokenPayload{
		Operator: opts.operator,
		Role:     enums.OperatorRole(opts.role),
	})
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"token":     token,
		"operator":  opts.operator,
		"role":      opts.role,
		"expiresAt": now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute).UTC(),
	})
}

func runWithDomain(ctx context.Context, opts options, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logg := logger.New(logger.Options{
		ServiceName: "ops",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Output:      os.Stderr,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": opts.cmd})

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer dbClient.Close()

	switch opts.cmd {
	case "dlq":
		return deadLetters(ctx, outbox.NewDLQRepository(dbClient.DB()), opts, out)
	case "events":
		return orderEvents(ctx, outbox.NewRepository(dbClient.DB()), opts, out)
	}

	domain, err := app.NewDomain(cfg, logg, dbClient, nil)
	if err != nil {
		return err
	}

	switch opts.cmd {
	case "replay":
		return replay(ctx, domain.Queue, opts, out)
	case "reconcile":
		return reconcileNow(ctx, domain.Engine, opts, out)
	default:
		return approve(ctx, domain.Orders, opts, out)
	}
}

type enqueuer interface {
	Enqueue(ctx context.Context, hint notifications.Hint, opts notifications.EnqueueOptions) (notifications.EnqueueResult, error)
}

func replay(ctx context.Context, queue enqueuer, opts options, out io.Writer) error {
	hint, err := hintFromOptions(opts)
	if err != nil {
		return err
	}
	res, err := queue.Enqueue(ctx, hint, notifications.EnqueueOptions{Source: enums.NotificationSourceReplay})
	if err != nil {
		return err
	}
	view := map[string]any{"duplicate": res.Duplicate}
	if res.TaskID != uuid.Nil {
		view["taskId"] = res.TaskID
	}
	return writeJSON(out, view)
}

type reconciler interface {
	Reconcile(ctx context.Context, hint reconcile.UntrustedHint) reconcile.Result
}

func reconcileNow(ctx context.Context, engine reconciler, opts options, out io.Writer) error {
	hint, err := hintFromOptions(opts)
	if err != nil {
		return err
	}
	res := engine.Reconcile(ctx, reconcile.UntrustedHint{Kind: hint.Kind, ProviderObjectID: hint.ProviderObjectID})
	view := map[string]any{
		"outcome":   res.Outcome,
		"applied":   res.Applied,
		"paymentId": res.PaymentID,
	}
	if res.OrderID != uuid.Nil {
		view["orderId"] = res.OrderID
	}
	if res.Detail != "" {
		view["detail"] = res.Detail
	}
	return writeJSON(out, view)
}

type forceApprover interface {
	ForceApprove(ctx context.Context, input orders.ForceApproveInput) (orders.ApproveResult, error)
}

func approve(ctx context.Context, svc forceApprover, opts options, out io.Writer) error {
	orderID, err := uuid.Parse(strings.TrimSpace(opts.orderID))
	if err != nil {
		return fmt.Errorf("invalid -order: %w", err)
	}
	operator := opts.operator
	if operator == "" {
		operator = "cli"
	}
	res, err := svc.ForceApprove(ctx, orders.ForceApproveInput{
		OrderID:   orderID,
		PaymentID: opts.payment,
		Reason:    opts.reason,
		Actor:     operator,
	})
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{"orderId": orderID, "applied": res.Applied})
}

type eventLister interface {
	ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]models.OutboxEvent, error)
}

type eventView struct {
	ID           uuid.UUID  `json:"id"`
	EventType    string     `json:"eventType"`
	CreatedAt    time.Time  `json:"createdAt"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
	AttemptCount int        `json:"attemptCount"`
	LastError    string     `json:"lastError,omitempty"`
}

func orderEvents(ctx context.Context, repo eventLister, opts options, out io.Writer) error {
	orderID, err := uuid.Parse(strings.TrimSpace(opts.orderID))
	if err != nil {
		return fmt.Errorf("invalid -order: %w", err)
	}
	rows, err := repo.ListByAggregate(ctx, orderID)
	if err != nil {
		return err
	}
	views := make([]eventView, 0, len(rows))
	for _, row := range rows {
		v := eventView{
			ID:           row.ID,
			EventType:    string(row.EventType),
			CreatedAt:    row.CreatedAt.UTC(),
			PublishedAt:  row.PublishedAt,
			AttemptCount: row.AttemptCount,
		}
		if row.LastError != nil {
			v.LastError = *row.LastError
		}
		views = append(views, v)
	}
	return writeJSON(out, views)
}

type dlqReader interface {
	ByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
	Recent(ctx context.Context, limit int) ([]models.OutboxDLQ, error)
}

type dlqView struct {
	EventID      uuid.UUID `json:"eventId"`
	EventType    string    `json:"eventType"`
	AggregateID  uuid.UUID `json:"aggregateId"`
	Reason       string    `json:"reason"`
	Error        string    `json:"error,omitempty"`
	AttemptCount int       `json:"attemptCount"`
	FailedAt     time.Time `json:"failedAt"`
	Payload      any       `json:"payload,omitempty"`
}

func newDLQView(row models.OutboxDLQ, withPayload bool) dlqView {
	v := dlqView{
		EventID:      row.EventID,
		EventType:    string(row.EventType),
		AggregateID:  row.AggregateID,
		Reason:       string(row.ErrorReason),
		AttemptCount: row.AttemptCount,
		FailedAt:     row.FailedAt.UTC(),
	}
	if row.ErrorMessage != nil {
		v.Error = *row.ErrorMessage
	}
	if withPayload && len(row.Payload) > 0 {
		v.Payload = json.RawMessage(row.Payload)
	}
	return v
}

func deadLetters(ctx context.Context, repo dlqReader, opts options, out io.Writer) error {
	if raw := strings.TrimSpace(opts.eventID); raw != "" {
		eventID, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid -event: %w", err)
		}
		row, err := repo.ByEventID(ctx, eventID)
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("event %s is not dead-lettered", eventID)
		}
		return writeJSON(out, newDLQView(*row, true))
	}

	rows, err := repo.Recent(ctx, opts.limit)
	if err != nil {
		return err
	}
	views := make([]dlqView, 0, len(rows))
	for _, row := range rows {
		views = append(views, newDLQView(row, false))
	}
	return writeJSON(out, views)
}

func hintFromOptions(opts options) (notifications.Hint, error) {
	kind, err := enums.ParseNotificationKind(opts.kind)
	if err != nil {
		return notifications.Hint{}, err
	}
	id := strings.TrimSpace(opts.objectID)
	if id == "" {
		return notifications.Hint{}, errors.New("missing -id")
	}
	return notifications.Hint{Kind: kind, ProviderObjectID: id}, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/natalfamilia/natal-backend/internal/orders"
	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/mercadopago"
	"github.com/natalfamilia/natal-backend/pkg/metrics"
	"github.com/natalfamilia/natal-backend/pkg/outbox/payloads"
)

var providerObjectIDRe = regexp.MustCompile(`^[0-9A-Za-z_-]{1,64}$`)

type paymentGateway interface {
	GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error)
	GetPreference(ctx context.Context, id string) (*mercadopago.Preference, error)
}

type orderStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Approve(ctx context.Context, input orders.ApprovalInput) (orders.ApproveResult, error)
}

// EngineParams wires the reconciliation engine.
type EngineParams struct {
	Gateway   paymentGateway
	Orders    orderStore
	Tolerance decimal.Decimal
	Logger    *logger.Logger
	Metrics   *metrics.ReconcileMetrics
	Now       func() time.Time
}

// Engine turns an untrusted hint into at most one order approval.
type Engine struct {
	gateway   paymentGateway
	orders    orderStore
	tolerance decimal.Decimal
	logg      *logger.Logger
	metrics   *metrics.ReconcileMetrics
	now       func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if params.Tolerance.IsNegative() {
		return nil, fmt.Errorf("tolerance must not be negative")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Engine{
		gateway:   params.Gateway,
		orders:    params.Orders,
		tolerance: params.Tolerance,
		logg:      params.Logger,
		metrics:   params.Metrics,
		now:       params.Now,
	}, nil
}

// Reconcile re-fetches the payment named by hint and approves its order when
// the gateway says it is paid in full. It never panics or returns an error;
// each call ends in one log line carrying the outcome.
func (e *Engine) Reconcile(ctx context.Context, hint UntrustedHint) (res Result) {
	start := e.now()
	ctx = e.logg.WithFields(ctx, map[string]any{
		"notification_kind":  string(hint.Kind),
		"provider_object_id": hint.ProviderObjectID,
	})

	defer func() {
		if r := recover(); r != nil {
			res = Result{Outcome: OutcomeInternalError, OrderID: res.OrderID, PaymentID: res.PaymentID, Detail: fmt.Sprint(r)}
		}
		e.metrics.ObserveOutcome(string(res.Outcome), e.now().Sub(start))
		e.report(ctx, res)
	}()

	return e.reconcile(ctx, hint)
}

func (e *Engine) reconcile(ctx context.Context, hint UntrustedHint) Result {
	if hint.Kind != enums.NotificationKindPayment {
		return Result{Outcome: OutcomeIgnoredKind}
	}
	paymentID := strings.TrimSpace(hint.ProviderObjectID)
	if !providerObjectIDRe.MatchString(paymentID) {
		return Result{Outcome: OutcomeInvalidHint, Detail: "malformed provider object id"}
	}

	fetched, err := e.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return Result{Outcome: gatewayOutcome(err, OutcomePaymentNotFound), PaymentID: paymentID, Detail: err.Error()}
	}
	payment := verify(fetched)
	if payment.PaymentID == "" {
		payment.PaymentID = paymentID
	}
	res := Result{PaymentID: payment.PaymentID}

	if payment.Status != mercadopago.StatusApproved {
		res.Outcome = OutcomeNotApproved
		res.Detail = "status " + payment.Status.String()
		return res
	}

	crossRef := payment.CrossRef
	if crossRef == "" && payment.PreferenceID != "" {
		pref, err := e.gateway.GetPreference(ctx, payment.PreferenceID)
		if err != nil {
			res.Outcome = gatewayOutcome(err, OutcomePreferenceLookupFailed)
			if res.Outcome == OutcomeGatewayRejected {
				res.Outcome = OutcomePreferenceLookupFailed
			}
			res.Detail = err.Error()
			return res
		}
		crossRef = strings.TrimSpace(pref.ExternalReference)
	}
	if crossRef == "" {
		res.Outcome = OutcomeUnresolvedReference
		return res
	}

	orderID, err := uuid.Parse(crossRef)
	if err != nil {
		res.Outcome = OutcomeUnknownOrder
		res.Detail = "cross reference is not an order id"
		return res
	}
	res.OrderID = orderID

	order, err := e.orders.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		res.Outcome = OutcomeUnknownOrder
		return res
	}
	if err != nil {
		res.Outcome = OutcomeStoreError
		res.Detail = err.Error()
		return res
	}

	if detail, ok := e.amountMatches(payment, order); !ok {
		res.Outcome = OutcomeAmountMismatch
		res.Detail = detail
		return res
	}

	approved, err := e.orders.Approve(ctx, orders.ApprovalInput{
		OrderID:    orderID,
		PaymentID:  payment.PaymentID,
		PaidAmount: payment.Amount,
		Currency:   payment.Currency,
		Source:     payloads.ApprovalSourceReconcile,
	})
	if err != nil {
		res.Outcome = OutcomeStoreError
		res.Detail = err.Error()
		return res
	}
	res.Applied = approved.Applied
	if approved.Applied {
		res.Outcome = OutcomeApproved
	} else {
		res.Outcome = OutcomeAlreadyApproved
	}
	return res
}

func (e *Engine) amountMatches(payment VerifiedPayment, order *models.Order) (string, bool) {
	diff := payment.Amount.Sub(order.ExpectedAmount).Abs()
	if diff.GreaterThan(e.tolerance) {
		return fmt.Sprintf("paid %s expected %s", payment.Amount.String(), order.ExpectedAmount.StringFixed(2)), false
	}
	if payment.Currency != "" && order.Currency != "" && !strings.EqualFold(payment.Currency, order.Currency) {
		return fmt.Sprintf("paid in %s expected %s", payment.Currency, order.Currency), false
	}
	return "", true
}

func gatewayOutcome(err error, notFound Outcome) Outcome {
	switch {
	case errors.Is(err, mercadopago.ErrNotFound):
		return notFound
	case mercadopago.IsTransient(err):
		return OutcomeGatewayUnavailable
	default:
		return OutcomeGatewayRejected
	}
}

func (e *Engine) report(ctx context.Context, res Result) {
	fields := map[string]any{
		"outcome":   string(res.Outcome),
		"applied":   res.Applied,
		"transient": res.Outcome.Transient(),
	}
	if res.OrderID != uuid.Nil {
		fields["order_id"] = res.OrderID.String()
	}
	if res.Detail != "" {
		fields["detail"] = res.Detail
	}
	ctx = e.logg.WithFields(ctx, fields)
	if res.PaymentID != "" {
		ctx = e.logg.WithPaymentID(ctx, res.PaymentID)
	}

	switch res.Outcome {
	case OutcomeApproved:
		e.logg.Info(ctx, "order approved")
	case OutcomeAlreadyApproved, OutcomeIgnoredKind, OutcomeNotApproved:
		e.logg.Info(ctx, "notification reconciled without transition")
	case OutcomeAmountMismatch:
		e.logg.Security(ctx, "payment amount does not match order")
	case OutcomeInternalError:
		e.logg.Error(ctx, "reconciliation panicked", errors.New(res.Detail))
	default:
		e.logg.Warn(ctx, "notification reconciliation aborted")
	}
}

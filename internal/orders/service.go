package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/mercadopago"
	"github.com/natalfamilia/natal-backend/pkg/outbox"
	"github.com/natalfamilia/natal-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitOnce(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type preferenceCreator interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
}

// Service covers the order lifecycle: checkout creation, the payment gate on
// reads, and the single approval transition.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error)
	ReadProtected(ctx context.Context, id uuid.UUID) (*PublicSite, error)
	Status(ctx context.Context, id uuid.UUID) (*StatusView, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Approve(ctx context.Context, input ApprovalInput) (ApproveResult, error)
	ForceApprove(ctx context.Context, input ForceApproveInput) (ApproveResult, error)
}

// ForceApproveInput is an operator override; it still goes through the
// conditional update.
type ForceApproveInput struct {
	OrderID   uuid.UUID
	PaymentID string
	Reason    string
	Actor     string
}

// ServiceParams wires the orders service.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Outbox   outboxEmitter
	Gateway  preferenceCreator
	Checkout CheckoutSettings
	Logger   *logger.Logger
	Now      func() time.Time
	NewID    func() uuid.UUID
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxEmitter
	gateway  preferenceCreator
	checkout CheckoutSettings
	logg     *logger.Logger
	now      func() time.Time
	newID    func() uuid.UUID
}

// NewService validates params and builds the orders service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if !params.Checkout.Price.IsPositive() {
		return nil, fmt.Errorf("site price must be positive")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	if params.NewID == nil {
		params.NewID = uuid.New
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		outbox:   params.Outbox,
		gateway:  params.Gateway,
		checkout: params.Checkout,
		logg:     params.Logger,
		now:      params.Now,
		newID:    params.NewID,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	now := s.now().UTC()
	order := &models.Order{
		ID:             s.newID(),
		ExpectedAmount: s.checkout.Price,
		Currency:       s.checkout.Currency,
		DisplayName:    strings.TrimSpace(input.DisplayName),
		Message:        strings.TrimSpace(input.Message),
		MediaRef:       strings.TrimSpace(input.MediaRef),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:   enums.EventOrderCreated,
			AggregateID: order.ID,
			Actor:       &outbox.ActorRef{Kind: outbox.ActorPublic},
			OccurredAt:  now,
			Data: payloads.OrderCreatedEvent{
				OrderID:        order.ID,
				ExpectedAmount: order.ExpectedAmount.StringFixed(2),
				Currency:       order.Currency,
				DisplayName:    order.DisplayName,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
	}

	ctx = s.withOrder(ctx, order.ID)
	pref, err := s.gateway.CreatePreference(ctx, s.preferenceRequest(order))
	if err != nil {
		// The order stays PENDING with the placeholder preference.
		s.warn(ctx, "checkout preference creation failed", err)
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "create checkout preference")
	}

	if err := s.repo.SetPreferenceID(ctx, order.ID, pref.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store preference id")
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "preference_id", pref.ID), "order created")
	}
	return &CreateOrderResult{
		OrderID:     order.ID,
		PayableID:   pref.ID,
		CheckoutURL: pref.CheckoutURL(),
		Price:       order.ExpectedAmount.InexactFloat64(),
	}, nil
}

func (s *service) preferenceRequest(order *models.Order) mercadopago.PreferenceRequest {
	title := s.checkout.ItemTitle
	if order.DisplayName != "" {
		title = fmt.Sprintf("%s - %s", s.checkout.ItemTitle, order.DisplayName)
	}
	front := s.checkout.FrontendURL
	return mercadopago.PreferenceRequest{
		ExternalReference:   order.ID.String(),
		Title:               title,
		Description:         s.checkout.ItemDescription,
		UnitPrice:           order.ExpectedAmount,
		CurrencyID:          order.Currency,
		SuccessURL:          front + "/payment/success",
		FailureURL:          front + "/payment/failure",
		PendingURL:          front + "/payment/pending",
		NotificationURL:     s.checkout.WebhookBaseURL + "/api/webhook",
		StatementDescriptor: s.checkout.StatementDescriptor,
		Installments:        1,
	}
}

func (s *service) ReadProtected(ctx context.Context, id uuid.UUID) (*PublicSite, error) {
	order, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.IsApproved() {
		return nil, paymentRequired(order.Status, order.ProviderPreferenceID)
	}
	return toPublicSite(order), nil
}

func (s *service) Status(ctx context.Context, id uuid.UUID) (*StatusView, error) {
	order, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{Status: order.Status, PayableID: order.ProviderPreferenceID}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) lookup(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// Approve flips a PENDING order to APPROVED and records order_approved in the
// same transaction. A second caller gets Applied=false and no event.
func (s *service) Approve(ctx context.Context, input ApprovalInput) (ApproveResult, error) {
	if input.OrderID == uuid.Nil {
		return ApproveResult{}, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	paymentID := strings.TrimSpace(input.PaymentID)
	if paymentID == "" {
		return ApproveResult{}, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	source := input.Source
	if source == "" {
		source = payloads.ApprovalSourceReconcile
	}

	now := s.now().UTC()
	var result ApproveResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := s.repo.WithTx(tx).ApproveIfPending(ctx, input.OrderID, paymentID, now)
		if err != nil {
			return err
		}
		result = res
		if !res.Applied {
			return nil
		}

		actor := &outbox.ActorRef{Kind: outbox.ActorSystem, ID: source}
		if source == payloads.ApprovalSourceOperator {
			actor = &outbox.ActorRef{Kind: outbox.ActorOperator, ID: input.Reason}
		}
		event := payloads.OrderApprovedEvent{
			OrderID:           input.OrderID,
			ProviderPaymentID: paymentID,
			Currency:          input.Currency,
			ApprovedAt:        now,
			Source:            source,
		}
		if !input.PaidAmount.IsZero() {
			event.PaidAmount = input.PaidAmount.StringFixed(2)
		}
		return s.outbox.EmitOnce(ctx, tx, outbox.DomainEvent{
			EventType:   enums.EventOrderApproved,
			AggregateID: input.OrderID,
			Actor:       actor,
			OccurredAt:  now,
			Data:        event,
		})
	})
	if err != nil {
		return ApproveResult{}, err
	}
	return result, nil
}

func (s *service) ForceApprove(ctx context.Context, input ForceApproveInput) (ApproveResult, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return ApproveResult{}, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	if _, err := s.lookup(ctx, input.OrderID); err != nil {
		return ApproveResult{}, err
	}

	paymentID := strings.TrimSpace(input.PaymentID)
	if paymentID == "" {
		paymentID = "manual"
	}
	res, err := s.Approve(ctx, ApprovalInput{
		OrderID:   input.OrderID,
		PaymentID: paymentID,
		Source:    payloads.ApprovalSourceOperator,
		Reason:    reason,
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return ApproveResult{}, err
		}
		return ApproveResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "approve order")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(s.withOrder(ctx, input.OrderID), map[string]any{
			"applied":  res.Applied,
			"reason":   reason,
			"operator": input.Actor,
		})
		s.logg.Warn(logCtx, "order approved by operator override")
	}
	return res, nil
}

func (s *service) withOrder(ctx context.Context, id uuid.UUID) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithOrderID(ctx, id.String())
}

func (s *service) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
}

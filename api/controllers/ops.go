package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/natalfamilia/natal-backend/api/middleware"
	"github.com/natalfamilia/natal-backend/api/responses"
	"github.com/natalfamilia/natal-backend/api/validators"
	"github.com/natalfamilia/natal-backend/internal/notifications"
	"github.com/natalfamilia/natal-backend/internal/orders"
	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/pagination"
)

type forceApprover interface {
	ForceApprove(ctx context.Context, input orders.ForceApproveInput) (orders.ApproveResult, error)
}

// TaskReader backs the ops notification listing.
type TaskReader interface {
	List(ctx context.Context, q notifications.ListQuery) (pagination.Page[models.NotificationTask], error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.NotificationTask, error)
}

type forceApproveRequest struct {
	Reason    string `json:"reason" validate:"required,min=3,max=500"`
	PaymentID string `json:"paymentId" validate:"omitempty,max=64"`
}

func (r *forceApproveRequest) Normalize() {
	r.Reason = validators.SanitizeString(r.Reason, 501)
	r.PaymentID = strings.TrimSpace(r.PaymentID)
}

type forceApproveResponse struct {
	OrderID uuid.UUID `json:"orderId"`
	Applied bool      `json:"applied"`
}

// OpsForceApprove approves an order without a gateway payment. It goes
// through the same conditional update as reconciliation, so an approved
// order stays untouched.
func OpsForceApprove(svc forceApprover, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload forceApproveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		res, err := svc.ForceApprove(r.Context(), orders.ForceApproveInput{
			OrderID:   id,
			PaymentID: payload.PaymentID,
			Reason:    payload.Reason,
			Actor:     middleware.OperatorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, forceApproveResponse{OrderID: id, Applied: res.Applied})
	}
}

type replayRequest struct {
	Kind             string `json:"kind" validate:"required,oneof=payment merchant_order"`
	ProviderObjectID string `json:"providerObjectId" validate:"required,max=64"`
}

func (r *replayRequest) Normalize() {
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
	r.ProviderObjectID = strings.TrimSpace(r.ProviderObjectID)
}

type replayResponse struct {
	TaskID    *uuid.UUID `json:"taskId,omitempty"`
	Duplicate bool       `json:"duplicate"`
}

// OpsReplayNotification queues a hint by hand, e.g. for a payment id taken
// from the gateway dashboard.
func OpsReplayNotification(queue HintQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if queue == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification queue unavailable"))
			return
		}
		var payload replayRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		res, err := queue.Enqueue(r.Context(), notifications.Hint{
			Kind:             enums.NotificationKind(payload.Kind),
			ProviderObjectID: payload.ProviderObjectID,
		}, notifications.EnqueueOptions{
			Source:    enums.NotificationSourceReplay,
			RequestID: middleware.RequestIDFromRequest(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		body := replayResponse{Duplicate: res.Duplicate}
		if !res.Duplicate {
			body.TaskID = &res.TaskID
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, body)
	}
}

type taskView struct {
	ID               uuid.UUID  `json:"id"`
	Kind             string     `json:"kind"`
	ProviderObjectID string     `json:"providerObjectId"`
	Source           string     `json:"source"`
	Status           string     `json:"status"`
	AttemptCount     int        `json:"attemptCount"`
	AvailableAt      time.Time  `json:"availableAt"`
	LastOutcome      *string    `json:"lastOutcome,omitempty"`
	LastError        *string    `json:"lastError,omitempty"`
	OrderID          *uuid.UUID `json:"orderId,omitempty"`
	HandledAt        *time.Time `json:"handledAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func newTaskView(task models.NotificationTask) taskView {
	return taskView{
		ID:               task.ID,
		Kind:             string(task.Kind),
		ProviderObjectID: task.ProviderObjectID,
		Source:           string(task.Source),
		Status:           string(task.Status),
		AttemptCount:     task.AttemptCount,
		AvailableAt:      task.AvailableAt,
		LastOutcome:      task.LastOutcome,
		LastError:        task.LastError,
		OrderID:          task.OrderID,
		HandledAt:        task.HandledAt,
		CreatedAt:        task.CreatedAt,
	}
}

type taskPage struct {
	Tasks      []taskView `json:"tasks"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// OpsListNotifications lists tasks newest first. Pass nextCursor back as
// ?cursor= for the following page.
func OpsListNotifications(store TaskReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification store unavailable"))
			return
		}
		limit, err := validators.ParseLimit(r, pagination.DefaultLimit, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := enums.NotificationTaskStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
		if status != "" && !status.IsValid() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid status").
				WithDetails(map[string]any{"field": "status"}))
			return
		}

		page, err := store.List(r.Context(), notifications.ListQuery{
			Status: status,
			Params: pagination.Params{Limit: limit, Cursor: r.URL.Query().Get("cursor")},
		})
		if errors.Is(err, notifications.ErrInvalidCursor) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor").
				WithDetails(map[string]any{"field": "cursor"}))
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notification tasks"))
			return
		}
		views := make([]taskView, 0, len(page.Items))
		for _, task := range page.Items {
			views = append(views, newTaskView(task))
		}
		responses.WriteSuccess(w, taskPage{Tasks: views, NextCursor: page.NextCursor})
	}
}

func OpsGetNotification(store TaskReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification store unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		task, err := store.FindByID(r.Context(), id)
		if errors.Is(err, notifications.ErrTaskNotFound) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "notification task not found"))
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load notification task"))
			return
		}
		responses.WriteSuccess(w, newTaskView(*task))
	}
}

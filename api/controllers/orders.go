package controllers

import (
	"net/http"

	"github.com/natalfamilia/natal-backend/api/responses"
	"github.com/natalfamilia/natal-backend/api/validators"
	"github.com/natalfamilia/natal-backend/internal/orders"
	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
	"github.com/natalfamilia/natal-backend/pkg/logger"
)

const (
	maxDisplayName = 100
	maxMessage     = 2000
	maxMediaRef    = 2048
)

type createOrderRequest struct {
	DisplayName string `json:"displayName" validate:"required,min=2,max=100"`
	Message     string `json:"message" validate:"required,min=10,max=2000"`
	MediaRef    string `json:"mediaRef" validate:"omitempty,http_url,max=2048"`
}

// Normalize trims fields; the +1 keeps over-long input failing max instead
// of being silently cut.
func (r *createOrderRequest) Normalize() {
	r.DisplayName = validators.SanitizeString(r.DisplayName, maxDisplayName+1)
	r.Message = validators.SanitizeString(r.Message, maxMessage+1)
	r.MediaRef = validators.SanitizeString(r.MediaRef, maxMediaRef+1)
}

// CreateOrder persists a PENDING order and opens a checkout for it. The price
// always comes from configuration.
func CreateOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Create(r.Context(), orders.CreateOrderInput{
			DisplayName: payload.DisplayName,
			Message:     payload.Message,
			MediaRef:    payload.MediaRef,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// GetSite returns the protected payload, or 402 with the order status and
// payable id while payment is outstanding.
func GetSite(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
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
		site, err := svc.ReadProtected(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		responses.WriteSuccess(w, site)
	}
}

// GetStatus is the polling endpoint behind the payment return pages.
func GetStatus(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
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
		view, err := svc.Status(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		responses.WriteSuccess(w, view)
	}
}

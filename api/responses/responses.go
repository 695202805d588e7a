package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
	"github.com/natalfamilia/natal-backend/pkg/logger"
)

// SuccessEnvelope wraps every successful payload.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// ErrorEnvelope wraps every error payload.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

// clientFacing codes carry messages written for the browser; everything else
// falls back to the code's public message.
var clientFacing = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:      true,
	pkgerrors.CodeUnauthorized:    true,
	pkgerrors.CodeForbidden:       true,
	pkgerrors.CodeNotFound:        true,
	pkgerrors.CodeConflict:        true,
	pkgerrors.CodePaymentRequired: true,
	pkgerrors.CodeRateLimit:       true,
}

// WriteError maps err onto the error envelope. Untyped errors become
// INTERNAL_ERROR and never leak their message.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if clientFacing[typed.Code()] && typed.Message() != "" {
		msg = typed.Message()
	}

	payload := ErrorEnvelope{Error: APIError{Code: string(typed.Code()), Message: msg}}
	if meta.DetailsAllowed {
		if details := typed.Details(); details != nil {
			payload.Error.Details = details
		}
	}

	if logg != nil {
		logCtx := logg.WithFields(ctx, pkgerrors.Dump(err).Fields())
		logCtx = logg.WithField(logCtx, "http_status", meta.HTTPStatus)
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(logCtx, "request.error", err)
		} else {
			logg.Warn(logCtx, "request.rejected")
		}
	}

	writeJSON(w, meta.HTTPStatus, payload)
}

// writeJSON ignores encode errors: the status line is already out and the
// client has usually gone away.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
)

// ErrNotFound is returned when the gateway answers 404 for a lookup.
var ErrNotFound = errors.New("mercadopago: resource not found")

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindUnavailable ErrorKind = "unavailable"
	KindTimeout     ErrorKind = "timeout"
	KindRejected    ErrorKind = "rejected"
)

// GatewayError describes a failed call that did not produce a usable answer.
type GatewayError struct {
	Kind   ErrorKind
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("mercadopago %s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Transient reports whether retrying later may succeed.
func (e *GatewayError) Transient() bool {
	return e.Kind == KindUnavailable || e.Kind == KindTimeout
}

// IsTransient reports whether err is a retry-worthy gateway failure.
func IsTransient(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Transient()
}

func transportError(op string, err error) error {
	kind := KindUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return wrapTyped(&GatewayError{Kind: kind, Op: op, Err: err})
}

func statusError(op string, status int, body string) error {
	kind := KindRejected
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		kind = KindUnavailable
	}
	return wrapTyped(&GatewayError{Kind: kind, Op: op, Status: status, Body: body})
}

// wrapTyped attaches the HTTP-facing code so synchronous callers can hand the
// error straight to the response writer.
func wrapTyped(gwErr *GatewayError) error {
	if gwErr.Transient() {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, gwErr, "payment provider unavailable")
	}
	return pkgerrors.Wrap(pkgerrors.CodeGatewayRejected, gwErr, "payment provider rejected the request")
}

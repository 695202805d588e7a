package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodePaymentRequired, status: http.StatusPaymentRequired, publicMsg: "payment pending", detailsOK: true},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, publicMsg: "rate limit exceeded"},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusInternalServerError, publicMsg: "dependency unavailable", retryable: true},
		{code: CodeGatewayUnavailable, status: http.StatusInternalServerError, publicMsg: "payment provider unavailable", retryable: true},
		{code: CodeGatewayRejected, status: http.StatusInternalServerError, publicMsg: "payment provider rejected the request"},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("socket closed")
	wrapped := Wrap(CodeGatewayUnavailable, cause, "fetch payment")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatal("expected wrapped error to unwrap to cause")
	}
	outer := fmt.Errorf("reconcile: %w", wrapped)
	if !IsCode(outer, CodeGatewayUnavailable) {
		t.Fatal("expected IsCode to find code through fmt wrapping")
	}
	if IsCode(outer, CodeGatewayRejected) {
		t.Fatal("did not expect rejected code")
	}
	if As(stdErrors.New("plain")) != nil {
		t.Fatal("plain errors should not be typed")
	}
}

func TestDumpCapturesPgError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "orders_pkey", TableName: "orders", Message: "duplicate key value"}
	err := Wrap(CodeConflict, pgErr, "insert order")

	dump := Dump(err)
	if dump.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", dump.Code)
	}
	if dump.PGCode != "23505" || dump.PGConstraint != "orders_pkey" || dump.PGTable != "orders" {
		t.Fatalf("unexpected pg fields %+v", dump)
	}
	if len(dump.Chain) != 2 {
		t.Fatalf("expected 2 chain entries, got %d", len(dump.Chain))
	}
}

package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient("TEST-token",
		WithBaseURL("http://mp.test/"),
		WithHTTPClient(&http.Client{Transport: rt}),
		WithIdempotencyKeys(func() string { return "idem-1" }),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestCreatePreferenceRequest(t *testing.T) {
	var captured *http.Request
	var payload map[string]any

	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		return jsonResponse(http.StatusCreated, `{"id":"pref-123","init_point":"https://mp/checkout?p=1","sandbox_init_point":"https://sandbox/checkout?p=1"}`), nil
	})

	pref, err := client.CreatePreference(context.Background(), PreferenceRequest{
		ExternalReference:   "order-1",
		Title:               "Site de Natal - Silva",
		UnitPrice:           decimal.RequireFromString("29.90"),
		CurrencyID:          "BRL",
		SuccessURL:          "http://front/payment/success",
		FailureURL:          "http://front/payment/failure",
		PendingURL:          "http://front/payment/pending",
		NotificationURL:     "http://hooks/api/webhook",
		StatementDescriptor: "Natal Familia",
	})
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}

	if captured.Method != http.MethodPost || captured.URL.String() != "http://mp.test/checkout/preferences" {
		t.Fatalf("unexpected request %s %s", captured.Method, captured.URL)
	}
	if got := captured.Header.Get("Authorization"); got != "Bearer TEST-token" {
		t.Fatalf("unexpected auth header %q", got)
	}
	if got := captured.Header.Get(idempotencyKeyHeader); got != "idem-1" {
		t.Fatalf("unexpected idempotency key %q", got)
	}
	if payload["external_reference"] != "order-1" || payload["auto_return"] != "approved" {
		t.Fatalf("unexpected payload %v", payload)
	}
	items := payload["items"].([]any)
	item := items[0].(map[string]any)
	if item["title"] != "Site de Natal - Silva" || item["quantity"].(float64) != 1 || item["unit_price"].(float64) != 29.9 {
		t.Fatalf("unexpected item %v", item)
	}
	methods := payload["payment_methods"].(map[string]any)
	if methods["installments"].(float64) != 1 {
		t.Fatalf("expected single installment, got %v", methods["installments"])
	}
	if pref.ID != "pref-123" || pref.CheckoutURL() != "https://mp/checkout?p=1" {
		t.Fatalf("unexpected preference %+v", pref)
	}
}

func TestCreatePreferenceValidation(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	_, err := client.CreatePreference(context.Background(), PreferenceRequest{ExternalReference: "o", UnitPrice: decimal.Zero})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCheckoutURLFallsBackToSandbox(t *testing.T) {
	p := &Preference{SandboxInitPoint: "https://sandbox"}
	if p.CheckoutURL() != "https://sandbox" {
		t.Fatalf("expected sandbox fallback")
	}
}

func TestGetPaymentDecodes(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/payments/998877" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		if req.Header.Get(idempotencyKeyHeader) != "" {
			t.Fatalf("GET must not carry an idempotency key")
		}
		return jsonResponse(http.StatusOK, `{"id":998877,"status":"approved","status_detail":"accredited","transaction_amount":29.9,"currency_id":"BRL","external_reference":" order-1 ","date_approved":"2025-12-20T10:00:00.000-03:00"}`), nil
	})

	p, err := client.GetPayment(context.Background(), "998877")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if p.ID != "998877" || !p.Approved() || p.ExternalReference != "order-1" || p.CurrencyID != "BRL" {
		t.Fatalf("unexpected payment %+v", p)
	}
	if !p.TransactionAmount.Equal(decimal.RequireFromString("29.90")) {
		t.Fatalf("unexpected amount %s", p.TransactionAmount)
	}
	if p.DateApproved == nil || p.DateApproved.UTC().Hour() != 13 {
		t.Fatalf("unexpected approval time %v", p.DateApproved)
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"message":"Payment not found"}`), nil
	})
	_, err := client.GetPayment(context.Background(), "1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		rt        roundTripFunc
		kind      ErrorKind
		code      pkgerrors.Code
		transient bool
	}{
		{
			name: "server error",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusBadGateway, "bad gateway"), nil
			},
			kind: KindUnavailable, code: pkgerrors.CodeGatewayUnavailable, transient: true,
		},
		{
			name: "throttled",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusTooManyRequests, ""), nil
			},
			kind: KindUnavailable, code: pkgerrors.CodeGatewayUnavailable, transient: true,
		},
		{
			name: "bad request",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusBadRequest, `{"message":"invalid"}`), nil
			},
			kind: KindRejected, code: pkgerrors.CodeGatewayRejected,
		},
		{
			name: "transport",
			rt: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
			kind: KindUnavailable, code: pkgerrors.CodeGatewayUnavailable, transient: true,
		},
		{
			name: "deadline",
			rt: func(*http.Request) (*http.Response, error) {
				return nil, context.DeadlineExceeded
			},
			kind: KindTimeout, code: pkgerrors.CodeGatewayUnavailable, transient: true,
		},
		{
			name: "garbled body",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"id":`), nil
			},
			kind: KindUnavailable, code: pkgerrors.CodeGatewayUnavailable, transient: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, tc.rt)
			_, err := client.GetPayment(context.Background(), "1")
			var gwErr *GatewayError
			if !errors.As(err, &gwErr) {
				t.Fatalf("expected GatewayError, got %v", err)
			}
			if gwErr.Kind != tc.kind {
				t.Fatalf("expected kind %s got %s", tc.kind, gwErr.Kind)
			}
			if !pkgerrors.IsCode(err, tc.code) {
				t.Fatalf("expected code %s in %v", tc.code, err)
			}
			if IsTransient(err) != tc.transient {
				t.Fatalf("expected transient=%v", tc.transient)
			}
		})
	}
}

func TestErrorBodyStaysValidUTF8(t *testing.T) {
	// The read limit lands inside "ç".
	body := strings.Repeat("a", int(errorBodyReadLimit)-1) + "ção"
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, body), nil
	})
	_, err := client.GetPayment(context.Background(), "1")
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if !utf8.ValidString(gwErr.Body) {
		t.Fatalf("body ends in a partial rune: % x", gwErr.Body[len(gwErr.Body)-3:])
	}
	if len(gwErr.Body) != int(errorBodyReadLimit)-1 {
		t.Fatalf("expected the partial rune dropped, got %d bytes", len(gwErr.Body))
	}
}

func TestRequestTimeoutIsBounded(t *testing.T) {
	client, err := NewClient("TEST-token",
		WithBaseURL("http://mp.test"),
		WithTimeout(20*time.Millisecond),
		WithHTTPClient(&http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		})}),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	start := time.Now()
	_, err = client.GetPreference(context.Background(), "pref-1")
	if time.Since(start) > time.Second {
		t.Fatalf("call was not bounded by the timeout")
	}
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.Kind != KindTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestSearchPayments(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/payments/search" || req.URL.Query().Get("external_reference") != "order-1" {
			t.Fatalf("unexpected url %s", req.URL)
		}
		return jsonResponse(http.StatusOK, `{"results":[{"id":2,"status":"approved","transaction_amount":29.9},{"id":1,"status":"rejected","transaction_amount":29.9}]}`), nil
	})

	payments, err := client.SearchPayments(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(payments) != 2 || payments[0].ID != "2" || !payments[0].Approved() || payments[1].Approved() {
		t.Fatalf("unexpected payments %+v", payments)
	}
}

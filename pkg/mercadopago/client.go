package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.mercadopago.com"
	defaultTimeout              = 10 * time.Second
	errorBodyReadLimit    int64 = 1024
	responseBodyReadLimit int64 = 1 << 20
	idempotencyKeyHeader        = "X-Idempotency-Key"
)

var errAccessTokenRequired = errors.New("mercado pago access token is required")

// Client talks to the Mercado Pago REST API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	timeout     time.Duration
	newKey      func() string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL points the client at another API host.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// WithTimeout bounds every call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithIdempotencyKeys replaces the idempotency key generator.
func WithIdempotencyKeys(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newKey = fn
		}
	}
}

// NewClient builds a client for the given access token.
func NewClient(accessToken string, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}

	client := &Client{
		accessToken: token,
		baseURL:     defaultBaseURL,
		timeout:     defaultTimeout,
		newKey:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: client.timeout}
	}
	return client, nil
}

// NewFromConfig builds a client from the service configuration.
func NewFromConfig(cfg config.MercadoPagoConfig, opts ...Option) (*Client, error) {
	base := []Option{WithBaseURL(cfg.BaseURL), WithTimeout(cfg.RequestTimeout)}
	return NewClient(cfg.AccessToken, append(base, opts...)...)
}

type preferenceResource struct {
	ID                string `json:"id"`
	ExternalReference string `json:"external_reference"`
	InitPoint         string `json:"init_point"`
	SandboxInitPoint  string `json:"sandbox_init_point"`
}

func (r preferenceResource) toPreference() *Preference {
	return &Preference{
		ID:                r.ID,
		ExternalReference: r.ExternalReference,
		InitPoint:         r.InitPoint,
		SandboxInitPoint:  r.SandboxInitPoint,
	}
}

type paymentResource struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
	ExternalReference string          `json:"external_reference"`
	PreferenceID      string          `json:"preference_id"`
	DateApproved      *time.Time      `json:"date_approved"`
}

func (r paymentResource) toPayment() Payment {
	return Payment{
		ID:                r.ID.String(),
		Status:            enums.PaymentStatus(r.Status),
		StatusDetail:      r.StatusDetail,
		TransactionAmount: r.TransactionAmount,
		CurrencyID:        r.CurrencyID,
		ExternalReference: strings.TrimSpace(r.ExternalReference),
		PreferenceID:      strings.TrimSpace(r.PreferenceID),
		DateApproved:      r.DateApproved,
	}
}

// CreatePreference registers a checkout intent and returns its id and links.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	if strings.TrimSpace(req.ExternalReference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}
	if !req.UnitPrice.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must be positive")
	}

	type item struct {
		Title       string  `json:"title"`
		Description string  `json:"description,omitempty"`
		Quantity    int     `json:"quantity"`
		UnitPrice   float64 `json:"unit_price"`
		CurrencyID  string  `json:"currency_id"`
	}
	body := struct {
		Items             []item `json:"items"`
		ExternalReference string `json:"external_reference"`
		PaymentMethods    struct {
			ExcludedPaymentTypes   []any `json:"excluded_payment_types"`
			ExcludedPaymentMethods []any `json:"excluded_payment_methods"`
			Installments           int   `json:"installments"`
		} `json:"payment_methods"`
		BackURLs struct {
			Success string `json:"success,omitempty"`
			Failure string `json:"failure,omitempty"`
			Pending string `json:"pending,omitempty"`
		} `json:"back_urls"`
		NotificationURL     string `json:"notification_url,omitempty"`
		AutoReturn          string `json:"auto_return,omitempty"`
		StatementDescriptor string `json:"statement_descriptor,omitempty"`
	}{
		Items: []item{{
			Title:       req.Title,
			Description: req.Description,
			Quantity:    1,
			UnitPrice:   req.UnitPrice.Round(2).InexactFloat64(),
			CurrencyID:  req.CurrencyID,
		}},
		ExternalReference:   req.ExternalReference,
		NotificationURL:     req.NotificationURL,
		StatementDescriptor: req.StatementDescriptor,
	}
	body.PaymentMethods.ExcludedPaymentTypes = []any{}
	body.PaymentMethods.ExcludedPaymentMethods = []any{}
	body.PaymentMethods.Installments = req.Installments
	if body.PaymentMethods.Installments <= 0 {
		body.PaymentMethods.Installments = 1
	}
	body.BackURLs.Success = req.SuccessURL
	body.BackURLs.Failure = req.FailureURL
	body.BackURLs.Pending = req.PendingURL
	// auto_return is only accepted alongside a success URL.
	if req.SuccessURL != "" {
		body.AutoReturn = "approved"
	}

	var out preferenceResource
	if err := c.do(ctx, "create_preference", http.MethodPost, "/checkout/preferences", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, wrapTyped(&GatewayError{Kind: KindRejected, Op: "create_preference", Body: "response without id"})
	}
	return out.toPreference(), nil
}

// GetPayment fetches a payment by id.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	var out paymentResource
	if err := c.do(ctx, "get_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(trimmed), nil, &out); err != nil {
		return nil, err
	}
	p := out.toPayment()
	if p.ID == "" {
		p.ID = trimmed
	}
	return &p, nil
}

// GetPreference fetches a checkout intent by id.
func (c *Client) GetPreference(ctx context.Context, id string) (*Preference, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "preference id is required")
	}

	var out preferenceResource
	if err := c.do(ctx, "get_preference", http.MethodGet, "/checkout/preferences/"+url.PathEscape(trimmed), nil, &out); err != nil {
		return nil, err
	}
	return out.toPreference(), nil
}

// SearchPayments lists the payments carrying externalReference, newest first.
func (c *Client) SearchPayments(ctx context.Context, externalReference string) ([]Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercado pago client not configured")
	}
	trimmed := strings.TrimSpace(externalReference)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}

	q := url.Values{}
	q.Set("external_reference", trimmed)
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")

	var out struct {
		Results []paymentResource `json:"results"`
	}
	if err := c.do(ctx, "search_payments", http.MethodGet, "/v1/payments/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	payments := make([]Payment, 0, len(out.Results))
	for _, r := range out.Results {
		payments = append(payments, r.toPayment())
	}
	return payments, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal "+op+" request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build "+op+" request")
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set(idempotencyKeyHeader, c.newKey())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return transportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return statusError(op, resp.StatusCode, strings.TrimSpace(strings.ToValidUTF8(string(msg), "")))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseBodyReadLimit)).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return transportError(op, err)
		}
		return wrapTyped(&GatewayError{Kind: KindUnavailable, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)})
	}
	return nil
}

package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
)

// CreateOrderInput is the validated visitor payload. It never carries a price.
type CreateOrderInput struct {
	DisplayName string
	Message     string
	MediaRef    string
}

// CreateOrderResult is returned to the visitor after checkout is set up.
type CreateOrderResult struct {
	OrderID     uuid.UUID `json:"orderId"`
	PayableID   string    `json:"payableId"`
	CheckoutURL string    `json:"checkoutUrl"`
	Price       float64   `json:"price"`
}

// PublicSite is the protected payload, only built for approved orders.
type PublicSite struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName"`
	Message     string    `json:"message"`
	MediaRef    string    `json:"mediaRef"`
	CreatedAt   time.Time `json:"createdAt"`
}

// StatusView is safe to return for any order state.
type StatusView struct {
	Status    enums.OrderStatus `json:"status"`
	PayableID string            `json:"payableId"`
}

// ApprovalInput carries the verified payment facts that justify approval.
type ApprovalInput struct {
	OrderID    uuid.UUID
	PaymentID  string
	PaidAmount decimal.Decimal
	Currency   string
	Source     string
	Reason     string
}

// CheckoutSettings is the server-side configuration behind every preference.
type CheckoutSettings struct {
	Price               decimal.Decimal
	Currency            string
	ItemTitle           string
	ItemDescription     string
	FrontendURL         string
	WebhookBaseURL      string
	StatementDescriptor string
}

// NewCheckoutSettings derives checkout settings from configuration. The
// Mercado Pago frontend URL wins over the CORS one when both are set.
func NewCheckoutSettings(cfg *config.Config) CheckoutSettings {
	frontend := strings.TrimSpace(cfg.MercadoPago.FrontendURL)
	if frontend == "" {
		frontend = cfg.CORS.FrontendURL
	}
	webhook := strings.TrimSpace(cfg.MercadoPago.WebhookURL)
	if webhook == "" {
		webhook = "http://localhost:" + cfg.App.Port
	}
	return CheckoutSettings{
		Price:               cfg.Pricing.Price(),
		Currency:            cfg.Pricing.Currency,
		ItemTitle:           cfg.Pricing.ItemTitle,
		ItemDescription:     cfg.Pricing.ItemDescription,
		FrontendURL:         strings.TrimRight(frontend, "/"),
		WebhookBaseURL:      strings.TrimRight(webhook, "/"),
		StatementDescriptor: cfg.MercadoPago.StatementDescriptor,
	}
}

func toPublicSite(order *models.Order) *PublicSite {
	return &PublicSite{
		ID:          order.ID,
		DisplayName: order.DisplayName,
		Message:     order.Message,
		MediaRef:    order.MediaRef,
		CreatedAt:   order.CreatedAt,
	}
}

package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/natalfamilia/natal-backend/api/middleware"
	"github.com/natalfamilia/natal-backend/api/responses"
	"github.com/natalfamilia/natal-backend/internal/notifications"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/mercadopago"
)

const maxWebhookBody = 64 << 10

// HintQueue accepts notification hints for reconciliation.
type HintQueue interface {
	Enqueue(ctx context.Context, hint notifications.Hint, opts notifications.EnqueueOptions) (notifications.EnqueueResult, error)
}

type webhookAck struct {
	Received bool `json:"received"`
}

// PaymentWebhook records the resource reference of a gateway notification and
// acknowledges. It answers 200 whatever happens inside so the gateway never
// retries because of our failures; the pending sweep recovers anything lost.
// With a non-empty secret, notifications failing the x-signature check are
// dropped.
func PaymentWebhook(queue HintQueue, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		defer responses.WriteSuccess(w, webhookAck{Received: true})

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			logWebhook(ctx, logg, "webhook.read_failed", err)
			return
		}

		signedID := strings.TrimSpace(r.URL.Query().Get("data.id"))
		if secret != "" {
			err := mercadopago.VerifyWebhookSignature(secret,
				r.Header.Get("X-Signature"),
				signedID,
				r.Header.Get("X-Request-Id"))
			if err != nil {
				securityDrop(ctx, logg, "webhook.signature_rejected", signedID, err.Error())
				return
			}
		}

		hint, err := notifications.ParseHint(body, r.URL.Query())
		if err != nil {
			logWebhook(ctx, logg, "webhook.ignored", err)
			return
		}
		// The signature only covers the query data.id, so a signed request must
		// not name a different object in its body.
		if secret != "" {
			if signedID == "" || !strings.EqualFold(hint.ProviderObjectID, signedID) {
				securityDrop(ctx, logg, "webhook.unsigned_object_id", signedID, "object id "+hint.ProviderObjectID+" is not covered by the signature")
				return
			}
			hint.ProviderObjectID = signedID
		}
		if !hint.Supported() {
			if logg != nil {
				logg.Info(logg.WithField(ctx, "notification_kind", string(hint.Kind)), "webhook.unsupported_kind")
			}
			return
		}
		if queue == nil {
			logWebhook(ctx, logg, "webhook.queue_unavailable", errors.New("notification queue not configured"))
			return
		}

		if _, err := queue.Enqueue(ctx, hint, notifications.EnqueueOptions{
			Source:    enums.NotificationSourceWebhook,
			Raw:       body,
			RequestID: middleware.RequestIDFromRequest(r),
		}); err != nil && logg != nil {
			logg.Error(ctx, "webhook.enqueue_failed", err)
		}
	}
}

func securityDrop(ctx context.Context, logg *logger.Logger, msg, dataID, reason string) {
	if logg == nil {
		return
	}
	logg.Security(logg.WithFields(ctx, map[string]any{
		"error":   reason,
		"data_id": dataID,
	}), msg)
}

func logWebhook(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil {
		return
	}
	logg.Warn(logg.WithField(ctx, "error", err.Error()), msg)
}

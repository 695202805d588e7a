package notifications

import (
	"net/url"
	"testing"

	"github.com/natalfamilia/natal-backend/pkg/enums"
)

func TestParseHint(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		query  string
		want   Hint
		hasErr bool
	}{
		{
			name: "json body with string id",
			body: `{"type":"payment","action":"payment.updated","data":{"id":"123"}}`,
			want: Hint{Kind: enums.NotificationKindPayment, ProviderObjectID: "123", Action: "payment.updated"},
		},
		{
			name: "json body with numeric id",
			body: `{"type":"payment","data":{"id":98765432101}}`,
			want: Hint{Kind: enums.NotificationKindPayment, ProviderObjectID: "98765432101"},
		},
		{
			name: "action only",
			body: `{"action":"payment.created","data":{"id":"5"}}`,
			want: Hint{Kind: enums.NotificationKindPayment, ProviderObjectID: "5", Action: "payment.created"},
		},
		{
			name:  "query string format",
			query: "type=payment&data.id=77",
			want:  Hint{Kind: enums.NotificationKindPayment, ProviderObjectID: "77"},
		},
		{
			name:  "legacy topic format",
			query: "topic=merchant_order&id=991",
			want:  Hint{Kind: enums.NotificationKindMerchantOrder, ProviderObjectID: "991"},
		},
		{
			name: "legacy resource url",
			body: `{"topic":"payment","resource":"https://api.mercadolibre.com/collections/notifications/4242"}`,
			want: Hint{Kind: enums.NotificationKindPayment, ProviderObjectID: "4242"},
		},
		{
			name:  "malformed body falls back to query",
			body:  `{not json`,
			query: "type=payment&data.id=8",
			want:  Hint{Kind: enums.NotificationKindPayment, ProviderObjectID: "8"},
		},
		{
			name: "unknown kind is kept but unsupported",
			body: `{"type":"subscription_preapproval","data":{"id":"1"}}`,
			want: Hint{Kind: enums.NotificationKind("subscription_preapproval"), ProviderObjectID: "1"},
		},
		{name: "empty", hasErr: true},
		{name: "kind without id", body: `{"type":"payment"}`, hasErr: true},
		{name: "id without kind", query: "data.id=3", hasErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("parse query: %v", err)
			}
			got, err := ParseHint([]byte(tt.body), query)
			if tt.hasErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v want %+v", got, tt.want)
			}
		})
	}
}

func TestHintSupported(t *testing.T) {
	if !(Hint{Kind: enums.NotificationKindPayment}).Supported() {
		t.Fatal("payment should be supported")
	}
	if (Hint{Kind: "chargebacks"}).Supported() {
		t.Fatal("chargebacks should not be supported")
	}
}

package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSignatureMissing  = errors.New("webhook signature missing")
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
)

// WebhookSignature is the parsed x-signature header ("ts=...,v1=...").
type WebhookSignature struct {
	TS string
	V1 string
}

func ParseSignatureHeader(header string) (WebhookSignature, error) {
	var sig WebhookSignature
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			sig.TS = strings.TrimSpace(value)
		case "v1":
			sig.V1 = strings.TrimSpace(value)
		}
	}
	if sig.TS == "" || sig.V1 == "" {
		return WebhookSignature{}, ErrSignatureMissing
	}
	return sig, nil
}

// SignatureManifest builds the string the gateway signs. Absent values are
// left out of the template entirely.
func SignatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		fmt.Fprintf(&b, "id:%s;", strings.ToLower(dataID))
	}
	if requestID != "" {
		fmt.Fprintf(&b, "request-id:%s;", requestID)
	}
	fmt.Fprintf(&b, "ts:%s;", ts)
	return b.String()
}

// VerifyWebhookSignature checks the x-signature header of a notification.
// dataID is the data.id query parameter and requestID the x-request-id
// header as received.
func VerifyWebhookSignature(secret, header, dataID, requestID string) error {
	if secret == "" {
		return errors.New("webhook secret not configured")
	}
	sig, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(SignatureManifest(dataID, requestID, sig.TS)))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig.V1))) {
		return ErrSignatureMismatch
	}
	return nil
}

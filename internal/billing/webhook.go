package billing

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const SignatureHeader = "X-Paystack-Signature"

const EventChargeSuccess = "charge.success"

// WebhookEvent is the subset of a Paystack event the service acts on.
type WebhookEvent struct {
	Event string      `json:"event"`
	Data  Transaction `json:"data"`
}

// Sign returns the hex HMAC-SHA512 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the header value against the raw request body.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(Sign(secret, body))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// ParseWebhook verifies then decodes a webhook delivery.
func ParseWebhook(secret string, body []byte, signature string) (WebhookEvent, error) {
	if !VerifySignature(secret, body, signature) {
		return WebhookEvent{}, ErrInvalidSignature
	}
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	return ev, nil
}

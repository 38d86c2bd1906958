package chapa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"checkout-core/internal/core/ports"
)

// webhookBody covers the fields Chapa sends on payment events. Older
// deliveries use trx_ref, newer ones tx_ref; both are accepted.
type webhookBody struct {
	TrxRef    string `json:"trx_ref"`
	TxRef     string `json:"tx_ref"`
	RefID     string `json:"ref_id"`
	Status    string `json:"status"`
	EventType string `json:"event"`
}

// ProcessWebhook validates the delivery signature and extracts the
// transaction reference and provider status from the payload. It performs no
// I/O; callers must re-verify the payment against the provider before
// trusting the reported status.
func (g *Gateway) ProcessWebhook(payload []byte, signature string) (*ports.WebhookResult, error) {
	if g.cfg.WebhookSecret == "" {
		if !g.cfg.AllowUnsigned {
			return nil, ports.ErrMissingWebhookSignature
		}
	} else {
		if signature == "" {
			return nil, ports.ErrMissingWebhookSignature
		}
		if !g.verifySignature(payload, signature) {
			return nil, ports.ErrInvalidWebhookSignature
		}
	}

	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, ports.ErrMalformedWebhookPayload
	}

	reference := body.TrxRef
	if reference == "" {
		reference = body.TxRef
	}
	if reference == "" {
		return nil, ports.ErrMalformedWebhookPayload
	}

	eventType := body.EventType
	if eventType == "" {
		eventType = "charge." + body.Status
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		raw = nil
	}

	return &ports.WebhookResult{
		EventType: eventType,
		Reference: reference,
		Status:    mapStatus(body.Status),
		Raw:       raw,
	}, nil
}

// verifySignature checks the HMAC-SHA256 hex digest of the raw payload in
// constant time.
func (g *Gateway) verifySignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(g.cfg.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

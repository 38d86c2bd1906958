package chapa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"checkout-core/internal/core/ports"

	"github.com/stretchr/testify/assert"
)

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestProcessWebhook_ValidSignature(t *testing.T) {
	gw := newTestGateway(nil)
	payload := []byte(`{"trx_ref": "TX-A1B2C3D4E5F6", "ref_id": "CH-778899", "status": "success"}`)
	signature := signPayload("test-webhook-secret", payload)

	result, err := gw.ProcessWebhook(payload, signature)
	assert.NoError(t, err)
	assert.Equal(t, "TX-A1B2C3D4E5F6", result.Reference)
	assert.Equal(t, ports.SettlementStatusSuccess, result.Status)
	assert.Equal(t, "charge.success", result.EventType)
	assert.Equal(t, "CH-778899", result.Raw["ref_id"])
}

func TestProcessWebhook_InvalidSignature(t *testing.T) {
	gw := newTestGateway(nil)
	payload := []byte(`{"trx_ref": "TX-A1B2C3D4E5F6", "status": "success"}`)

	result, err := gw.ProcessWebhook(payload, "deadbeef")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ports.ErrInvalidWebhookSignature)
}

func TestProcessWebhook_TamperedPayload(t *testing.T) {
	gw := newTestGateway(nil)
	payload := []byte(`{"trx_ref": "TX-A1B2C3D4E5F6", "status": "failed"}`)
	signature := signPayload("test-webhook-secret", payload)

	tampered := []byte(`{"trx_ref": "TX-A1B2C3D4E5F6", "status": "success"}`)
	result, err := gw.ProcessWebhook(tampered, signature)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ports.ErrInvalidWebhookSignature)
}

func TestProcessWebhook_MissingSignature(t *testing.T) {
	gw := newTestGateway(nil)
	payload := []byte(`{"trx_ref": "TX-A1B2C3D4E5F6", "status": "success"}`)

	result, err := gw.ProcessWebhook(payload, "")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ports.ErrMissingWebhookSignature)
}

func TestProcessWebhook_NoSecretConfigured(t *testing.T) {
	gw := NewGateway(Config{SecretKey: "k"}, &mockHTTPClient{}, newTestLogger())
	payload := []byte(`{"trx_ref": "TX-A1B2C3D4E5F6", "status": "success"}`)

	result, err := gw.ProcessWebhook(payload, "")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ports.ErrMissingWebhookSignature)
}

func TestProcessWebhook_UnsignedAllowed(t *testing.T) {
	gw := NewGateway(Config{SecretKey: "k", AllowUnsigned: true}, &mockHTTPClient{}, newTestLogger())
	payload := []byte(`{"trx_ref": "TX-A1B2C3D4E5F6", "status": "success"}`)

	result, err := gw.ProcessWebhook(payload, "")
	assert.NoError(t, err)
	assert.Equal(t, "TX-A1B2C3D4E5F6", result.Reference)
}

func TestProcessWebhook_AltReferenceField(t *testing.T) {
	gw := newTestGateway(nil)
	payload := []byte(`{"tx_ref": "TX-FFEEDDCCBBAA", "status": "failed"}`)
	signature := signPayload("test-webhook-secret", payload)

	result, err := gw.ProcessWebhook(payload, signature)
	assert.NoError(t, err)
	assert.Equal(t, "TX-FFEEDDCCBBAA", result.Reference)
	assert.Equal(t, ports.SettlementStatusFailed, result.Status)
}

func TestProcessWebhook_MalformedJSON(t *testing.T) {
	gw := newTestGateway(nil)
	payload := []byte(`{"trx_ref": `)
	signature := signPayload("test-webhook-secret", payload)

	result, err := gw.ProcessWebhook(payload, signature)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ports.ErrMalformedWebhookPayload)
}

func TestProcessWebhook_MissingReference(t *testing.T) {
	gw := newTestGateway(nil)
	payload := []byte(`{"status": "success"}`)
	signature := signPayload("test-webhook-secret", payload)

	result, err := gw.ProcessWebhook(payload, signature)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ports.ErrMalformedWebhookPayload)
}

func TestProcessWebhook_ExplicitEventType(t *testing.T) {
	gw := newTestGateway(nil)
	payload := []byte(`{"trx_ref": "TX-A1B2C3D4E5F6", "status": "success", "event": "payout.success"}`)
	signature := signPayload("test-webhook-secret", payload)

	result, err := gw.ProcessWebhook(payload, signature)
	assert.NoError(t, err)
	assert.Equal(t, "payout.success", result.EventType)
}

func TestProcessWebhook_CancelledStatus(t *testing.T) {
	gw := newTestGateway(nil)
	payload := []byte(`{"trx_ref": "TX-A1B2C3D4E5F6", "status": "cancelled"}`)
	signature := signPayload("test-webhook-secret", payload)

	result, err := gw.ProcessWebhook(payload, signature)
	assert.NoError(t, err)
	assert.Equal(t, ports.SettlementStatusCancelled, result.Status)
}

package chapa

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"checkout-core/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
)

// mockHTTPClient implements HTTPClient for testing.
type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func newTestGateway(client HTTPClient) *Gateway {
	return NewGateway(Config{
		BaseURL:       "https://api.chapa.test/v1",
		SecretKey:     "test-secret-key",
		WebhookSecret: "test-webhook-secret",
	}, client, newTestLogger())
}

func jsonResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestGateway_Identity(t *testing.T) {
	gw := newTestGateway(nil)

	assert.Equal(t, "chapa", gw.Key())
	assert.Equal(t, "Chapa", gw.DisplayName())
	assert.Equal(t, []string{"ETB", "USD", "EUR"}, gw.SupportedCurrencies())
	assert.True(t, gw.SupportsCurrency("ETB"))
	assert.False(t, gw.SupportsCurrency("NGN"))
}

func TestGateway_InitializePayment_Success(t *testing.T) {
	var capturedReq *http.Request
	var capturedBody []byte
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			capturedReq = req
			capturedBody, _ = io.ReadAll(req.Body)
			return jsonResponse(200, `{
				"status": "success",
				"message": "Hosted Link",
				"data": {"checkout_url": "https://checkout.chapa.co/pay/abc123"}
			}`), nil
		},
	}
	gw := newTestGateway(client)

	result, err := gw.InitializePayment(context.Background(), ports.InitializePaymentRequest{
		Reference:   "TX-A1B2C3D4E5F6",
		Amount:      decimal.RequireFromString("250.00"),
		Currency:    "ETB",
		Email:       "buyer@example.com",
		FirstName:   "Abebe",
		LastName:    "Bikila",
		Phone:       "+251 911 234 567",
		CallbackURL: "https://shop.example.com/webhooks/chapa",
		ReturnURL:   "https://shop.example.com/orders/done",
	})
	assert.NoError(t, err)
	assert.Equal(t, "https://checkout.chapa.co/pay/abc123", result.CheckoutURL)
	assert.Equal(t, "TX-A1B2C3D4E5F6", result.ProviderTxID)

	assert.Equal(t, http.MethodPost, capturedReq.Method)
	assert.Equal(t, "https://api.chapa.test/v1/transaction/initialize", capturedReq.URL.String())
	assert.Equal(t, "Bearer test-secret-key", capturedReq.Header.Get("Authorization"))
	assert.Equal(t, "application/json", capturedReq.Header.Get("Content-Type"))

	var payload map[string]any
	assert.NoError(t, json.Unmarshal(capturedBody, &payload))
	assert.Equal(t, "250.00", payload["amount"])
	assert.Equal(t, "ETB", payload["currency"])
	assert.Equal(t, "TX-A1B2C3D4E5F6", payload["tx_ref"])
	assert.Equal(t, "0911234567", payload["phone_number"])
}

func TestGateway_InitializePayment_UnsupportedCurrency(t *testing.T) {
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("should not reach the network")
			return nil, nil
		},
	}
	gw := newTestGateway(client)

	result, err := gw.InitializePayment(context.Background(), ports.InitializePaymentRequest{
		Reference: "TX-A1B2C3D4E5F6",
		Amount:    decimal.RequireFromString("10.00"),
		Currency:  "NGN",
	})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ports.ErrUnsupportedCurrency)
}

func TestGateway_InitializePayment_ProviderRejected(t *testing.T) {
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(400, `{
				"status": "failed",
				"message": "Invalid API Key"
			}`), nil
		},
	}
	gw := newTestGateway(client)

	result, err := gw.InitializePayment(context.Background(), ports.InitializePaymentRequest{
		Reference: "TX-A1B2C3D4E5F6",
		Amount:    decimal.RequireFromString("250.00"),
		Currency:  "ETB",
		Email:     "buyer@example.com",
	})
	assert.Nil(t, result)
	assert.ErrorContains(t, err, "Invalid API Key")
}

func TestGateway_VerifyPayment_Success(t *testing.T) {
	var capturedReq *http.Request
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			capturedReq = req
			return jsonResponse(200, `{
				"status": "success",
				"message": "Payment details",
				"data": {"status": "success", "amount": 250.00, "currency": "ETB", "charge": 6.25, "tx_ref": "TX-A1B2C3D4E5F6"}
			}`), nil
		},
	}
	gw := newTestGateway(client)

	result, err := gw.VerifyPayment(context.Background(), "TX-A1B2C3D4E5F6")
	assert.NoError(t, err)
	assert.Equal(t, ports.SettlementStatusSuccess, result.Status)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("250.00")))
	assert.Equal(t, "ETB", result.Currency)
	assert.NotNil(t, result.Fee)
	assert.True(t, result.Fee.Equal(decimal.RequireFromString("6.25")))
	assert.Equal(t, "TX-A1B2C3D4E5F6", result.Reference)

	assert.Equal(t, http.MethodGet, capturedReq.Method)
	assert.Equal(t, "https://api.chapa.test/v1/transaction/verify/TX-A1B2C3D4E5F6", capturedReq.URL.String())
}

func TestGateway_VerifyPayment_Pending(t *testing.T) {
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(200, `{
				"status": "success",
				"message": "Payment details",
				"data": {"status": "pending", "amount": 100, "currency": "ETB"}
			}`), nil
		},
	}
	gw := newTestGateway(client)

	result, err := gw.VerifyPayment(context.Background(), "TX-A1B2C3D4E5F6")
	assert.NoError(t, err)
	assert.Equal(t, ports.SettlementStatusPending, result.Status)
	assert.Nil(t, result.Fee)
	assert.Equal(t, "TX-A1B2C3D4E5F6", result.Reference)
}

func TestGateway_RefundPayment_Success(t *testing.T) {
	var capturedReq *http.Request
	var capturedBody []byte
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			capturedReq = req
			capturedBody, _ = io.ReadAll(req.Body)
			return jsonResponse(200, `{
				"status": "success",
				"message": "Refund queued",
				"data": {"ref_id": "RF-889900"}
			}`), nil
		},
	}
	gw := newTestGateway(client)

	amount := decimal.RequireFromString("75.50")
	result, err := gw.RefundPayment(context.Background(), ports.RefundPaymentRequest{
		Reference: "TX-A1B2C3D4E5F6",
		Amount:    &amount,
		Reason:    "customer request",
	})
	assert.NoError(t, err)
	assert.Equal(t, "RF-889900", result.ProviderRefundID)

	assert.Equal(t, http.MethodPost, capturedReq.Method)
	assert.Equal(t, "https://api.chapa.test/v1/refund/TX-A1B2C3D4E5F6", capturedReq.URL.String())

	var payload map[string]any
	assert.NoError(t, json.Unmarshal(capturedBody, &payload))
	assert.Equal(t, "75.50", payload["amount"])
	assert.Equal(t, "customer request", payload["reason"])
}

func TestGateway_RefundPayment_Rejected(t *testing.T) {
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(400, `{
				"status": "failed",
				"message": "Transaction not refundable"
			}`), nil
		},
	}
	gw := newTestGateway(client)

	result, err := gw.RefundPayment(context.Background(), ports.RefundPaymentRequest{
		Reference: "TX-A1B2C3D4E5F6",
	})
	assert.Nil(t, result)
	assert.ErrorContains(t, err, "not refundable")
}

func TestGateway_CircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			calls++
			return jsonResponse(503, `upstream unavailable`), nil
		},
	}
	gw := newTestGateway(client)

	for i := 0; i < 5; i++ {
		_, err := gw.VerifyPayment(context.Background(), "TX-A1B2C3D4E5F6")
		assert.Error(t, err)
	}
	assert.Equal(t, 5, calls)

	// Breaker is open now; the next call must fail fast without a request.
	_, err := gw.VerifyPayment(context.Background(), "TX-A1B2C3D4E5F6")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, calls)
}

func TestGateway_ServerErrorSurfaced(t *testing.T) {
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(502, `bad gateway`), nil
		},
	}
	gw := newTestGateway(client)

	_, err := gw.VerifyPayment(context.Background(), "TX-A1B2C3D4E5F6")
	assert.ErrorContains(t, err, "502")
}

func TestGateway_DefaultHTTPClient(t *testing.T) {
	gw := NewGateway(Config{SecretKey: "k"}, nil, newTestLogger())

	httpClient, ok := gw.client.(*http.Client)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, httpClient.Timeout)
	assert.Equal(t, defaultBaseURL, gw.cfg.BaseURL)
}

// Package chapa implements the settlement gateway for the Chapa payment
// provider (https://chapa.co), covering card, mobile money and bank transfer
// payments in Ethiopian Birr plus a small set of international currencies.
package chapa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"checkout-core/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

const (
	// GatewayKey identifies this provider in the registry and on transactions.
	GatewayKey = "chapa"

	defaultBaseURL = "https://api.chapa.co/v1"
	defaultTimeout = 30 * time.Second
)

var supportedCurrencies = []string{"ETB", "USD", "EUR"}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the provider credentials and tuning knobs.
type Config struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	// AllowUnsigned skips webhook signature enforcement when no webhook
	// secret is configured. Local testing only; the default is reject.
	AllowUnsigned bool
	Timeout       time.Duration
}

// Gateway implements ports.SettlementGateway against Chapa's HTTP API. All
// outbound calls run through a circuit breaker so a provider outage fails
// fast instead of holding request threads for the full timeout.
type Gateway struct {
	cfg     Config
	client  HTTPClient
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     zerolog.Logger
}

// NewGateway creates a Chapa gateway. A nil client gets a default http.Client
// with the configured timeout.
func NewGateway(cfg Config, client HTTPClient, log zerolog.Logger) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        GatewayKey,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Gateway{
		cfg:     cfg,
		client:  client,
		breaker: breaker,
		log:     log.With().Str("gateway", GatewayKey).Logger(),
	}
}

// Key returns the registry key for this provider.
func (g *Gateway) Key() string { return GatewayKey }

// DisplayName returns the human-readable provider name.
func (g *Gateway) DisplayName() string { return "Chapa" }

// SupportedCurrencies returns the currencies this provider settles.
func (g *Gateway) SupportedCurrencies() []string {
	out := make([]string, len(supportedCurrencies))
	copy(out, supportedCurrencies)
	return out
}

// SupportsCurrency reports whether the provider settles the given currency.
func (g *Gateway) SupportsCurrency(currency string) bool {
	for _, c := range supportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

// apiEnvelope is Chapa's uniform response wrapper.
type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializePayload struct {
	Amount        string         `json:"amount"`
	Currency      string         `json:"currency"`
	Email         string         `json:"email"`
	FirstName     string         `json:"first_name"`
	LastName      string         `json:"last_name"`
	PhoneNumber   string         `json:"phone_number"`
	TxRef         string         `json:"tx_ref"`
	CallbackURL   string         `json:"callback_url"`
	ReturnURL     string         `json:"return_url"`
	Customization customization  `json:"customization"`
	Meta          map[string]any `json:"meta,omitempty"`
}

type customization struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type initializeData struct {
	CheckoutURL string `json:"checkout_url"`
	TxRef       string `json:"tx_ref"`
}

type verifyData struct {
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Charge   decimal.Decimal `json:"charge"`
	TxRef    string          `json:"tx_ref"`
}

type refundPayload struct {
	Amount string `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type refundData struct {
	RefID     string `json:"ref_id"`
	Reference string `json:"reference"`
}

// InitializePayment opens a hosted checkout session for the transaction.
// Unsupported currency is rejected before any network call.
func (g *Gateway) InitializePayment(ctx context.Context, req ports.InitializePaymentRequest) (*ports.InitializeResult, error) {
	if !g.SupportsCurrency(req.Currency) {
		return nil, ports.ErrUnsupportedCurrency
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Payment for order %s", req.Reference)
	}

	payload := initializePayload{
		Amount:      formatAmount(req.Amount),
		Currency:    req.Currency,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: formatPhone(req.Phone),
		TxRef:       req.Reference,
		CallbackURL: req.CallbackURL,
		ReturnURL:   req.ReturnURL,
		Customization: customization{
			Title:       "Checkout Payment",
			Description: description,
		},
		Meta: req.Metadata,
	}

	body, envelope, err := g.doRequest(ctx, http.MethodPost, "/transaction/initialize", payload)
	if err != nil {
		return nil, err
	}
	if envelope.Status != "success" {
		return nil, fmt.Errorf("chapa initialize rejected: %s", envelope.Message)
	}

	var data initializeData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("parse initialize response: %w", err)
	}

	providerTxID := data.TxRef
	if providerTxID == "" {
		providerTxID = req.Reference
	}

	g.log.Info().
		Str("tx_ref", req.Reference).
		Str("currency", req.Currency).
		Msg("payment initialized")

	return &ports.InitializeResult{
		CheckoutURL:  data.CheckoutURL,
		ProviderTxID: providerTxID,
		Raw:          rawMap(body),
	}, nil
}

// VerifyPayment fetches the provider-side status of a transaction by its
// reference.
func (g *Gateway) VerifyPayment(ctx context.Context, reference string) (*ports.VerifyResult, error) {
	body, envelope, err := g.doRequest(ctx, http.MethodGet, "/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, err
	}
	if envelope.Status != "success" {
		return nil, fmt.Errorf("chapa verify rejected: %s", envelope.Message)
	}

	var data verifyData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("parse verify response: %w", err)
	}

	ref := data.TxRef
	if ref == "" {
		ref = reference
	}

	result := &ports.VerifyResult{
		Status:    mapStatus(data.Status),
		Amount:    data.Amount,
		Currency:  data.Currency,
		Reference: ref,
		Raw:       rawMap(body),
	}
	if !data.Charge.IsZero() {
		charge := data.Charge
		result.Fee = &charge
	}
	return result, nil
}

// RefundPayment asks Chapa to return funds for a settled payment. Amount nil
// requests a full refund.
func (g *Gateway) RefundPayment(ctx context.Context, req ports.RefundPaymentRequest) (*ports.RefundResult, error) {
	payload := refundPayload{Reason: req.Reason}
	if req.Amount != nil {
		payload.Amount = formatAmount(*req.Amount)
	}

	body, envelope, err := g.doRequest(ctx, http.MethodPost, "/refund/"+req.Reference, payload)
	if err != nil {
		return nil, err
	}
	if envelope.Status != "success" {
		return nil, fmt.Errorf("chapa refund rejected: %s", envelope.Message)
	}

	var data refundData
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, fmt.Errorf("parse refund response: %w", err)
		}
	}

	refundID := data.RefID
	if refundID == "" {
		refundID = data.Reference
	}

	g.log.Info().
		Str("tx_ref", req.Reference).
		Msg("refund accepted")

	return &ports.RefundResult{
		ProviderRefundID: refundID,
		Raw:              rawMap(body),
	}, nil
}

// doRequest sends one API call through the circuit breaker and parses the
// response envelope. Transport errors and 5xx responses count as breaker
// failures; provider-side rejections (4xx with a parseable envelope) do not.
func (g *Gateway) doRequest(ctx context.Context, method, path string, payload any) ([]byte, *apiEnvelope, error) {
	body, err := g.breaker.Execute(func() ([]byte, error) {
		return g.send(ctx, method, path, payload)
	})
	if err != nil {
		return nil, nil, err
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, nil, fmt.Errorf("parse chapa response: %w", err)
	}
	return body, &envelope, nil
}

func (g *Gateway) send(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chapa request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chapa response: %w", err)
	}

	g.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("chapa api call")

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("chapa returned %d", resp.StatusCode)
	}
	return raw, nil
}

// mapStatus normalizes Chapa's status strings.
func mapStatus(status string) ports.SettlementStatus {
	switch status {
	case "success":
		return ports.SettlementStatusSuccess
	case "failed", "failure":
		return ports.SettlementStatusFailed
	case "cancelled", "canceled":
		return ports.SettlementStatusCancelled
	case "pending", "created":
		return ports.SettlementStatusPending
	default:
		return ports.SettlementStatusUnknown
	}
}

// formatAmount renders a decimal amount the way the API expects: plain
// string with two decimal places.
func formatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// rawMap parses a response body into a generic map for audit storage.
func rawMap(body []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil
	}
	return m
}

package ports

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Errors returned by gateway implementations for client-caused rejections.
// Anything else coming back from a gateway is an infrastructure failure.
var (
	ErrUnsupportedCurrency     = errors.New("currency not supported by provider")
	ErrMissingWebhookSignature = errors.New("webhook signature missing")
	ErrInvalidWebhookSignature = errors.New("webhook signature invalid")
	ErrMalformedWebhookPayload = errors.New("webhook payload malformed")
)

// SettlementStatus is the normalized provider-side payment state.
type SettlementStatus string

const (
	SettlementStatusSuccess   SettlementStatus = "success"
	SettlementStatusFailed    SettlementStatus = "failed"
	SettlementStatusCancelled SettlementStatus = "cancelled"
	SettlementStatusPending   SettlementStatus = "pending"
	SettlementStatusUnknown   SettlementStatus = "unknown"
)

// SettlementGateway is the capability interface every payment provider
// implements. The ledger depends on this interface, never on a concrete
// provider; implementations hold no persistent state.
type SettlementGateway interface {
	Key() string
	DisplayName() string
	SupportedCurrencies() []string
	SupportsCurrency(currency string) bool
	InitializePayment(ctx context.Context, req InitializePaymentRequest) (*InitializeResult, error)
	VerifyPayment(ctx context.Context, reference string) (*VerifyResult, error)
	ProcessWebhook(payload []byte, signature string) (*WebhookResult, error)
	RefundPayment(ctx context.Context, req RefundPaymentRequest) (*RefundResult, error)
	EstimateFee(amount decimal.Decimal, currency string) (decimal.Decimal, error)
}

// GatewayRegistry maps provider keys to implementations. It is built once
// at startup; lookups never construct providers at call time.
type GatewayRegistry interface {
	Get(key string) (SettlementGateway, bool)
	List() []SettlementGateway
}

// InitializePaymentRequest carries everything a provider needs to open a
// checkout session for a transaction.
type InitializePaymentRequest struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Email       string
	FirstName   string
	LastName    string
	Phone       string
	Description string
	CallbackURL string
	ReturnURL   string
	Metadata    map[string]any
}

// InitializeResult is the normalized outcome of a successful initialize call.
type InitializeResult struct {
	CheckoutURL  string
	ProviderTxID string
	Raw          map[string]any
}

// VerifyResult is the normalized provider-side view of a payment.
type VerifyResult struct {
	Status    SettlementStatus
	Amount    decimal.Decimal
	Currency  string
	Fee       *decimal.Decimal
	Reference string
	Raw       map[string]any
}

// WebhookResult is the normalized, signature-checked content of an inbound
// webhook.
type WebhookResult struct {
	EventType string
	Reference string
	Status    SettlementStatus
	Raw       map[string]any
}

// RefundPaymentRequest asks the provider to return funds for a settled
// payment.
type RefundPaymentRequest struct {
	Reference string           // Original payment reference
	Amount    *decimal.Decimal // nil = full refund
	Reason    string
}

// RefundResult is the normalized outcome of an accepted refund call.
type RefundResult struct {
	ProviderRefundID string
	Raw              map[string]any
}

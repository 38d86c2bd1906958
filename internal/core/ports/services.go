package ports

import (
	"context"
	"time"

	"checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TokenService handles JWT validation for the ActorContext boundary.
// Token issuance belongs to the identity service; Generate exists for
// tests and local tooling.
type TokenService interface {
	Generate(userID uuid.UUID, email string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
	Email  string
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// WebhookReplayStore deduplicates inbound webhook deliveries.
type WebhookReplayStore interface {
	// CheckAndSet atomically records (provider, reference, status); returns
	// true if this delivery is new, false if it was already seen.
	CheckAndSet(ctx context.Context, provider, reference, status string, ttl time.Duration) (bool, error)
}

// EventPublisher publishes settlement events to downstream consumers.
type EventPublisher interface {
	PublishTransactionEvent(ctx context.Context, event domain.TransactionEvent) error
	Close() error
}

// --- Service Ports (Business Logic) ---

// CartService manages cart aggregates: item mutations always leave totals
// consistent, and at most one active cart exists per owner.
type CartService interface {
	GetOrCreateActive(ctx context.Context, actor domain.ActorContext) (*domain.Cart, bool, error)
	Get(ctx context.Context, actor domain.ActorContext, cartID uuid.UUID) (*domain.Cart, error)
	AddItem(ctx context.Context, actor domain.ActorContext, cartID uuid.UUID, req AddItemRequest) (*domain.Cart, error)
	UpdateItem(ctx context.Context, actor domain.ActorContext, cartID, itemID uuid.UUID, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, actor domain.ActorContext, cartID, itemID uuid.UUID) (*domain.Cart, error)
	Clear(ctx context.Context, actor domain.ActorContext, cartID uuid.UUID) (*domain.Cart, error)
	Merge(ctx context.Context, actor domain.ActorContext, sessionToken string) (*domain.Cart, error)
}

// AddItemRequest holds validated input for adding a cart item.
type AddItemRequest struct {
	ProductID        uuid.UUID
	VariantID        *uuid.UUID
	Quantity         int
	CustomAttributes map[string]any
	Notes            string
}

// TransactionService drives payments through their lifecycle and maintains
// refund linkage.
type TransactionService interface {
	Create(ctx context.Context, actor domain.ActorContext, req CreateTransactionRequest) (*domain.Transaction, error)
	Process(ctx context.Context, actor domain.ActorContext, id uuid.UUID, req ProcessRequest) (*CheckoutResult, error)
	Verify(ctx context.Context, actor domain.ActorContext, id uuid.UUID) (*domain.Transaction, error)
	Refund(ctx context.Context, actor domain.ActorContext, id uuid.UUID, req RefundRequest) (*domain.Transaction, error)
	HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*WebhookHandleResult, error)
	Get(ctx context.Context, actor domain.ActorContext, id uuid.UUID) (*domain.Transaction, error)
	List(ctx context.Context, actor domain.ActorContext, params TransactionListParams) ([]domain.Transaction, int64, error)
	Stats(ctx context.Context, actor domain.ActorContext) (*TransactionStats, error)
}

// CreateTransactionRequest holds validated input for opening a ledger entry.
// Either Amount or CartID must be set; with CartID the amount and currency
// derive from the cart.
type CreateTransactionRequest struct {
	Provider       string
	Amount         *decimal.Decimal
	CartID         *uuid.UUID
	Currency       string
	Description    string
	Reference      string // Optional client-supplied reference
	Metadata       map[string]any
	IdempotencyKey string
}

// ProcessRequest holds checkout input forwarded to the settlement provider.
type ProcessRequest struct {
	Customer  CustomerInfo
	ReturnURL string
}

// CustomerInfo is the payer identity forwarded to the provider.
type CustomerInfo struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// CheckoutResult pairs the processing transaction with its checkout handle.
type CheckoutResult struct {
	Transaction *domain.Transaction
	CheckoutURL string
}

// RefundRequest holds validated input for refund processing.
type RefundRequest struct {
	Amount         *decimal.Decimal // nil = full refund
	Reason         string
	IdempotencyKey string
}

// WebhookHandleResult reports what an inbound webhook did.
type WebhookHandleResult struct {
	Outcome     domain.WebhookOutcome
	Transaction *domain.Transaction // nil when no transaction was touched
}

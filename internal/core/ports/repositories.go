package ports

import (
	"context"
	"errors"
	"time"

	"checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Sentinel errors surfaced by repositories when storage-level uniqueness
// fires. Services resolve these (re-fetch, merge, reject) instead of
// inspecting driver-specific error codes.
var (
	ErrDuplicateActiveCart     = errors.New("active cart already exists for this owner")
	ErrDuplicateItem           = errors.New("cart already holds an item for this product and variant")
	ErrDuplicateReference      = errors.New("transaction reference already exists")
	ErrDuplicateRefund         = errors.New("refund child already exists for this transaction")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already recorded")
)

// CartRepository defines persistence operations for carts and their items.
// Methods accepting pgx.Tx run inside transaction blocks; locking the cart
// row serializes all item mutations for that cart.
type CartRepository interface {
	Create(ctx context.Context, cart *domain.Cart) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Cart, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Cart, error)
	GetActiveByActor(ctx context.Context, actor domain.ActorContext) (*domain.Cart, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.CartStatus) error
	UpdateTotals(ctx context.Context, tx pgx.Tx, cart *domain.Cart) error
	Delete(ctx context.Context, tx pgx.Tx, id uuid.UUID) error

	InsertItem(ctx context.Context, tx pgx.Tx, item *domain.CartItem) error
	UpdateItem(ctx context.Context, tx pgx.Tx, item *domain.CartItem) error
	DeleteItem(ctx context.Context, tx pgx.Tx, cartID, itemID uuid.UUID) error
	DeleteItems(ctx context.Context, tx pgx.Tx, cartID uuid.UUID) error
}

// TransactionRepository defines persistence operations for the ledger.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.Transaction, error)
	// Update persists mutable fields: status, fee, provider ids, checkout
	// URL, failure reason, metadata, completed_at.
	Update(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	HasRefundChild(ctx context.Context, tx pgx.Tx, parentID uuid.UUID) (bool, error)
	// Reporting queries
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	GetStats(ctx context.Context, userID uuid.UUID) (*TransactionStats, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	UserID   uuid.UUID
	Status   *domain.TransactionStatus
	Type     *domain.TransactionType
	Provider *string
	Page     int
	PageSize int
}

// TransactionStats holds per-user aggregates across the ledger.
type TransactionStats struct {
	TotalTransactions int64
	Succeeded         int64
	Failed            int64
	Refunded          int64
	TotalPaid         decimal.Decimal // Sum of succeeded payment amounts
	TotalRefunded     decimal.Decimal // Sum of succeeded refund amounts
}

// CatalogRepository is the read-only gate onto catalog data used for price
// capture and advisory stock checks.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	GetVariant(ctx context.Context, productID, variantID uuid.UUID) (*domain.ProductVariant, error)
}

// WebhookEventRepository persists the inbound webhook audit trail.
type WebhookEventRepository interface {
	Insert(ctx context.Context, event *domain.WebhookEvent) error
	UpdateOutcome(ctx context.Context, id uuid.UUID, outcome domain.WebhookOutcome, processedAt time.Time) error
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

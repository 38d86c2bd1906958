package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"checkout-core/internal/core/domain"
	"checkout-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// In-memory repository implementations backing the integration suite. They
// mirror the PostgreSQL schema's uniqueness rules (single active cart per
// owner, unique transaction reference, one non-failed refund child per
// parent, one idempotency key) by checking under the repository mutex, so
// the duplicate sentinels fire exactly where the real constraints would.
// Reads hand out copies: services mutate fetched aggregates before writing
// them back, and shared pointers would corrupt the store mid-flight.

// --- Catalog fixtures ---

// Products seeded into every test catalog. Stock on the mug is deliberately
// tight so insufficient-stock paths are easy to hit.
var (
	productTee     = newFixtureProduct("Basic Tee", "450.00", true, true, 10)
	productMug     = newFixtureProduct("Ceramic Mug", "150.00", true, true, 2)
	productWrap    = newFixtureProduct("Gift Wrap", "25.50", true, false, 0)
	productRetired = newFixtureProduct("Retired Poster", "99.99", false, true, 50)

	variantTeeLarge = domain.ProductVariant{
		ID:            uuid.New(),
		ProductID:     productTee.ID,
		Name:          "Large",
		Price:         decimalPtr("480.00"),
		IsActive:      true,
		StockQuantity: 5,
	}
)

func newFixtureProduct(name, price string, active, tracked bool, stock int) domain.Product {
	return domain.Product{
		ID:             uuid.New(),
		Name:           name,
		Price:          decimal.RequireFromString(price),
		IsActive:       active,
		TrackInventory: tracked,
		StockQuantity:  stock,
	}
}

func decimalPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// --- In-Memory Catalog Repo ---

type inMemoryCatalogRepo struct {
	mu       sync.RWMutex
	products map[uuid.UUID]domain.Product
	variants map[uuid.UUID]domain.ProductVariant
}

func newInMemoryCatalogRepo() *inMemoryCatalogRepo {
	r := &inMemoryCatalogRepo{
		products: make(map[uuid.UUID]domain.Product),
		variants: make(map[uuid.UUID]domain.ProductVariant),
	}
	for _, p := range []domain.Product{productTee, productMug, productWrap, productRetired} {
		r.products[p.ID] = p
	}
	r.variants[variantTeeLarge.ID] = variantTeeLarge
	return r
}

func (r *inMemoryCatalogRepo) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, nil
	}
	out := p
	return &out, nil
}

func (r *inMemoryCatalogRepo) GetVariant(ctx context.Context, productID, variantID uuid.UUID) (*domain.ProductVariant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[variantID]
	if !ok || v.ProductID != productID {
		return nil, nil
	}
	out := v
	return &out, nil
}

// setStock adjusts a product's stock mid-test.
func (r *inMemoryCatalogRepo) setStock(productID uuid.UUID, stock int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok {
		return
	}
	p.StockQuantity = stock
	r.products[productID] = p
}

// --- In-Memory Cart Repo ---

type inMemoryCartRepo struct {
	mu    sync.RWMutex
	carts map[uuid.UUID]domain.Cart
	items map[uuid.UUID]domain.CartItem
}

func newInMemoryCartRepo() *inMemoryCartRepo {
	return &inMemoryCartRepo{
		carts: make(map[uuid.UUID]domain.Cart),
		items: make(map[uuid.UUID]domain.CartItem),
	}
}

func (r *inMemoryCartRepo) Create(ctx context.Context, cart *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Partial unique index equivalent: one active cart per owner key.
	for _, existing := range r.carts {
		if existing.Status != domain.CartStatusActive {
			continue
		}
		if cart.UserID != nil && existing.UserID != nil && *existing.UserID == *cart.UserID {
			return ports.ErrDuplicateActiveCart
		}
		if cart.SessionToken != nil && existing.SessionToken != nil && *existing.SessionToken == *cart.SessionToken {
			return ports.ErrDuplicateActiveCart
		}
	}
	stored := *cart
	stored.Items = nil
	r.carts[cart.ID] = stored
	for _, item := range cart.Items {
		r.items[item.ID] = item
	}
	return nil
}

func (r *inMemoryCartRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadCart(id), nil
}

func (r *inMemoryCartRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Cart, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryCartRepo) GetActiveByActor(ctx context.Context, actor domain.ActorContext) (*domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.carts {
		if c.Status != domain.CartStatusActive {
			continue
		}
		if actor.UserID != nil {
			if c.UserID != nil && *c.UserID == *actor.UserID {
				return r.loadCart(id), nil
			}
			continue
		}
		if c.SessionToken != nil && *c.SessionToken == actor.SessionToken {
			return r.loadCart(id), nil
		}
	}
	return nil, nil
}

func (r *inMemoryCartRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.CartStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[id]
	if !ok {
		return fmt.Errorf("cart not found")
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	r.carts[id] = c
	return nil
}

func (r *inMemoryCartRepo) UpdateTotals(ctx context.Context, tx pgx.Tx, cart *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[cart.ID]
	if !ok {
		return fmt.Errorf("cart not found")
	}
	c.Subtotal = cart.Subtotal
	c.TaxAmount = cart.TaxAmount
	c.ShippingAmount = cart.ShippingAmount
	c.DiscountAmount = cart.DiscountAmount
	c.Total = cart.Total
	c.UpdatedAt = cart.UpdatedAt
	r.carts[cart.ID] = c
	return nil
}

func (r *inMemoryCartRepo) Delete(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, id)
	for itemID, item := range r.items {
		if item.CartID == id {
			delete(r.items, itemID)
		}
	}
	return nil
}

func (r *inMemoryCartRepo) InsertItem(ctx context.Context, tx pgx.Tx, item *domain.CartItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.CartID == item.CartID && existing.MatchesProduct(item.ProductID, item.VariantID) {
			return ports.ErrDuplicateItem
		}
	}
	r.items[item.ID] = *item
	return nil
}

func (r *inMemoryCartRepo) UpdateItem(ctx context.Context, tx pgx.Tx, item *domain.CartItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; !ok {
		return fmt.Errorf("cart item not found")
	}
	r.items[item.ID] = *item
	return nil
}

func (r *inMemoryCartRepo) DeleteItem(ctx context.Context, tx pgx.Tx, cartID, itemID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok || item.CartID != cartID {
		return fmt.Errorf("cart item not found")
	}
	delete(r.items, itemID)
	return nil
}

func (r *inMemoryCartRepo) DeleteItems(ctx context.Context, tx pgx.Tx, cartID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for itemID, item := range r.items {
		if item.CartID == cartID {
			delete(r.items, itemID)
		}
	}
	return nil
}

// loadCart assembles a cart with its items, oldest item first. Caller holds
// at least the read lock.
func (r *inMemoryCartRepo) loadCart(id uuid.UUID) *domain.Cart {
	c, ok := r.carts[id]
	if !ok {
		return nil
	}
	out := c
	out.Items = []domain.CartItem{}
	for _, item := range r.items {
		if item.CartID == id {
			out.Items = append(out.Items, item)
		}
	}
	sort.Slice(out.Items, func(i, j int) bool {
		if !out.Items[i].CreatedAt.Equal(out.Items[j].CreatedAt) {
			return out.Items[i].CreatedAt.Before(out.Items[j].CreatedAt)
		}
		return out.Items[i].ID.String() < out.Items[j].ID.String()
	})
	return &out
}

// --- In-Memory Transaction Repo ---

type inMemoryTransactionRepo struct {
	mu           sync.RWMutex
	transactions map[uuid.UUID]domain.Transaction
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{transactions: make(map[uuid.UUID]domain.Transaction)}
}

func (r *inMemoryTransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.transactions {
		if existing.Reference == t.Reference {
			return ports.ErrDuplicateReference
		}
	}
	// Partial unique index equivalent: one non-failed refund child per parent.
	if t.ParentID != nil && t.Status != domain.TransactionStatusFailed {
		for _, existing := range r.transactions {
			if existing.ParentID != nil && *existing.ParentID == *t.ParentID &&
				existing.Status != domain.TransactionStatusFailed {
				return ports.ErrDuplicateRefund
			}
		}
	}
	r.transactions[t.ID] = *t
	return nil
}

func (r *inMemoryTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transactions[id]
	if !ok {
		return nil, nil
	}
	out := t
	return &out, nil
}

func (r *inMemoryTransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryTransactionRepo) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transactions {
		if t.Reference == reference {
			out := t
			return &out, nil
		}
	}
	return nil, nil
}

func (r *inMemoryTransactionRepo) GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.Transaction, error) {
	return r.GetByReference(ctx, reference)
}

func (r *inMemoryTransactionRepo) Update(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transactions[t.ID]; !ok {
		return fmt.Errorf("transaction not found")
	}
	r.transactions[t.ID] = *t
	return nil
}

func (r *inMemoryTransactionRepo) HasRefundChild(ctx context.Context, tx pgx.Tx, parentID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transactions {
		if t.ParentID != nil && *t.ParentID == parentID && t.Status != domain.TransactionStatusFailed {
			return true, nil
		}
	}
	return false, nil
}

func (r *inMemoryTransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Transaction
	for _, t := range r.transactions {
		if t.UserID != params.UserID {
			continue
		}
		if params.Status != nil && t.Status != *params.Status {
			continue
		}
		if params.Type != nil && t.Type != *params.Type {
			continue
		}
		if params.Provider != nil && t.Provider != *params.Provider {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	total := int64(len(result))

	start := (params.Page - 1) * params.PageSize
	if start >= len(result) {
		return []domain.Transaction{}, total, nil
	}
	end := start + params.PageSize
	if end > len(result) {
		end = len(result)
	}
	return result[start:end], total, nil
}

func (r *inMemoryTransactionRepo) GetStats(ctx context.Context, userID uuid.UUID) (*ports.TransactionStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &ports.TransactionStats{
		TotalPaid:     decimal.Zero,
		TotalRefunded: decimal.Zero,
	}
	for _, t := range r.transactions {
		if t.UserID != userID {
			continue
		}
		stats.TotalTransactions++
		switch t.Status {
		case domain.TransactionStatusSucceeded:
			stats.Succeeded++
		case domain.TransactionStatusFailed:
			stats.Failed++
		case domain.TransactionStatusRefunded, domain.TransactionStatusPartiallyRefunded:
			stats.Refunded++
		}
		if t.Type == domain.TransactionTypePayment {
			switch t.Status {
			case domain.TransactionStatusSucceeded, domain.TransactionStatusRefunded, domain.TransactionStatusPartiallyRefunded:
				stats.TotalPaid = stats.TotalPaid.Add(t.Amount)
			}
		}
		if (t.Type == domain.TransactionTypeRefund || t.Type == domain.TransactionTypePartialRefund) &&
			t.Status == domain.TransactionStatusSucceeded {
			stats.TotalRefunded = stats.TotalRefunded.Add(t.Amount)
		}
	}
	return stats, nil
}

// countByParent returns how many non-failed refund children a parent has.
func (r *inMemoryTransactionRepo) countByParent(parentID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.transactions {
		if t.ParentID != nil && *t.ParentID == parentID && t.Status != domain.TransactionStatusFailed {
			n++
		}
	}
	return n
}

// --- In-Memory Webhook Event Repo ---

type inMemoryWebhookEventRepo struct {
	mu     sync.RWMutex
	events map[uuid.UUID]domain.WebhookEvent
}

func newInMemoryWebhookEventRepo() *inMemoryWebhookEventRepo {
	return &inMemoryWebhookEventRepo{events: make(map[uuid.UUID]domain.WebhookEvent)}
}

func (r *inMemoryWebhookEventRepo) Insert(ctx context.Context, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ID] = *event
	return nil
}

func (r *inMemoryWebhookEventRepo) UpdateOutcome(ctx context.Context, id uuid.UUID, outcome domain.WebhookOutcome, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return fmt.Errorf("webhook event not found")
	}
	e.Outcome = outcome
	e.ProcessedAt = &processedAt
	r.events[id] = e
	return nil
}

// byReference returns the audit records for one provider reference.
func (r *inMemoryWebhookEventRepo) byReference(reference string) []domain.WebhookEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WebhookEvent
	for _, e := range r.events {
		if e.Reference == reference {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

// --- In-Memory Idempotency Repo ---

type inMemoryIdempotencyRepo struct {
	mu   sync.RWMutex
	logs map[string]domain.IdempotencyLog
}

func newInMemoryIdempotencyRepo() *inMemoryIdempotencyRepo {
	return &inMemoryIdempotencyRepo{logs: make(map[string]domain.IdempotencyLog)}
}

func (r *inMemoryIdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.logs[log.Key]; ok {
		return ports.ErrDuplicateIdempotencyKey
	}
	r.logs[log.Key] = *log
	return nil
}

func (r *inMemoryIdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.logs[key]
	if !ok {
		return nil, nil
	}
	out := l
	return &out, nil
}

// --- In-Memory Transactor (no-op tx) ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing. The
// repositories above serialize each call with their own mutex instead of
// row-level locks, so begin/commit/rollback have nothing to do.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"checkout-core/internal/core/domain"
	"checkout-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// querier abstracts the read methods shared by Pool and pgx.Tx so lookups
// can run pooled or inside a transaction block.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CartRepo implements ports.CartRepository.
type CartRepo struct {
	pool Pool
}

// NewCartRepo creates a new CartRepo.
func NewCartRepo(pool Pool) *CartRepo {
	return &CartRepo{pool: pool}
}

const cartColumns = `id, user_id, session_token, status, currency, subtotal, tax_amount,
		shipping_amount, discount_amount, total, expires_at, created_at, updated_at`

const cartItemColumns = `id, cart_id, product_id, variant_id, quantity, unit_price, line_total,
		custom_attributes, notes, created_at, updated_at`

// Create inserts a new cart. The partial unique indexes on active carts fire
// when the owner already has one; that surfaces as ErrDuplicateActiveCart so
// the caller can re-read instead of failing the request.
func (r *CartRepo) Create(ctx context.Context, cart *domain.Cart) error {
	query := `INSERT INTO carts (id, user_id, session_token, status, currency, subtotal, tax_amount,
		shipping_amount, discount_amount, total, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		cart.ID, cart.UserID, cart.SessionToken, cart.Status, cart.Currency,
		cart.Subtotal, cart.TaxAmount, cart.ShippingAmount, cart.DiscountAmount, cart.Total,
		cart.ExpiresAt, cart.CreatedAt, cart.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ports.ErrDuplicateActiveCart
		}
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

// GetByID fetches a cart and its items by UUID.
func (r *CartRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	query := fmt.Sprintf(`SELECT %s FROM carts WHERE id = $1`, cartColumns)

	cart, err := scanCart(r.pool.QueryRow(ctx, query, id))
	if err != nil || cart == nil {
		return cart, err
	}
	if err := r.loadItems(ctx, r.pool, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// GetByIDForUpdate fetches a cart with a row-level lock inside tx. The lock
// serializes all item mutations against the same cart.
func (r *CartRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Cart, error) {
	query := fmt.Sprintf(`SELECT %s FROM carts WHERE id = $1 FOR UPDATE`, cartColumns)

	cart, err := scanCart(tx.QueryRow(ctx, query, id))
	if err != nil || cart == nil {
		return cart, err
	}
	if err := r.loadItems(ctx, tx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// GetActiveByActor fetches the single active cart owned by the actor, keyed
// by user ID for authenticated actors and by session token for guests.
func (r *CartRepo) GetActiveByActor(ctx context.Context, actor domain.ActorContext) (*domain.Cart, error) {
	var row pgx.Row
	if actor.UserID != nil {
		query := fmt.Sprintf(`SELECT %s FROM carts WHERE user_id = $1 AND status = 'active'`, cartColumns)
		row = r.pool.QueryRow(ctx, query, *actor.UserID)
	} else {
		query := fmt.Sprintf(`SELECT %s FROM carts WHERE session_token = $1 AND status = 'active'`, cartColumns)
		row = r.pool.QueryRow(ctx, query, actor.SessionToken)
	}

	cart, err := scanCart(row)
	if err != nil || cart == nil {
		return cart, err
	}
	if err := r.loadItems(ctx, r.pool, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// UpdateStatus updates a cart's status within a database transaction.
func (r *CartRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.CartStatus) error {
	query := `UPDATE carts SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := tx.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update cart status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cart not found: %s", id)
	}
	return nil
}

// UpdateTotals persists the cart's derived monetary fields.
func (r *CartRepo) UpdateTotals(ctx context.Context, tx pgx.Tx, cart *domain.Cart) error {
	query := `UPDATE carts SET subtotal = $1, tax_amount = $2, shipping_amount = $3,
		discount_amount = $4, total = $5, updated_at = NOW() WHERE id = $6`

	tag, err := tx.Exec(ctx, query,
		cart.Subtotal, cart.TaxAmount, cart.ShippingAmount, cart.DiscountAmount, cart.Total, cart.ID,
	)
	if err != nil {
		return fmt.Errorf("update cart totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cart not found: %s", cart.ID)
	}
	return nil
}

// Delete removes a cart; its items go with it via ON DELETE CASCADE.
func (r *CartRepo) Delete(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `DELETE FROM carts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cart not found: %s", id)
	}
	return nil
}

// InsertItem inserts a cart item within a database transaction. The unique
// index on (cart, product, variant) surfaces as ErrDuplicateItem.
func (r *CartRepo) InsertItem(ctx context.Context, tx pgx.Tx, item *domain.CartItem) error {
	attrs, err := marshalAttributes(item.CustomAttributes)
	if err != nil {
		return fmt.Errorf("marshal item attributes: %w", err)
	}

	query := `INSERT INTO cart_items (id, cart_id, product_id, variant_id, quantity, unit_price,
		line_total, custom_attributes, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = tx.Exec(ctx, query,
		item.ID, item.CartID, item.ProductID, item.VariantID, item.Quantity,
		item.UnitPrice, item.LineTotal, attrs, item.Notes, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ports.ErrDuplicateItem
		}
		return fmt.Errorf("insert cart item: %w", err)
	}
	return nil
}

// UpdateItem updates a cart item's mutable fields. cart_id is included so a
// merge can move items between carts.
func (r *CartRepo) UpdateItem(ctx context.Context, tx pgx.Tx, item *domain.CartItem) error {
	attrs, err := marshalAttributes(item.CustomAttributes)
	if err != nil {
		return fmt.Errorf("marshal item attributes: %w", err)
	}

	query := `UPDATE cart_items SET cart_id = $1, quantity = $2, unit_price = $3, line_total = $4,
		custom_attributes = $5, notes = $6, updated_at = NOW() WHERE id = $7`

	tag, err := tx.Exec(ctx, query,
		item.CartID, item.Quantity, item.UnitPrice, item.LineTotal, attrs, item.Notes, item.ID,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ports.ErrDuplicateItem
		}
		return fmt.Errorf("update cart item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cart item not found: %s", item.ID)
	}
	return nil
}

// DeleteItem removes one item from a cart.
func (r *CartRepo) DeleteItem(ctx context.Context, tx pgx.Tx, cartID, itemID uuid.UUID) error {
	tag, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND id = $2`, cartID, itemID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cart item not found: %s", itemID)
	}
	return nil
}

// DeleteItems removes all items from a cart.
func (r *CartRepo) DeleteItems(ctx context.Context, tx pgx.Tx, cartID uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	return nil
}

// loadItems fills cart.Items, ordered by creation time for stable output.
func (r *CartRepo) loadItems(ctx context.Context, q querier, cart *domain.Cart) error {
	query := fmt.Sprintf(`SELECT %s FROM cart_items WHERE cart_id = $1 ORDER BY created_at`, cartItemColumns)

	rows, err := q.Query(ctx, query, cart.ID)
	if err != nil {
		return fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	items := []domain.CartItem{}
	for rows.Next() {
		var item domain.CartItem
		var attrs []byte
		err := rows.Scan(
			&item.ID, &item.CartID, &item.ProductID, &item.VariantID, &item.Quantity,
			&item.UnitPrice, &item.LineTotal, &attrs, &item.Notes, &item.CreatedAt, &item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("scan cart item row: %w", err)
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &item.CustomAttributes); err != nil {
				return fmt.Errorf("unmarshal item attributes: %w", err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate cart item rows: %w", err)
	}
	cart.Items = items
	return nil
}

// scanCart is a helper to scan a single row into a Cart.
func scanCart(row pgx.Row) (*domain.Cart, error) {
	c := &domain.Cart{}
	err := row.Scan(
		&c.ID, &c.UserID, &c.SessionToken, &c.Status, &c.Currency,
		&c.Subtotal, &c.TaxAmount, &c.ShippingAmount, &c.DiscountAmount, &c.Total,
		&c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan cart: %w", err)
	}
	return c, nil
}

// marshalAttributes serializes custom attributes for the jsonb column,
// keeping NULL for absent maps.
func marshalAttributes(attrs map[string]any) ([]byte, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	return json.Marshal(attrs)
}

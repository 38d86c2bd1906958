package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-core/internal/core/domain"
	"checkout-core/internal/core/ports"
	"checkout-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CartServiceImpl implements ports.CartService. Every item mutation runs in
// one DB transaction that locks the cart row, so totals recomputation is
// always the last write and concurrent mutations serialize.
type CartServiceImpl struct {
	cartRepo        ports.CartRepository
	catalogRepo     ports.CatalogRepository
	transactor      ports.DBTransactor
	defaultCurrency string
	cartTTL         time.Duration
	log             zerolog.Logger
}

// NewCartService creates a new CartServiceImpl. cartTTL zero disables expiry.
func NewCartService(
	cartRepo ports.CartRepository,
	catalogRepo ports.CatalogRepository,
	transactor ports.DBTransactor,
	defaultCurrency string,
	cartTTL time.Duration,
	log zerolog.Logger,
) *CartServiceImpl {
	return &CartServiceImpl{
		cartRepo:        cartRepo,
		catalogRepo:     catalogRepo,
		transactor:      transactor,
		defaultCurrency: defaultCurrency,
		cartTTL:         cartTTL,
		log:             log,
	}
}

// GetOrCreateActive returns the actor's active cart, creating one if none
// exists. The partial unique index on (owner, status='active') makes the
// create race safe: on a duplicate violation the winner's cart is re-fetched.
func (s *CartServiceImpl) GetOrCreateActive(ctx context.Context, actor domain.ActorContext) (*domain.Cart, bool, error) {
	if actor.IsZero() {
		return nil, false, apperror.ErrAuthRequired()
	}

	existing, err := s.cartRepo.GetActiveByActor(ctx, actor)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("find active cart: %w", err))
	}
	if existing != nil {
		if !existing.IsExpired(time.Now().UTC()) {
			return existing, false, nil
		}
		// Lazy expiry: retire the stale cart so a fresh one can take the
		// active slot.
		if err := s.expireCart(ctx, existing.ID); err != nil {
			return nil, false, err
		}
	}

	now := time.Now().UTC()
	cart := &domain.Cart{
		ID:             uuid.New(),
		UserID:         actor.UserID,
		Status:         domain.CartStatusActive,
		Currency:       s.defaultCurrency,
		Subtotal:       decimal.Zero,
		TaxAmount:      decimal.Zero,
		ShippingAmount: decimal.Zero,
		DiscountAmount: decimal.Zero,
		Total:          decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          []domain.CartItem{},
	}
	if !actor.IsAuthenticated() {
		token := actor.SessionToken
		cart.SessionToken = &token
	}
	if s.cartTTL > 0 {
		expiresAt := now.Add(s.cartTTL)
		cart.ExpiresAt = &expiresAt
	}

	if err := s.cartRepo.Create(ctx, cart); err != nil {
		if errors.Is(err, ports.ErrDuplicateActiveCart) {
			// Lost the create race; the other request's cart is the one.
			winner, ferr := s.cartRepo.GetActiveByActor(ctx, actor)
			if ferr != nil {
				return nil, false, apperror.InternalError(fmt.Errorf("refetch active cart: %w", ferr))
			}
			if winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, apperror.InternalError(fmt.Errorf("create cart: %w", err))
	}

	s.log.Info().
		Str("cart_id", cart.ID.String()).
		Bool("guest", !actor.IsAuthenticated()).
		Msg("cart created")

	return cart, true, nil
}

// Get fetches a cart with items. Ownership mismatch surfaces as not found.
func (s *CartServiceImpl) Get(ctx context.Context, actor domain.ActorContext, cartID uuid.UUID) (*domain.Cart, error) {
	cart, err := s.cartRepo.GetByID(ctx, cartID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get cart: %w", err))
	}
	if cart == nil || !actor.Owns(cart.UserID, cart.SessionToken) {
		return nil, apperror.ErrNotFound("cart")
	}
	return cart, nil
}

// AddItem validates the product against the catalog, merges quantity into an
// existing (product, variant) line or inserts a new one, and recomputes
// totals, all in one DB transaction.
func (s *CartServiceImpl) AddItem(ctx context.Context, actor domain.ActorContext, cartID uuid.UUID, req ports.AddItemRequest) (*domain.Cart, error) {
	if req.Quantity < 1 {
		return nil, apperror.Validation("Quantity must be at least 1")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	cart, err := s.lockOwnedCart(ctx, dbTx, actor, cartID)
	if err != nil {
		return nil, err
	}

	existing := cart.FindItem(req.ProductID, req.VariantID)
	totalQuantity := req.Quantity
	if existing != nil {
		totalQuantity += existing.Quantity
	}

	unitPrice, err := s.resolvePrice(ctx, req.ProductID, req.VariantID, totalQuantity)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if existing != nil {
		existing.Quantity = totalQuantity
		existing.LineTotal = existing.ComputeLineTotal()
		if req.CustomAttributes != nil {
			if existing.CustomAttributes == nil {
				existing.CustomAttributes = map[string]any{}
			}
			for k, v := range req.CustomAttributes {
				existing.CustomAttributes[k] = v
			}
		}
		if req.Notes != "" {
			existing.Notes = req.Notes
		}
		existing.UpdatedAt = now
		if err := s.cartRepo.UpdateItem(ctx, dbTx, existing); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("update item: %w", err))
		}
	} else {
		item := domain.CartItem{
			ID:               uuid.New(),
			CartID:           cart.ID,
			ProductID:        req.ProductID,
			VariantID:        req.VariantID,
			Quantity:         req.Quantity,
			UnitPrice:        unitPrice,
			CustomAttributes: req.CustomAttributes,
			Notes:            req.Notes,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		item.LineTotal = item.ComputeLineTotal()
		if err := s.cartRepo.InsertItem(ctx, dbTx, &item); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("insert item: %w", err))
		}
		cart.Items = append(cart.Items, item)
	}

	if err := s.persistTotals(ctx, dbTx, cart); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("cart_id", cart.ID.String()).
		Str("product_id", req.ProductID.String()).
		Int("quantity", req.Quantity).
		Msg("item added to cart")

	return cart, nil
}

// UpdateItem sets an item's quantity. Zero is rejected; removal is explicit.
func (s *CartServiceImpl) UpdateItem(ctx context.Context, actor domain.ActorContext, cartID, itemID uuid.UUID, quantity int) (*domain.Cart, error) {
	if quantity < 1 {
		return nil, apperror.Validation("Quantity must be at least 1; remove the item instead")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	cart, err := s.lockOwnedCart(ctx, dbTx, actor, cartID)
	if err != nil {
		return nil, err
	}

	item := cart.ItemByID(itemID)
	if item == nil {
		return nil, apperror.ErrNotFound("cart item")
	}

	// Stock is re-validated for the new quantity; the captured unit price is not.
	if _, err := s.resolvePrice(ctx, item.ProductID, item.VariantID, quantity); err != nil {
		return nil, err
	}

	item.Quantity = quantity
	item.LineTotal = item.ComputeLineTotal()
	item.UpdatedAt = time.Now().UTC()
	if err := s.cartRepo.UpdateItem(ctx, dbTx, item); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update item: %w", err))
	}

	if err := s.persistTotals(ctx, dbTx, cart); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	return cart, nil
}

// RemoveItem deletes one item and recomputes totals. The cart survives empty.
func (s *CartServiceImpl) RemoveItem(ctx context.Context, actor domain.ActorContext, cartID, itemID uuid.UUID) (*domain.Cart, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	cart, err := s.lockOwnedCart(ctx, dbTx, actor, cartID)
	if err != nil {
		return nil, err
	}

	if cart.ItemByID(itemID) == nil {
		return nil, apperror.ErrNotFound("cart item")
	}
	if err := s.cartRepo.DeleteItem(ctx, dbTx, cart.ID, itemID); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("delete item: %w", err))
	}

	items := cart.Items[:0]
	for _, it := range cart.Items {
		if it.ID != itemID {
			items = append(items, it)
		}
	}
	cart.Items = items

	if err := s.persistTotals(ctx, dbTx, cart); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	return cart, nil
}

// Clear removes every item and zeroes the totals.
func (s *CartServiceImpl) Clear(ctx context.Context, actor domain.ActorContext, cartID uuid.UUID) (*domain.Cart, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	cart, err := s.lockOwnedCart(ctx, dbTx, actor, cartID)
	if err != nil {
		return nil, err
	}

	if err := s.cartRepo.DeleteItems(ctx, dbTx, cart.ID); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("clear items: %w", err))
	}
	cart.Items = []domain.CartItem{}

	if err := s.persistTotals(ctx, dbTx, cart); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().Str("cart_id", cart.ID.String()).Msg("cart cleared")

	return cart, nil
}

// Merge folds the guest session's active cart into the authenticated user's
// active cart: quantities sum on a (product, variant) match, other items move
// over, and the guest cart is deleted. Stock is not re-checked; the advisory
// check already ran when each item was added.
func (s *CartServiceImpl) Merge(ctx context.Context, actor domain.ActorContext, sessionToken string) (*domain.Cart, error) {
	if !actor.IsAuthenticated() {
		return nil, apperror.ErrAuthRequired()
	}
	if sessionToken == "" {
		return nil, apperror.Validation("session_token is required")
	}

	guestCart, err := s.cartRepo.GetActiveByActor(ctx, domain.GuestActor(sessionToken))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find guest cart: %w", err))
	}
	if guestCart == nil {
		return nil, apperror.ErrNotFound("guest cart")
	}

	userCart, _, err := s.GetOrCreateActive(ctx, actor)
	if err != nil {
		return nil, err
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Lock target then source, in that order everywhere, so concurrent
	// merges of the same pair cannot deadlock.
	target, err := s.cartRepo.GetByIDForUpdate(ctx, dbTx, userCart.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock user cart: %w", err))
	}
	if target == nil || !target.IsActive() {
		return nil, apperror.ErrCartNotActive()
	}
	source, err := s.cartRepo.GetByIDForUpdate(ctx, dbTx, guestCart.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock guest cart: %w", err))
	}
	if source == nil || !source.IsActive() {
		return nil, apperror.ErrNotFound("guest cart")
	}

	now := time.Now().UTC()
	for i := range source.Items {
		item := &source.Items[i]
		match := target.FindItem(item.ProductID, item.VariantID)
		if match != nil {
			match.Quantity += item.Quantity
			match.LineTotal = match.ComputeLineTotal()
			match.UpdatedAt = now
			if err := s.cartRepo.UpdateItem(ctx, dbTx, match); err != nil {
				return nil, apperror.InternalError(fmt.Errorf("merge item quantity: %w", err))
			}
			// The source row dies with the guest cart delete below.
			continue
		}
		item.CartID = target.ID
		item.UpdatedAt = now
		if err := s.cartRepo.UpdateItem(ctx, dbTx, item); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("move item: %w", err))
		}
		target.Items = append(target.Items, *item)
	}

	if err := s.cartRepo.Delete(ctx, dbTx, source.ID); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("delete guest cart: %w", err))
	}

	if err := s.persistTotals(ctx, dbTx, target); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("user_cart_id", target.ID.String()).
		Str("guest_cart_id", source.ID.String()).
		Int("item_count", len(target.Items)).
		Msg("guest cart merged")

	return target, nil
}

// lockOwnedCart fetches the cart FOR UPDATE and enforces ownership and
// mutability. The not-found answer for foreign carts is deliberate.
func (s *CartServiceImpl) lockOwnedCart(ctx context.Context, dbTx pgx.Tx, actor domain.ActorContext, cartID uuid.UUID) (*domain.Cart, error) {
	cart, err := s.cartRepo.GetByIDForUpdate(ctx, dbTx, cartID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock cart: %w", err))
	}
	if cart == nil || !actor.Owns(cart.UserID, cart.SessionToken) {
		return nil, apperror.ErrNotFound("cart")
	}
	if !cart.IsActive() {
		return nil, apperror.ErrCartNotActive()
	}
	if cart.IsExpired(time.Now().UTC()) {
		return nil, apperror.ErrCartExpired()
	}
	return cart, nil
}

// resolvePrice validates the (product, variant) against the catalog and
// checks advisory stock for the requested total quantity. Returns the
// effective unit price (variant override wins).
func (s *CartServiceImpl) resolvePrice(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, quantity int) (decimal.Decimal, error) {
	product, err := s.catalogRepo.GetProduct(ctx, productID)
	if err != nil {
		return decimal.Zero, apperror.InternalError(fmt.Errorf("get product: %w", err))
	}
	if product == nil || !product.IsActive {
		return decimal.Zero, apperror.ErrNotFound("product")
	}

	if variantID != nil {
		variant, err := s.catalogRepo.GetVariant(ctx, productID, *variantID)
		if err != nil {
			return decimal.Zero, apperror.InternalError(fmt.Errorf("get variant: %w", err))
		}
		if variant == nil || !variant.IsActive {
			return decimal.Zero, apperror.ErrNotFound("product variant")
		}
		if !variant.HasStock(quantity) {
			return decimal.Zero, apperror.ErrInsufficientStock(
				fmt.Sprintf("Only %d of %s available", variant.StockQuantity, variant.Name))
		}
		return variant.EffectivePrice(product), nil
	}

	if !product.HasStock(quantity) {
		return decimal.Zero, apperror.ErrInsufficientStock(
			fmt.Sprintf("Only %d of %s available", product.StockQuantity, product.Name))
	}
	return product.Price, nil
}

// persistTotals recomputes the aggregate totals and writes them. Always the
// last mutation before commit.
func (s *CartServiceImpl) persistTotals(ctx context.Context, dbTx pgx.Tx, cart *domain.Cart) error {
	cart.RecalculateTotals()
	cart.UpdatedAt = time.Now().UTC()
	if err := s.cartRepo.UpdateTotals(ctx, dbTx, cart); err != nil {
		return apperror.InternalError(fmt.Errorf("update totals: %w", err))
	}
	return nil
}

// expireCart retires an active cart whose expiry has passed.
func (s *CartServiceImpl) expireCart(ctx context.Context, cartID uuid.UUID) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	cart, err := s.cartRepo.GetByIDForUpdate(ctx, dbTx, cartID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock cart: %w", err))
	}
	if cart == nil || !cart.IsActive() {
		return nil // Someone else already retired it.
	}
	if err := s.cartRepo.UpdateStatus(ctx, dbTx, cartID, domain.CartStatusExpired); err != nil {
		return apperror.InternalError(fmt.Errorf("expire cart: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().Str("cart_id", cartID.String()).Msg("expired cart retired")
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CatalogRepo implements ports.CatalogRepository. It only reads; catalog
// writes belong to whatever system owns the product data.
type CatalogRepo struct {
	pool Pool
}

// NewCatalogRepo creates a new CatalogRepo.
func NewCatalogRepo(pool Pool) *CatalogRepo {
	return &CatalogRepo{pool: pool}
}

// GetProduct fetches a product by its UUID.
func (r *CatalogRepo) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	query := `SELECT id, name, price, is_active, track_inventory, stock_quantity
		FROM products WHERE id = $1`

	p := &domain.Product{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Price, &p.IsActive, &p.TrackInventory, &p.StockQuantity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product by id: %w", err)
	}
	return p, nil
}

// GetVariant fetches a variant scoped to its product, so a variant ID from
// the wrong product never resolves.
func (r *CatalogRepo) GetVariant(ctx context.Context, productID, variantID uuid.UUID) (*domain.ProductVariant, error) {
	query := `SELECT id, product_id, name, price, is_active, stock_quantity
		FROM product_variants WHERE id = $1 AND product_id = $2`

	v := &domain.ProductVariant{}
	err := r.pool.QueryRow(ctx, query, variantID, productID).Scan(
		&v.ID, &v.ProductID, &v.Name, &v.Price, &v.IsActive, &v.StockQuantity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product variant: %w", err)
	}
	return v, nil
}

package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the read-only catalog view the cart consults for price and stock.
type Product struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	IsActive       bool            `json:"is_active"`
	TrackInventory bool            `json:"track_inventory"`
	StockQuantity  int             `json:"stock_quantity"`
}

// ProductVariant is an optional sellable variation of a product. Variant
// stock is always tracked; a nil price falls back to the product price.
type ProductVariant struct {
	ID            uuid.UUID        `json:"id"`
	ProductID     uuid.UUID        `json:"product_id"`
	Name          string           `json:"name"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	IsActive      bool             `json:"is_active"`
	StockQuantity int              `json:"stock_quantity"`
}

// HasStock reports whether the product can satisfy the requested quantity.
// Products that do not track inventory always report available stock.
func (p *Product) HasStock(quantity int) bool {
	if !p.TrackInventory {
		return true
	}
	return p.StockQuantity >= quantity
}

// HasStock reports whether the variant can satisfy the requested quantity.
func (v *ProductVariant) HasStock(quantity int) bool {
	return v.StockQuantity >= quantity
}

// EffectivePrice returns the variant price override, or the product price.
func (v *ProductVariant) EffectivePrice(p *Product) decimal.Decimal {
	if v.Price != nil {
		return *v.Price
	}
	return p.Price
}

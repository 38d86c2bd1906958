package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartStatus represents the lifecycle state of a cart.
type CartStatus string

const (
	CartStatusActive    CartStatus = "active"
	CartStatusAbandoned CartStatus = "abandoned"
	CartStatusCompleted CartStatus = "completed"
	CartStatusExpired   CartStatus = "expired"
)

// Cart aggregates prospective purchase line items for a user or guest session
// and keeps the derived monetary totals consistent with its items.
type Cart struct {
	ID             uuid.UUID       `json:"id"`
	UserID         *uuid.UUID      `json:"user_id,omitempty"`
	SessionToken   *string         `json:"-"` // Guest owner key, never exposed
	Status         CartStatus      `json:"status"`
	Currency       string          `json:"currency"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	ShippingAmount decimal.Decimal `json:"shipping_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Items          []CartItem      `json:"items"`
}

// CartItem is a single product/variant line within a cart. Unit price is
// captured when the item is added and never re-read from the catalog.
type CartItem struct {
	ID               uuid.UUID       `json:"id"`
	CartID           uuid.UUID       `json:"cart_id"`
	ProductID        uuid.UUID       `json:"product_id"`
	VariantID        *uuid.UUID      `json:"variant_id,omitempty"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	LineTotal        decimal.Decimal `json:"line_total"`
	CustomAttributes map[string]any  `json:"custom_attributes,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ComputeLineTotal derives the item's line total from quantity and unit price.
func (i *CartItem) ComputeLineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// MatchesProduct reports whether the item is for the given (product, variant) pair.
func (i *CartItem) MatchesProduct(productID uuid.UUID, variantID *uuid.UUID) bool {
	if i.ProductID != productID {
		return false
	}
	if i.VariantID == nil {
		return variantID == nil
	}
	return variantID != nil && *i.VariantID == *variantID
}

// RecalculateTotals rederives line totals, subtotal and total from the items.
// subtotal = Σ line totals; total = subtotal + tax + shipping - discount.
// It is invoked by the aggregate's own mutation operations, always as their
// final step, so derived fields never go stale relative to the items.
func (c *Cart) RecalculateTotals() {
	subtotal := decimal.Zero
	for idx := range c.Items {
		c.Items[idx].LineTotal = c.Items[idx].ComputeLineTotal()
		subtotal = subtotal.Add(c.Items[idx].LineTotal)
	}
	c.Subtotal = subtotal
	c.Total = subtotal.Add(c.TaxAmount).Add(c.ShippingAmount).Sub(c.DiscountAmount)
}

// IsActive returns true if the cart accepts item mutations.
func (c *Cart) IsActive() bool {
	return c.Status == CartStatusActive
}

// IsExpired returns true if the cart has an expiry in the past.
func (c *Cart) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// IsEmpty returns true if the cart has no items.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// ItemCount returns the total unit count across all items.
func (c *Cart) ItemCount() int {
	count := 0
	for idx := range c.Items {
		count += c.Items[idx].Quantity
	}
	return count
}

// FindItem returns the item matching (product, variant), or nil.
func (c *Cart) FindItem(productID uuid.UUID, variantID *uuid.UUID) *CartItem {
	for idx := range c.Items {
		if c.Items[idx].MatchesProduct(productID, variantID) {
			return &c.Items[idx]
		}
	}
	return nil
}

// ItemByID returns the item with the given id, or nil.
func (c *Cart) ItemByID(itemID uuid.UUID) *CartItem {
	for idx := range c.Items {
		if c.Items[idx].ID == itemID {
			return &c.Items[idx]
		}
	}
	return nil
}

package dto

// AddItemRequest is the request body for adding a product to a cart.
type AddItemRequest struct {
	ProductID        string         `json:"product_id" binding:"required,uuid"`
	VariantID        *string        `json:"variant_id,omitempty" binding:"omitempty,uuid"`
	Quantity         int            `json:"quantity" binding:"required,gt=0"`
	CustomAttributes map[string]any `json:"custom_attributes,omitempty"`
	Notes            string         `json:"notes" binding:"max=500"`
}

// UpdateItemRequest is the request body for changing a cart line quantity.
type UpdateItemRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
}

// MergeCartRequest is the request body for folding a guest cart into the
// authenticated user's cart after login.
type MergeCartRequest struct {
	SessionToken string `json:"session_token" binding:"required,min=1,max=128"`
}

// CreateTransactionRequest is the request body for opening a ledger entry.
// Exactly one of amount or cart_id must be provided; amounts travel as
// decimal strings to avoid float rounding on the wire.
type CreateTransactionRequest struct {
	Provider    string         `json:"provider" binding:"required,safe_id,max=50"`
	Amount      *string        `json:"amount,omitempty"`
	CartID      *string        `json:"cart_id,omitempty" binding:"omitempty,uuid"`
	Currency    string         `json:"currency" binding:"omitempty,len=3"`
	Description string         `json:"description" binding:"max=500"`
	Reference   string         `json:"reference" binding:"omitempty,safe_id,max=100"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CustomerRequest carries checkout customer details forwarded to the provider.
type CustomerRequest struct {
	Email     string `json:"email" binding:"omitempty,email,max=254"`
	FirstName string `json:"first_name" binding:"max=100"`
	LastName  string `json:"last_name" binding:"max=100"`
	Phone     string `json:"phone" binding:"max=32"`
}

// ProcessTransactionRequest is the request body for starting provider checkout.
type ProcessTransactionRequest struct {
	Customer  *CustomerRequest `json:"customer,omitempty"`
	ReturnURL string           `json:"return_url" binding:"omitempty,safe_url,max=500"`
}

// RefundTransactionRequest is the request body for refunding a settled
// payment. A nil amount requests a full refund.
type RefundTransactionRequest struct {
	Amount *string `json:"amount,omitempty"`
	Reason string  `json:"reason" binding:"max=500"`
}

// CartItemResponse is one cart line in API responses.
type CartItemResponse struct {
	ID               string         `json:"id"`
	ProductID        string         `json:"product_id"`
	VariantID        *string        `json:"variant_id,omitempty"`
	Quantity         int            `json:"quantity"`
	UnitPrice        string         `json:"unit_price"`
	LineTotal        string         `json:"line_total"`
	CustomAttributes map[string]any `json:"custom_attributes,omitempty"`
	Notes            string         `json:"notes,omitempty"`
}

// CartResponse is the cart aggregate in API responses.
type CartResponse struct {
	ID             string             `json:"id"`
	Status         string             `json:"status"`
	Currency       string             `json:"currency"`
	Subtotal       string             `json:"subtotal"`
	TaxAmount      string             `json:"tax_amount"`
	ShippingAmount string             `json:"shipping_amount"`
	DiscountAmount string             `json:"discount_amount"`
	Total          string             `json:"total"`
	ItemCount      int                `json:"item_count"`
	Items          []CartItemResponse `json:"items"`
	ExpiresAt      *string            `json:"expires_at,omitempty"`
	CreatedAt      string             `json:"created_at"`
	UpdatedAt      string             `json:"updated_at"`
}

// TransactionResponse is one ledger entry in API responses.
type TransactionResponse struct {
	ID            string         `json:"id"`
	Reference     string         `json:"reference"`
	Type          string         `json:"transaction_type"`
	Status        string         `json:"status"`
	Provider      string         `json:"provider"`
	Amount        string         `json:"amount"`
	Currency      string         `json:"currency"`
	FeeAmount     *string        `json:"fee_amount,omitempty"`
	Description   string         `json:"description,omitempty"`
	CartID        *string        `json:"cart_id,omitempty"`
	ParentID      *string        `json:"parent_transaction_id,omitempty"`
	ProviderTxID  *string        `json:"provider_tx_id,omitempty"`
	FailureReason *string        `json:"failure_reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"created_at"`
	CompletedAt   *string        `json:"completed_at,omitempty"`
}

// CheckoutResponse pairs a processing transaction with the provider redirect.
type CheckoutResponse struct {
	Transaction TransactionResponse `json:"transaction"`
	CheckoutURL string              `json:"checkout_url"`
}

// TransactionListResponse wraps a paginated transaction list.
type TransactionListResponse struct {
	Items      []TransactionResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// TransactionStatsResponse is the per-user ledger aggregate.
type TransactionStatsResponse struct {
	TotalTransactions int64  `json:"total_transactions"`
	Succeeded         int64  `json:"succeeded"`
	Failed            int64  `json:"failed"`
	Refunded          int64  `json:"refunded"`
	TotalPaid         string `json:"total_paid"`
	TotalRefunded     string `json:"total_refunded"`
}

// WebhookAckResponse acknowledges an inbound provider webhook.
type WebhookAckResponse struct {
	Outcome       string  `json:"outcome"`
	TransactionID *string `json:"transaction_id,omitempty"`
	Reference     *string `json:"reference,omitempty"`
}

// ProviderResponse describes one registered settlement provider.
type ProviderResponse struct {
	Key         string   `json:"key"`
	DisplayName string   `json:"display_name"`
	Currencies  []string `json:"currencies"`
}

// FeeEstimateResponse is the response for a provider fee quote.
type FeeEstimateResponse struct {
	Provider string `json:"provider"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Fee      string `json:"fee"`
	Total    string `json:"total"`
}

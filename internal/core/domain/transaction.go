package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of ledger entry.
type TransactionType string

const (
	TransactionTypePayment       TransactionType = "payment"
	TransactionTypeRefund        TransactionType = "refund"
	TransactionTypePartialRefund TransactionType = "partial_refund"
	TransactionTypeChargeback    TransactionType = "chargeback"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending           TransactionStatus = "pending"
	TransactionStatusProcessing        TransactionStatus = "processing"
	TransactionStatusSucceeded         TransactionStatus = "succeeded"
	TransactionStatusFailed            TransactionStatus = "failed"
	TransactionStatusCancelled         TransactionStatus = "cancelled"
	TransactionStatusRefunded          TransactionStatus = "refunded"
	TransactionStatusPartiallyRefunded TransactionStatus = "partially_refunded"
)

// statusTransitions is the one-way lifecycle map. There is no path back to
// pending or processing, and refund statuses are reachable only from succeeded.
var statusTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusProcessing,
		TransactionStatusSucceeded,
		TransactionStatusFailed,
		TransactionStatusCancelled,
	},
	TransactionStatusProcessing: {
		TransactionStatusSucceeded,
		TransactionStatusFailed,
		TransactionStatusCancelled,
	},
	TransactionStatusSucceeded: {
		TransactionStatusRefunded,
		TransactionStatusPartiallyRefunded,
	},
	TransactionStatusFailed:            {},
	TransactionStatusCancelled:         {},
	TransactionStatusRefunded:          {},
	TransactionStatusPartiallyRefunded: {},
}

// Transaction records one payment attempt (or refund/chargeback) against a
// settlement provider. The reference doubles as the provider-facing tx_ref.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	Reference       string            `json:"reference"`
	UserID          uuid.UUID         `json:"user_id"`
	Provider        string            `json:"provider"`
	CartID          *uuid.UUID        `json:"cart_id,omitempty"`
	PaymentMethodID *uuid.UUID        `json:"payment_method_id,omitempty"`
	ParentID        *uuid.UUID        `json:"parent_transaction_id,omitempty"`
	Type            TransactionType   `json:"transaction_type"`
	Status          TransactionStatus `json:"status"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	FeeAmount       *decimal.Decimal  `json:"fee_amount,omitempty"`
	ProviderTxID    *string           `json:"provider_tx_id,omitempty"`
	CheckoutURL     *string           `json:"checkout_url,omitempty"`
	Description     string            `json:"description,omitempty"`
	FailureReason   *string           `json:"failure_reason,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// CanTransitionTo reports whether moving to target is a legal lifecycle step.
func (t *Transaction) CanTransitionTo(target TransactionStatus) bool {
	for _, allowed := range statusTransitions[t.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true once the transaction has settled; settlement calls
// on a terminal transaction are no-ops (same status) or conflicts.
func (t *Transaction) IsTerminal() bool {
	return t.Status != TransactionStatusPending && t.Status != TransactionStatusProcessing
}

// IsRefundable returns true if this transaction is a succeeded payment.
// Whether a refund child already exists is checked separately by the ledger.
func (t *Transaction) IsRefundable() bool {
	return t.Type == TransactionTypePayment &&
		t.Status == TransactionStatusSucceeded
}

// NewTransactionReference generates a provider-facing reference.
func NewTransactionReference() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "TX-" + strings.ToUpper(raw[:12])
}

// RefundReference derives the reference for a refund child. At most one
// refund child may exist per parent, so the derived value stays unique.
func RefundReference(parentReference string) string {
	return "REFUND-" + parentReference
}

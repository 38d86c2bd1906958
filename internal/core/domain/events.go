package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types published to downstream consumers (order fulfillment, etc).
const (
	EventTypeTransactionSettled  = "transaction.settled"
	EventTypeTransactionRefunded = "transaction.refunded"
)

// TransactionEvent is the message emitted when a transaction reaches a
// terminal status. Exactly one event is published per terminal transition;
// settlement idempotency guarantees replays do not emit duplicates.
type TransactionEvent struct {
	EventType     string            `json:"event_type"`
	TransactionID uuid.UUID         `json:"transaction_id"`
	Reference     string            `json:"reference"`
	UserID        uuid.UUID         `json:"user_id"`
	Provider      string            `json:"provider"`
	Type          TransactionType   `json:"transaction_type"`
	Status        TransactionStatus `json:"status"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	CartID        *uuid.UUID        `json:"cart_id,omitempty"`
	ParentID      *uuid.UUID        `json:"parent_transaction_id,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// NewTransactionEvent builds the published view of a settled transaction.
func NewTransactionEvent(eventType string, t *Transaction) TransactionEvent {
	return TransactionEvent{
		EventType:     eventType,
		TransactionID: t.ID,
		Reference:     t.Reference,
		UserID:        t.UserID,
		Provider:      t.Provider,
		Type:          t.Type,
		Status:        t.Status,
		Amount:        t.Amount,
		Currency:      t.Currency,
		CartID:        t.CartID,
		ParentID:      t.ParentID,
		OccurredAt:    time.Now().UTC(),
	}
}

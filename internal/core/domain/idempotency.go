package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog represents a cached operation result so that a retried
// request with the same Idempotency-Key returns the original response
// instead of repeating the side effect.
type IdempotencyLog struct {
	Key           string    `json:"key"` // Format: "user_id:operation:client_key"
	TransactionID uuid.UUID `json:"transaction_id"`
	ResponseJSON  []byte    `json:"response_json"` // Cached response to return
	CreatedAt     time.Time `json:"created_at"`
}

// BuildIdempotencyKey constructs the standard key format, scoping the
// client-supplied key to one user and one operation.
func BuildIdempotencyKey(userID uuid.UUID, operation, clientKey string) string {
	return userID.String() + ":" + operation + ":" + clientKey
}

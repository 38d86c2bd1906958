package postgres

import (
	"context"
	"fmt"
	"time"

	"checkout-core/internal/core/domain"

	"github.com/google/uuid"
)

// WebhookEventRepo implements ports.WebhookEventRepository, the audit trail
// of inbound provider notifications.
type WebhookEventRepo struct {
	pool Pool
}

// NewWebhookEventRepo creates a new WebhookEventRepo.
func NewWebhookEventRepo(pool Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

// Insert records a received webhook before any processing happens, so even
// rejected deliveries leave a trace.
func (r *WebhookEventRepo) Insert(ctx context.Context, event *domain.WebhookEvent) error {
	query := `INSERT INTO webhook_events (id, provider, event_type, reference, payload, signature, outcome, received_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.Provider, event.EventType, event.Reference,
		event.Payload, event.Signature, event.Outcome, event.ReceivedAt, event.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// UpdateOutcome stamps the processing result onto a recorded webhook.
func (r *WebhookEventRepo) UpdateOutcome(ctx context.Context, id uuid.UUID, outcome domain.WebhookOutcome, processedAt time.Time) error {
	query := `UPDATE webhook_events SET outcome = $1, processed_at = $2 WHERE id = $3`

	tag, err := r.pool.Exec(ctx, query, outcome, processedAt, id)
	if err != nil {
		return fmt.Errorf("update webhook event outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook event not found: %s", id)
	}
	return nil
}

package events

import (
	"context"

	"checkout-core/internal/core/domain"

	"github.com/rs/zerolog"
)

// NoopPublisher drops events. Used when no broker is configured so the
// settlement path never depends on Kafka being reachable.
type NoopPublisher struct {
	log zerolog.Logger
}

// NewNoopPublisher builds a publisher that logs and discards events.
func NewNoopPublisher(log zerolog.Logger) *NoopPublisher {
	return &NoopPublisher{log: log}
}

// PublishTransactionEvent logs the event at debug level and discards it.
func (p *NoopPublisher) PublishTransactionEvent(_ context.Context, event domain.TransactionEvent) error {
	p.log.Debug().
		Str("event_type", event.EventType).
		Str("reference", event.Reference).
		Msg("Event publishing disabled, dropping event")
	return nil
}

// Close is a no-op.
func (p *NoopPublisher) Close() error { return nil }

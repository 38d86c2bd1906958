// Package events publishes transaction lifecycle events for downstream
// consumers such as order fulfillment and notification services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"checkout-core/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// kafkaWriter interface for testability.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher emits transaction events to a Kafka topic. Messages are
// keyed by transaction reference so all events for one transaction land on
// the same partition in order.
type KafkaPublisher struct {
	writer kafkaWriter
	topic  string
	log    zerolog.Logger
}

// NewKafkaPublisher builds a publisher writing to the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
	}

	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("Kafka publisher initialized")

	return &KafkaPublisher{
		writer: writer,
		topic:  topic,
		log:    log,
	}
}

// PublishTransactionEvent writes one event to the topic.
func (p *KafkaPublisher) PublishTransactionEvent(ctx context.Context, event domain.TransactionEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transaction event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Reference),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error().Err(err).
			Str("topic", p.topic).
			Str("reference", event.Reference).
			Msg("Failed to publish transaction event")
		return fmt.Errorf("publish transaction event: %w", err)
	}

	p.log.Debug().
		Str("topic", p.topic).
		Str("event_type", event.EventType).
		Str("reference", event.Reference).
		Msg("Transaction event published")
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

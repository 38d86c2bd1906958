package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"checkout-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// mockWriter implements kafkaWriter for testing.
type mockWriter struct {
	messages []kafka.Message
	writeErr error
	closed   bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func testEvent() domain.TransactionEvent {
	return domain.NewTransactionEvent(domain.EventTypeTransactionSettled, &domain.Transaction{
		ID:        uuid.New(),
		Reference: "TX-A1B2C3D4E5F6",
		UserID:    uuid.New(),
		Provider:  "chapa",
		Type:      domain.TransactionTypePayment,
		Status:    domain.TransactionStatusSucceeded,
		Amount:    decimal.RequireFromString("250.00"),
		Currency:  "ETB",
	})
}

func TestKafkaPublisher_PublishTransactionEvent(t *testing.T) {
	writer := &mockWriter{}
	pub := &KafkaPublisher{writer: writer, topic: "checkout.transactions", log: zerolog.New(io.Discard)}

	err := pub.PublishTransactionEvent(context.Background(), testEvent())
	assert.NoError(t, err)
	assert.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "TX-A1B2C3D4E5F6", string(msg.Key))

	var decoded domain.TransactionEvent
	assert.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, domain.EventTypeTransactionSettled, decoded.EventType)
	assert.Equal(t, "chapa", decoded.Provider)
	assert.True(t, decoded.Amount.Equal(decimal.RequireFromString("250.00")))
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	writer := &mockWriter{writeErr: errors.New("broker unreachable")}
	pub := &KafkaPublisher{writer: writer, topic: "checkout.transactions", log: zerolog.New(io.Discard)}

	err := pub.PublishTransactionEvent(context.Background(), testEvent())
	assert.ErrorContains(t, err, "broker unreachable")
}

func TestKafkaPublisher_Close(t *testing.T) {
	writer := &mockWriter{}
	pub := &KafkaPublisher{writer: writer, log: zerolog.New(io.Discard)}

	assert.NoError(t, pub.Close())
	assert.True(t, writer.closed)
}

func TestNoopPublisher(t *testing.T) {
	pub := NewNoopPublisher(zerolog.New(io.Discard))

	assert.NoError(t, pub.PublishTransactionEvent(context.Background(), testEvent()))
	assert.NoError(t, pub.Close())
}

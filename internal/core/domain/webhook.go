package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookOutcome classifies what processing an inbound webhook did.
type WebhookOutcome string

const (
	WebhookOutcomeProcessed WebhookOutcome = "processed"
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	WebhookOutcomeIgnored   WebhookOutcome = "ignored"
	WebhookOutcomeMismatch  WebhookOutcome = "mismatch"
	WebhookOutcomeFailed    WebhookOutcome = "failed"
)

// WebhookEvent is the audit record of one inbound provider webhook. Every
// payload that passes signature validation is recorded, whether or not it
// changed a transaction.
type WebhookEvent struct {
	ID          uuid.UUID      `json:"id"`
	Provider    string         `json:"provider"`
	EventType   string         `json:"event_type,omitempty"`
	Reference   string         `json:"reference,omitempty"`
	Payload     []byte         `json:"payload"`
	Signature   string         `json:"-"`
	Outcome     WebhookOutcome `json:"outcome"`
	ReceivedAt  time.Time      `json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

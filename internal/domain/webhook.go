package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookOutcome string

const (
	WebhookSuccess WebhookOutcome = "success"
	WebhookFailed  WebhookOutcome = "failed"
	WebhookPending WebhookOutcome = "pending"
)

// EventPaymentCallback is the event type of gateway payment notifications.
const EventPaymentCallback = "payment_callback"

// Webhook is an append-only record of one inbound notification. It is not linked
// to an Order; correlation goes through collect_request_id inside Payload.
type Webhook struct {
	ID          uuid.UUID       `json:"id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      WebhookOutcome  `json:"status"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Source      string          `json:"source"`
	Attempts    int             `json:"attempts"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

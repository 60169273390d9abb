package domain

import "time"

// Webhook event outcomes
const (
	WebhookApplied   = "applied"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
	WebhookRejected  = "rejected"
)

// WebhookEvent is the persisted record of one inbound provider notification.
// (provider, external_event_id) is unique; only the first row with a given
// pair may carry outcome=applied.
type WebhookEvent struct {
	ID              int64      `json:"id"`
	Provider        string     `json:"provider"`
	ExternalEventID string     `json:"external_event_id"`
	PayloadDigest   string     `json:"payload_digest"`
	Outcome         string     `json:"outcome"`
	TransactionRef  *string    `json:"transaction_ref,omitempty"`
	ReceivedAt      time.Time  `json:"received_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// IdempotencyRecord maps a client-supplied key to the transaction it
// produced, for the TTL window.
type IdempotencyRecord struct {
	UserID    string    `json:"user_id"`
	Key       string    `json:"key"`
	Reference string    `json:"result_transaction_reference"`
	ExpiresAt time.Time `json:"expires_at"`
}

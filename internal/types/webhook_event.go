package types

import "time"

// WebhookEvent is one received delivery, kept for audit and replay
// detection. Payload is the raw request body.
type WebhookEvent struct {
	ID              string
	Provider        ProviderTag
	ProviderEventID string
	EventType       string
	ResourceID      string
	Outcome         string
	Payload         []byte
	ReceivedAt      time.Time
}

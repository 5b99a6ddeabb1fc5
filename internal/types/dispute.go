package types

import "time"

// DisputeNotice is the message put on the dispute review queue. Disputes do
// not change subscription state; a human decides what happens next.
type DisputeNotice struct {
	Provider   ProviderTag `json:"provider"`
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	ResourceID string      `json:"resource_id"`
	Amount     *int64      `json:"amount,omitempty"`
	Currency   string      `json:"currency,omitempty"`
	Metadata   Metadata    `json:"metadata,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
}

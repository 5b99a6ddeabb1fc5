package webhook

import (
	"fmt"
	"time"

	"memberpay/internal/types"
)

// Envelope is the provider-neutral view of one webhook delivery.
type Envelope struct {
	EventID    string
	EventType  string
	ResourceID string // provider invoice id; the idempotency key
	Timestamp  int64  // unix seconds, 0 when absent
	Metadata   types.Metadata

	UserID    string
	Email     string
	Username  string
	ProductID string
	StoreID   string
	Amount    *int64 // minor units
	Currency  string

	// NeedsRefetch marks notification-only events whose payment state must
	// be confirmed with the provider API before granting access.
	NeedsRefetch bool
}

// OccurredAt returns the event time, or fallback when the provider sent none.
func (e *Envelope) OccurredAt(fallback time.Time) time.Time {
	if e.Timestamp > 0 {
		return time.Unix(e.Timestamp, 0).UTC()
	}
	return fallback
}

// OrderID is the checkout order reference the service attached at invoice
// creation, if the provider echoed it back.
func (e *Envelope) OrderID() string {
	return e.Metadata.Get("orderId", "order_id")
}

// DecodeError reports a delivery body that could not be decoded.
type DecodeError struct {
	Provider types.ProviderTag
	Reason   string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook: decode %s payload: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("webhook: decode %s payload: %s", e.Provider, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

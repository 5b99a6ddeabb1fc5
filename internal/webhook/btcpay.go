package webhook

import (
	"encoding/json"
	"strconv"

	"memberpay/internal/types"
)

// BTCPayProvider handles BTCPay Server Greenfield webhooks. Deliveries are
// signed as "BTCPay-Sig: sha256=<hex>".
type BTCPayProvider struct {
	signer
}

// NewBTCPayProvider returns ErrSecretRequired when cfg has no secret and
// unverified mode is off.
func NewBTCPayProvider(cfg ProviderConfig) (*BTCPayProvider, error) {
	s, err := newSigner(types.ProviderBTCPay, cfg, FormatPrefixed)
	if err != nil {
		return nil, err
	}
	return &BTCPayProvider{signer: s}, nil
}

func (p *BTCPayProvider) SignatureHeader() string { return "BTCPay-Sig" }

func (p *BTCPayProvider) Verify(body []byte, header string) error {
	return p.verifyHMAC(body, header)
}

type btcpayEvent struct {
	DeliveryID         string          `json:"deliveryId"`
	OriginalDeliveryID string          `json:"originalDeliveryId"`
	Type               string          `json:"type"`
	Timestamp          int64           `json:"timestamp"`
	StoreID            string          `json:"storeId"`
	InvoiceID          string          `json:"invoiceId"`
	OverPaid           bool            `json:"overPaid"`
	AfterExpiration    bool            `json:"afterExpiration"`
	ManuallyMarked     bool            `json:"manuallyMarked"`
	Metadata           json.RawMessage `json:"metadata"`
}

// Decode parses a Greenfield webhook. BTCPay events carry no amount, so
// settled events are always marked for re-fetch.
func (p *BTCPayProvider) Decode(body []byte) (*Envelope, error) {
	var ev btcpayEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, &DecodeError{Provider: p.tag, Reason: "malformed JSON", Err: err}
	}
	if ev.Type == "" {
		return nil, &DecodeError{Provider: p.tag, Reason: "missing type"}
	}
	if ev.InvoiceID == "" {
		return nil, &DecodeError{Provider: p.tag, Reason: "missing invoiceId"}
	}

	meta := types.FlattenMetadata(ev.Metadata)
	for k, v := range map[string]bool{
		"overPaid":        ev.OverPaid,
		"afterExpiration": ev.AfterExpiration,
		"manuallyMarked":  ev.ManuallyMarked,
	} {
		if v {
			meta[k] = strconv.FormatBool(v)
		}
	}

	// Redeliveries get a fresh deliveryId; the original one identifies the
	// event.
	eventID := ev.OriginalDeliveryID
	if eventID == "" {
		eventID = ev.DeliveryID
	}
	if eventID == "" {
		eventID = ev.InvoiceID + ":" + ev.Type
	}

	return &Envelope{
		EventID:      eventID,
		EventType:    ev.Type,
		ResourceID:   ev.InvoiceID,
		Timestamp:    ev.Timestamp,
		Metadata:     meta,
		StoreID:      ev.StoreID,
		Email:        meta.Get("buyerEmail"),
		NeedsRefetch: Classify(p.tag, ev.Type) == PaymentSettled,
	}, nil
}

func (p *BTCPayProvider) Classify(env *Envelope) Outcome {
	return Classify(p.tag, env.EventType)
}

var _ Provider = (*BTCPayProvider)(nil)

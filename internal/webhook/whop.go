package webhook

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"memberpay/internal/types"
)

// WhopProvider handles Whop webhooks, signed as a bare hex digest in
// X-Whop-Signature.
type WhopProvider struct {
	signer
}

// NewWhopProvider returns ErrSecretRequired when cfg has no secret and
// unverified mode is off.
func NewWhopProvider(cfg ProviderConfig) (*WhopProvider, error) {
	s, err := newSigner(types.ProviderWhop, cfg, FormatBareHex)
	if err != nil {
		return nil, err
	}
	return &WhopProvider{signer: s}, nil
}

func (p *WhopProvider) SignatureHeader() string { return "X-Whop-Signature" }

func (p *WhopProvider) Verify(body []byte, header string) error {
	return p.verifyHMAC(body, header)
}

type whopEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt json.RawMessage `json:"created_at"`
	Data      whopEventData   `json:"data"`
}

type whopEventData struct {
	ID                string          `json:"id"`
	MembershipID      string          `json:"membership_id"`
	UserID            string          `json:"user_id"`
	Username          string          `json:"username"`
	Email             string          `json:"email"`
	ProductID         string          `json:"product_id"`
	PlanID            string          `json:"plan_id"`
	Amount            json.Number     `json:"amount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
	CancelAtPeriodEnd *bool           `json:"cancel_at_period_end"`
	Metadata          json.RawMessage `json:"metadata"`
}

// Decode parses a Whop webhook. Payments, memberships, refunds and disputes
// all key on the membership when the payload names one, so every event for
// one membership lands on the same subscription row.
func (p *WhopProvider) Decode(body []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var ev whopEvent
	if err := dec.Decode(&ev); err != nil {
		return nil, &DecodeError{Provider: p.tag, Reason: "malformed JSON", Err: err}
	}
	if ev.Type == "" {
		return nil, &DecodeError{Provider: p.tag, Reason: "missing type"}
	}
	if ev.Data.ID == "" {
		return nil, &DecodeError{Provider: p.tag, Reason: "missing data.id"}
	}

	d := ev.Data
	meta := types.FlattenMetadata(d.Metadata)
	meta["whop_object_id"] = d.ID
	if d.PlanID != "" {
		meta["plan_id"] = d.PlanID
	}
	if d.Status != "" {
		meta["status"] = d.Status
	}
	if d.CancelAtPeriodEnd != nil {
		meta["cancel_at_period_end"] = strconv.FormatBool(*d.CancelAtPeriodEnd)
	}

	resource := d.ID
	if d.MembershipID != "" {
		resource = d.MembershipID
	}

	eventID := ev.ID
	if eventID == "" {
		eventID = d.ID + ":" + ev.Type
	}

	env := &Envelope{
		EventID:    eventID,
		EventType:  ev.Type,
		ResourceID: resource,
		Timestamp:  parseWhopTime(ev.CreatedAt),
		Metadata:   meta,
		UserID:     d.UserID,
		Email:      d.Email,
		Username:   d.Username,
		ProductID:  d.ProductID,
		Currency:   strings.ToUpper(d.Currency),
	}
	// Amounts are minor units; a fractional value is not trusted as one.
	if d.Amount != "" {
		if amt, err := d.Amount.Int64(); err == nil {
			env.Amount = &amt
		} else {
			meta["amount_raw"] = d.Amount.String()
		}
	}
	return env, nil
}

func (p *WhopProvider) Classify(env *Envelope) Outcome {
	return Classify(p.tag, env.EventType)
}

// parseWhopTime accepts unix seconds or an RFC 3339 string.
func parseWhopTime(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}

var _ Provider = (*WhopProvider)(nil)

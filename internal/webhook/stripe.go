package webhook

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"memberpay/internal/types"
)

// StripeProvider handles Stripe webhooks. Signatures use Stripe's
// timestamped scheme and are checked by stripe-go.
type StripeProvider struct {
	signer
}

// NewStripeProvider returns ErrSecretRequired when cfg has no secret and
// unverified mode is off.
func NewStripeProvider(cfg ProviderConfig) (*StripeProvider, error) {
	s, err := newSigner(types.ProviderStripe, cfg, FormatBareHex)
	if err != nil {
		return nil, err
	}
	return &StripeProvider{signer: s}, nil
}

func (p *StripeProvider) SignatureHeader() string { return "Stripe-Signature" }

// Verify delegates to stripe-go, which also enforces the timestamp
// tolerance against replays.
func (p *StripeProvider) Verify(body []byte, header string) error {
	if p.unverified {
		p.logger.Warn("webhook signature verification disabled", "provider", string(p.tag))
		return nil
	}
	if header == "" {
		return ErrSignatureMissing
	}
	if err := stripewebhook.ValidatePayload(body, header, p.secret); err != nil {
		p.logger.Debug("stripe signature rejected", slog.String("reason", err.Error()))
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// stripeObject is the subset of the event's data.object read across the
// checkout session, payment intent, charge and dispute shapes.
type stripeObject struct {
	ID                string            `json:"id"`
	Object            string            `json:"object"`
	PaymentIntent     json.RawMessage   `json:"payment_intent"`
	Metadata          map[string]string `json:"metadata"`
	ClientReferenceID string            `json:"client_reference_id"`
	ReceiptEmail      string            `json:"receipt_email"`
	CustomerDetails   *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	AmountTotal   *int64 `json:"amount_total"`
	Amount        *int64 `json:"amount"`
	Currency      string `json:"currency"`
	PaymentStatus string `json:"payment_status"`
}

// Decode parses a Stripe event. The idempotency key is the PaymentIntent id,
// so a checkout.session.completed and the payment_intent.succeeded that
// follows it land on one row.
func (p *StripeProvider) Decode(body []byte) (*Envelope, error) {
	var ev stripe.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, &DecodeError{Provider: p.tag, Reason: "malformed JSON", Err: err}
	}
	if ev.Type == "" {
		return nil, &DecodeError{Provider: p.tag, Reason: "missing type"}
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return nil, &DecodeError{Provider: p.tag, Reason: "missing data.object"}
	}

	var obj stripeObject
	if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
		return nil, &DecodeError{Provider: p.tag, Reason: "malformed data.object", Err: err}
	}

	resource := paymentIntentID(obj)
	if resource == "" {
		return nil, &DecodeError{Provider: p.tag, Reason: "missing payment reference"}
	}

	meta := types.Metadata{}
	for k, v := range obj.Metadata {
		meta[k] = v
	}
	meta["stripe_object_id"] = obj.ID
	if obj.ClientReferenceID != "" {
		meta["client_reference_id"] = obj.ClientReferenceID
	}

	env := &Envelope{
		EventID:    ev.ID,
		EventType:  string(ev.Type),
		ResourceID: resource,
		Timestamp:  ev.Created,
		Metadata:   meta,
		Currency:   strings.ToUpper(obj.Currency),
	}
	if env.EventID == "" {
		env.EventID = resource + ":" + env.EventType
	}
	switch {
	case obj.CustomerDetails != nil && obj.CustomerDetails.Email != "":
		env.Email = obj.CustomerDetails.Email
	case obj.ReceiptEmail != "":
		env.Email = obj.ReceiptEmail
	}
	switch {
	case obj.AmountTotal != nil:
		env.Amount = obj.AmountTotal
	case obj.Amount != nil:
		env.Amount = obj.Amount
	}

	// A completed session with a delayed payment method is not yet paid.
	if obj.Object == "checkout.session" && obj.PaymentStatus != "" &&
		obj.PaymentStatus != string(stripe.CheckoutSessionPaymentStatusPaid) {
		env.NeedsRefetch = true
	}

	return env, nil
}

func (p *StripeProvider) Classify(env *Envelope) Outcome {
	return Classify(p.tag, env.EventType)
}

// paymentIntentID returns the PaymentIntent behind obj. payment_intent may
// be an id string or an expanded object. Sessions created without one fall
// back to the object's own id.
func paymentIntentID(obj stripeObject) string {
	if obj.Object == "payment_intent" {
		return obj.ID
	}
	if len(obj.PaymentIntent) > 0 && string(obj.PaymentIntent) != "null" {
		var id string
		if json.Unmarshal(obj.PaymentIntent, &id) == nil && id != "" {
			return id
		}
		var expanded struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(obj.PaymentIntent, &expanded) == nil && expanded.ID != "" {
			return expanded.ID
		}
	}
	return obj.ID
}

var _ Provider = (*StripeProvider)(nil)

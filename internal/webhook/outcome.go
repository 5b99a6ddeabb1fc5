package webhook

import "memberpay/internal/types"

// Outcome is the normalized meaning of a provider event.
type Outcome string

const (
	PaymentSettled                Outcome = "payment_settled"
	PaymentPendingOrReceived      Outcome = "payment_pending"
	PaymentFailed                 Outcome = "payment_failed"
	MembershipActivated           Outcome = "membership_activated"
	MembershipDeactivated         Outcome = "membership_deactivated"
	MembershipCancellationChanged Outcome = "membership_cancellation_changed"
	InvoiceExpired                Outcome = "invoice_expired"
	InvoiceInvalid                Outcome = "invoice_invalid"
	Dispute                       Outcome = "dispute"
	Refund                        Outcome = "refund"
	Unrecognized                  Outcome = "unrecognized"
)

// classifier maps (provider, raw event type) to an Outcome. Anything absent
// is Unrecognized.
var classifier = map[types.ProviderTag]map[string]Outcome{
	types.ProviderBTCPay: {
		"InvoicePaymentSettled":  PaymentSettled,
		"InvoiceProcessing":      PaymentSettled,
		"InvoiceReceivedPayment": PaymentPendingOrReceived,
		"InvoiceExpired":         InvoiceExpired,
		"InvoiceInvalid":         InvoiceInvalid,
	},
	types.ProviderWhop: {
		"payment_succeeded":                       PaymentSettled,
		"payment_pending":                         PaymentPendingOrReceived,
		"payment_failed":                          PaymentFailed,
		"membership_went_valid":                   MembershipActivated,
		"membership_went_invalid":                 MembershipDeactivated,
		"membership_cancel_at_period_end_changed": MembershipCancellationChanged,
		"dispute_created":                         Dispute,
		"dispute_updated":                         Dispute,
		"dispute_alert_created":                   Dispute,
		"refund_created":                          Refund,
		"refund_updated":                          Refund,
	},
	types.ProviderStripe: {
		"checkout.session.completed":    PaymentSettled,
		"payment_intent.succeeded":      PaymentSettled,
		"payment_intent.processing":     PaymentPendingOrReceived,
		"payment_intent.payment_failed": PaymentFailed,
		"checkout.session.expired":      InvoiceExpired,
		"charge.dispute.created":        Dispute,
		"charge.refunded":               Refund,
	},
}

// Classify returns the Outcome for a raw event type from provider p.
func Classify(p types.ProviderTag, eventType string) Outcome {
	if o, ok := classifier[p][eventType]; ok {
		return o
	}
	return Unrecognized
}

// pendingStatus is the invoice status recorded on the pending invoice for
// funnel outcomes, or "" when the outcome does not touch it.
func (o Outcome) pendingStatus() types.InvoiceStatus {
	switch o {
	case PaymentSettled, MembershipActivated:
		return types.InvoiceStatusSettled
	case PaymentPendingOrReceived:
		return types.InvoiceStatusProcessing
	case InvoiceExpired:
		return types.InvoiceStatusExpired
	case PaymentFailed, InvoiceInvalid:
		return types.InvoiceStatusInvalid
	default:
		return ""
	}
}

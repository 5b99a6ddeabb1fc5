package types

import "time"

// InvoiceStatus is the normalized provider invoice status. Provider clients
// translate their own vocabulary into these values so that the definition of
// "paid" lives in exactly one place.
type InvoiceStatus string

const (
	InvoiceStatusNew        InvoiceStatus = "New"
	InvoiceStatusProcessing InvoiceStatus = "Processing"
	InvoiceStatusSettled    InvoiceStatus = "Settled"
	InvoiceStatusExpired    InvoiceStatus = "Expired"
	InvoiceStatusInvalid    InvoiceStatus = "Invalid"
)

// IsPaid reports whether the invoice counts as paid.
// Processing is included: the payment has been seen and is confirming.
func (s InvoiceStatus) IsPaid() bool {
	return s == InvoiceStatusSettled || s == InvoiceStatusProcessing
}

// IsExpired reports whether the invoice can no longer be paid.
func (s InvoiceStatus) IsExpired() bool {
	return s == InvoiceStatusExpired || s == InvoiceStatusInvalid
}

// IsPending reports whether the invoice is awaiting payment.
func (s InvoiceStatus) IsPending() bool {
	return s == InvoiceStatusNew
}

// Invoice is a provider-side payment request.
type Invoice struct {
	ID             string
	CheckoutLink   string
	Status         InvoiceStatus
	ExpirationTime *time.Time
	Amount         *int64 // minor units
	Currency       string
	Metadata       Metadata

	// SettlementID is the id the payment settled under, when it differs
	// from ID: the PaymentIntent of a Stripe Checkout Session, or the
	// payment of a Whop checkout session.
	SettlementID string
}

// SubscriptionResource returns the id a settled payment is keyed by.
func (i *Invoice) SubscriptionResource() string {
	if i.SettlementID != "" {
		return i.SettlementID
	}
	return i.ID
}

// IsPaid reports whether the invoice counts as paid.
func (i *Invoice) IsPaid() bool { return i.Status.IsPaid() }

// IsExpired reports whether the invoice can no longer be paid.
func (i *Invoice) IsExpired() bool { return i.Status.IsExpired() }

// IsPending reports whether the invoice is awaiting payment.
func (i *Invoice) IsPending() bool { return i.Status.IsPending() }

// CreateInvoiceParams describes a checkout to open with a provider.
type CreateInvoiceParams struct {
	Amount      int64 // minor units
	Currency    string
	OrderID     string
	// PlanID is the provider-side plan for providers that price by plan
	// rather than by amount.
	PlanID      string
	Description string
	NotifyURL   string
	RedirectURL string
	Metadata    Metadata
}

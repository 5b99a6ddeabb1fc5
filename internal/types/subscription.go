package types

import "time"

// ProviderTag identifies an external payment provider.
type ProviderTag string

const (
	ProviderBTCPay ProviderTag = "btcpay"
	ProviderWhop   ProviderTag = "whop"
	ProviderStripe ProviderTag = "stripe"
)

// SubscriptionType records which provider stream a subscription row belongs
// to. Together with ProviderInvoiceID it forms the idempotency key.
type SubscriptionType string

const (
	SubTypeBitcoinMembership SubscriptionType = "BITCOIN_MEMBERSHIP"
	SubTypeWhopMembership    SubscriptionType = "WHOP_MEMBERSHIP"
	SubTypeStripeMembership  SubscriptionType = "STRIPE_MEMBERSHIP"
)

// providerSubTypes maps each provider to the subscription type it writes.
var providerSubTypes = map[ProviderTag]SubscriptionType{
	ProviderBTCPay: SubTypeBitcoinMembership,
	ProviderWhop:   SubTypeWhopMembership,
	ProviderStripe: SubTypeStripeMembership,
}

// SubscriptionType returns the subscription type written for events from p.
// Unknown providers map to the empty type.
func (p ProviderTag) SubscriptionType() SubscriptionType {
	return providerSubTypes[p]
}

// Valid reports whether p is a known provider.
func (p ProviderTag) Valid() bool {
	_, ok := providerSubTypes[p]
	return ok
}

// SubscriptionStatus is the lifecycle state of a local subscription row.
type SubscriptionStatus string

const (
	SubStatusActive    SubscriptionStatus = "ACTIVE"
	SubStatusInactive  SubscriptionStatus = "INACTIVE"
	SubStatusCancelled SubscriptionStatus = "CANCELLED"
	SubStatusRefunded  SubscriptionStatus = "REFUNDED"
)

// IsTerminal reports whether no transition may leave this status.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubStatusRefunded
}

// SubscriptionKey is the idempotency key of a subscription row.
type SubscriptionKey struct {
	Type              SubscriptionType
	ProviderInvoiceID string
}

// Subscription is the sole entity the reconciliation pipeline mutates.
type Subscription struct {
	ID                string
	UserID            int64
	Type              SubscriptionType
	Status            SubscriptionStatus
	StartDate         time.Time
	EndDate           *time.Time // nil = indefinite
	ProviderInvoiceID string
	ProviderStoreID   string
	ProviderProductID string
	Amount            *int64 // minor units
	Currency          string
	MembershipLevel   string
	Metadata          Metadata
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Key returns the idempotency key of the subscription.
func (s *Subscription) Key() SubscriptionKey {
	return SubscriptionKey{Type: s.Type, ProviderInvoiceID: s.ProviderInvoiceID}
}

// User is the subset of the users table the pipeline reads for attribution.
type User struct {
	ID       int64
	Email    string
	Username string
	Name     string
}

// PendingInvoice is a checkout the service created with a provider and has
// not yet seen settle. The reconciliation sweep re-checks these.
type PendingInvoice struct {
	Provider  ProviderTag
	InvoiceID string
	OrderID   string
	UserID    int64
	Tier      string
	Amount    int64
	Currency  string
	Status    InvoiceStatus
	CreatedAt time.Time
	CheckedAt *time.Time
}

// Package membership defines the purchasable membership tiers.
package membership

import "sort"

// Tier is one purchasable membership level.
type Tier struct {
	Name        string
	Amount      int64 // minor units
	Currency    string
	Description string
	// WhopPlanID is the Whop plan sold for this tier. Whop prices by plan,
	// so a tier without one cannot be bought through Whop.
	WhopPlanID string
}

// Registry is the authoritative price list used by checkout.
type Registry interface {
	// Lookup returns the tier named name. Unknown names return false.
	Lookup(name string) (Tier, bool)
	// Names lists tier names in ascending price order.
	Names() []string
}

// tierDefaults is the price list:
//
//	| Tier      | Price     |
//	|-----------|-----------|
//	| member    | 5.00 USD  |
//	| supporter | 15.00 USD |
//	| patron    | 50.00 USD |
var tierDefaults = map[string]Tier{
	"member":    {Name: "member", Amount: 500, Currency: "USD", Description: "Member access"},
	"supporter": {Name: "supporter", Amount: 1500, Currency: "USD", Description: "Supporter access"},
	"patron":    {Name: "patron", Amount: 5000, Currency: "USD", Description: "Patron access"},
}

type staticRegistry struct {
	tiers map[string]Tier
}

// NewStaticRegistry returns the default price list with Whop plan ids
// attached from whopPlans (tier name to plan id). Entries for unknown tiers
// are ignored.
func NewStaticRegistry(whopPlans map[string]string) Registry {
	m := make(map[string]Tier, len(tierDefaults))
	for k, v := range tierDefaults {
		v.WhopPlanID = whopPlans[k]
		m[k] = v
	}
	return &staticRegistry{tiers: m}
}

func (r *staticRegistry) Lookup(name string) (Tier, bool) {
	t, ok := r.tiers[name]
	return t, ok
}

func (r *staticRegistry) Names() []string {
	names := make([]string, 0, len(r.tiers))
	for k := range r.tiers {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		return r.tiers[names[i]].Amount < r.tiers[names[j]].Amount
	})
	return names
}

package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_KnownTiers(t *testing.T) {
	reg := NewStaticRegistry(nil)

	tests := []struct {
		name   string
		amount int64
	}{
		{"member", 500},
		{"supporter", 1500},
		{"patron", 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, ok := reg.Lookup(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.name, tier.Name)
			assert.Equal(t, tt.amount, tier.Amount)
			assert.Equal(t, "USD", tier.Currency)
			assert.Empty(t, tier.WhopPlanID)
		})
	}
}

func TestLookup_UnknownTier(t *testing.T) {
	reg := NewStaticRegistry(nil)

	_, ok := reg.Lookup("platinum")
	assert.False(t, ok)
	_, ok = reg.Lookup("")
	assert.False(t, ok)
}

func TestWhopPlanIDsAttached(t *testing.T) {
	reg := NewStaticRegistry(map[string]string{"patron": "plan_p", "ghost": "plan_g"})

	tier, _ := reg.Lookup("patron")
	assert.Equal(t, "plan_p", tier.WhopPlanID)
	tier, _ = reg.Lookup("member")
	assert.Empty(t, tier.WhopPlanID)
	_, ok := reg.Lookup("ghost")
	assert.False(t, ok)
}

func TestNames_PriceOrder(t *testing.T) {
	assert.Equal(t, []string{"member", "supporter", "patron"}, NewStaticRegistry(nil).Names())
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewStaticRegistry(map[string]string{"member": "plan_a"})
	b := NewStaticRegistry(nil)

	ta, _ := a.Lookup("member")
	tb, _ := b.Lookup("member")
	assert.Equal(t, "plan_a", ta.WhopPlanID)
	assert.Empty(t, tb.WhopPlanID)
}

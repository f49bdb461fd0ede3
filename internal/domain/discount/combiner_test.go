package discount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(rules []Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.ID)
	}
	return out
}

func TestCombinable(t *testing.T) {
	combinable := func(id string, excluded ...string) Rule {
		return Rule{ID: id, CanCombineWithOthers: true, ExcludedDiscountIDs: excluded}
	}

	tests := []struct {
		name  string
		rules []Rule
		want  []string
	}{
		{
			name:  "empty",
			rules: nil,
			want:  []string{},
		},
		{
			name:  "single non combinable survives alone",
			rules: []Rule{{ID: "a"}},
			want:  []string{"a"},
		},
		{
			name:  "non combinable dropped with others",
			rules: []Rule{{ID: "a"}, combinable("b")},
			want:  []string{"b"},
		},
		{
			name:  "exclusion declared on one side drops the other",
			rules: []Rule{combinable("a", "b"), combinable("b")},
			want:  []string{"a"},
		},
		{
			name:  "mutual exclusion drops both",
			rules: []Rule{combinable("a", "b"), combinable("b", "a")},
			want:  []string{},
		},
		{
			name:  "duplicates keep first",
			rules: []Rule{combinable("a"), combinable("a"), combinable("b")},
			want:  []string{"a", "b"},
		},
		{
			name:  "duplicate does not count as a second rule",
			rules: []Rule{{ID: "a"}, {ID: "a"}},
			want:  []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Combinable(tt.rules)))
		})
	}
}

func TestCombine(t *testing.T) {
	t.Run("order rules compound on running subtotal", func(t *testing.T) {
		rules := []Rule{
			{ID: "p10", DiscountType: DiscountPercentage, DiscountValue: d("10"), AppliesTo: ScopeOrder, CanCombineWithOthers: true},
			{ID: "f20", DiscountType: DiscountFixed, DiscountValue: d("20"), AppliesTo: ScopeOrder, CanCombineWithOthers: true},
		}

		res := Combine(rules, Cart{Subtotal: d("200")})

		require.Len(t, res.AppliedDiscounts, 2)
		assert.True(t, d("20").Equal(res.AppliedDiscounts[0].Amount))
		assert.True(t, d("20").Equal(res.AppliedDiscounts[1].Amount))
		assert.True(t, d("40").Equal(res.DiscountAmount))
		assert.True(t, d("160").Equal(res.FinalAmount))
	})

	t.Run("item rules see the original cart", func(t *testing.T) {
		rules := []Rule{
			{ID: "prod", DiscountType: DiscountPercentage, DiscountValue: d("50"), AppliesTo: ScopeProduct, ProductIDs: []string{"A"}, CanCombineWithOthers: true},
			{ID: "half", DiscountType: DiscountPercentage, DiscountValue: d("50"), AppliesTo: ScopeOrder, CanCombineWithOthers: true},
		}

		res := Combine(rules, twoItemCart())

		require.Equal(t, []string{"half", "prod"}, []string{res.AppliedDiscounts[0].RuleID, res.AppliedDiscounts[1].RuleID})
		assert.True(t, d("75").Equal(res.AppliedDiscounts[0].Amount))
		assert.True(t, d("50").Equal(res.AppliedDiscounts[1].Amount))
		assert.True(t, d("125").Equal(res.DiscountAmount))
		assert.True(t, d("25").Equal(res.FinalAmount))
	})

	t.Run("total never exceeds original", func(t *testing.T) {
		rules := []Rule{
			{ID: "all", DiscountType: DiscountFixed, DiscountValue: d("150"), AppliesTo: ScopeOrder, CanCombineWithOthers: true},
			{ID: "prod", DiscountType: DiscountFixed, DiscountValue: d("100"), AppliesTo: ScopeProduct, ProductIDs: []string{"A"}, CanCombineWithOthers: true},
		}

		res := Combine(rules, twoItemCart())

		assert.True(t, d("150").Equal(res.DiscountAmount))
		assert.True(t, res.FinalAmount.IsZero())
		assert.Len(t, res.AppliedDiscounts, 2)
	})

	t.Run("non combinable rule is dropped", func(t *testing.T) {
		rules := []Rule{
			{ID: "solo", DiscountType: DiscountPercentage, DiscountValue: d("10"), AppliesTo: ScopeOrder},
			{ID: "team", DiscountType: DiscountFixed, DiscountValue: d("5"), AppliesTo: ScopeOrder, CanCombineWithOthers: true},
		}

		res := Combine(rules, Cart{Subtotal: d("100")})

		require.Len(t, res.AppliedDiscounts, 1)
		assert.Equal(t, "team", res.AppliedDiscounts[0].RuleID)
		assert.True(t, d("95").Equal(res.FinalAmount))
	})

	t.Run("no rules is identity", func(t *testing.T) {
		res := Combine(nil, Cart{Subtotal: d("42.50")})

		assert.True(t, res.DiscountAmount.IsZero())
		assert.True(t, d("42.50").Equal(res.FinalAmount))
		assert.Empty(t, res.AppliedDiscounts)
	})
}

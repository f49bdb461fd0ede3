package discount

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

func cents(v int64) decimal.Decimal { return decimal.New(v, -2) }

func properties(t *testing.T) *gopter.Properties {
	t.Helper()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	return gopter.NewProperties(parameters)
}

func TestCalculateProperties(t *testing.T) {
	props := properties(t)

	props.Property("order percentage is min(subtotal*value/100, cap) within [0, subtotal]", prop.ForAll(
		func(subtotal, value, capCents int64, capped bool) bool {
			rule := Rule{
				DiscountType:  DiscountPercentage,
				DiscountValue: decimal.NewFromInt(value),
				AppliesTo:     ScopeOrder,
			}
			if capped {
				rule.MaximumDiscountAmount = ptr(cents(capCents))
			}
			base := cents(subtotal)

			res := Calculate(&rule, Cart{Subtotal: base})

			want := base.Mul(rule.DiscountValue).Div(hundred)
			if capped {
				want = decimal.Min(want, cents(capCents))
			}
			want = decimal.Min(want.Round(2), base)
			return res.DiscountAmount.Equal(want) &&
				!res.DiscountAmount.IsNegative() &&
				res.DiscountAmount.LessThanOrEqual(base)
		},
		gen.Int64Range(0, 10_000_000),
		gen.Int64Range(0, 100),
		gen.Int64Range(0, 1_000_000),
		gen.Bool(),
	))

	props.Property("order fixed is min(value, subtotal)", prop.ForAll(
		func(subtotal, value int64) bool {
			rule := Rule{DiscountType: DiscountFixed, DiscountValue: cents(value), AppliesTo: ScopeOrder}

			res := Calculate(&rule, Cart{Subtotal: cents(subtotal)})

			return res.DiscountAmount.Equal(decimal.Min(cents(value), cents(subtotal)))
		},
		gen.Int64Range(0, 10_000_000),
		gen.Int64Range(0, 10_000_000),
	))

	props.TestingRun(t)
}

func TestCombineProperties(t *testing.T) {
	props := properties(t)

	genRule := gopter.CombineGens(
		gen.OneConstOf(DiscountPercentage, DiscountFixed),
		gen.OneConstOf(ScopeOrder, ScopeProduct),
		gen.Int64Range(0, 20_000),
		gen.Bool(),
	).Map(func(v []any) Rule {
		r := Rule{
			DiscountType:         v[0].(DiscountType),
			AppliesTo:            v[1].(Scope),
			CanCombineWithOthers: v[3].(bool),
			ProductIDs:           []string{"A"},
		}
		if r.DiscountType == DiscountPercentage {
			r.DiscountValue = decimal.NewFromInt(v[2].(int64) % 101)
		} else {
			r.DiscountValue = cents(v[2].(int64))
		}
		return r
	})

	withIDs := func(rules []Rule) []Rule {
		for i := range rules {
			rules[i].ID = string(rune('a' + i%26))
		}
		return rules
	}

	props.Property("final plus discount equals original", prop.ForAll(
		func(rules []Rule, a, b int64) bool {
			cart := Cart{
				Items: []Item{
					{ProductID: "A", Quantity: 1, Subtotal: cents(a)},
					{ProductID: "B", Quantity: 1, Subtotal: cents(b)},
				},
				Subtotal: cents(a + b),
			}

			res := Combine(withIDs(rules), cart)

			return res.FinalAmount.Add(res.DiscountAmount).Equal(res.OriginalAmount) &&
				!res.FinalAmount.IsNegative() &&
				res.FinalAmount.LessThanOrEqual(res.OriginalAmount)
		},
		gen.SliceOfN(4, genRule),
		gen.Int64Range(0, 100_000),
		gen.Int64Range(0, 100_000),
	))

	props.Property("no rules is identity", prop.ForAll(
		func(subtotal int64) bool {
			res := Combine(nil, Cart{Subtotal: cents(subtotal)})
			return res.DiscountAmount.IsZero() && res.FinalAmount.Equal(cents(subtotal))
		},
		gen.Int64Range(0, 10_000_000),
	))

	props.TestingRun(t)
}

func TestValidateProperties(t *testing.T) {
	props := properties(t)

	props.Property("exhausted usage always fails", prop.ForAll(
		func(maxUses int, active, combinable bool, minQty int) bool {
			rule := Rule{
				ID:                   "r",
				DiscountType:         DiscountPercentage,
				AppliesTo:            ScopeOrder,
				UsageLimit:           UsageLimited,
				MaxUses:              ptr(maxUses),
				CurrentUses:          maxUses,
				IsActive:             active,
				CanCombineWithOthers: combinable,
				MinimumQuantity:      ptr(minQty),
			}

			res := Validate(&rule, twoItemCart(), Context{Now: saturdayNoon})

			if res.Valid {
				return false
			}
			for _, e := range res.Errors {
				if e == MsgUsageExhausted {
					return true
				}
			}
			return false
		},
		gen.IntRange(0, 1000),
		gen.Bool(),
		gen.Bool(),
		gen.IntRange(0, 5),
	))

	props.TestingRun(t)
}

package discount

import (
	"slices"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Calculate computes the discount of a single rule against cart. It assumes
// the rule already passed Validate and does not re-check eligibility.
func Calculate(rule *Rule, cart Cart) CalculationResult {
	return summarize(floorAtZero(cart.Subtotal), []AppliedDiscount{apply(rule, cart)})
}

// apply computes the effect of rule on its eligible base. Order scope uses
// cart.Subtotal as the base, product and category scope the sum of matching
// item subtotals.
func apply(rule *Rule, cart Cart) AppliedDiscount {
	var (
		base    decimal.Decimal
		itemIDs []string
	)
	switch rule.AppliesTo {
	case ScopeOrder:
		base = floorAtZero(cart.Subtotal)
	case ScopeProduct:
		base, itemIDs = eligibleBase(cart.Items, func(it Item) bool {
			return slices.Contains(rule.ProductIDs, it.ProductID)
		})
	case ScopeCategory:
		// Items without category data never match and contribute nothing.
		base, itemIDs = eligibleBase(cart.Items, func(it Item) bool {
			return inCategories(it, rule.CategoryIDs)
		})
	default:
		base = zero
	}

	return AppliedDiscount{
		RuleID:        rule.ID,
		Name:          rule.Name,
		DiscountType:  rule.DiscountType,
		DiscountValue: rule.DiscountValue,
		Amount:        ruleAmount(rule, base),
		AppliesTo:     rule.AppliesTo,
		ItemIDs:       itemIDs,
	}
}

// ruleAmount applies the rule's value and cap to base. The result is rounded
// to cents and always within [0, base].
func ruleAmount(rule *Rule, base decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch rule.DiscountType {
	case DiscountPercentage:
		amount = base.Mul(rule.DiscountValue).Div(hundred)
	case DiscountFixed:
		amount = rule.DiscountValue
	default:
		return zero
	}

	if limit := rule.MaximumDiscountAmount; limit != nil && amount.GreaterThan(*limit) {
		amount = *limit
	}

	amount = floorAtZero(amount).Round(2)
	return decimal.Min(amount, base)
}

// eligibleBase sums the subtotals of matching items and returns their
// product ids in cart order, without duplicates.
func eligibleBase(items []Item, match func(Item) bool) (decimal.Decimal, []string) {
	sum := zero
	var ids []string
	for _, item := range items {
		if !match(item) {
			continue
		}
		sum = sum.Add(floorAtZero(item.Subtotal))
		if !slices.Contains(ids, item.ProductID) {
			ids = append(ids, item.ProductID)
		}
	}
	return sum, ids
}

// summarize totals applied discounts against original. The total is capped at
// original so FinalAmount is never negative and FinalAmount + DiscountAmount
// always equals OriginalAmount.
func summarize(original decimal.Decimal, applied []AppliedDiscount) CalculationResult {
	total := zero
	for _, a := range applied {
		total = total.Add(a.Amount)
	}
	total = decimal.Min(total, original)

	return CalculationResult{
		OriginalAmount:   original,
		DiscountAmount:   total,
		FinalAmount:      original.Sub(total),
		AppliedDiscounts: applied,
		Savings:          total,
	}
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}

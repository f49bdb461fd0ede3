package discount

// Combinable returns the subset of rules that may legally be applied
// together, in request order. Duplicate ids keep their first occurrence.
//
// A rule is dropped when it refuses combination and more than one rule was
// requested, or when any other requested rule lists it as excluded. The
// exclusion holds whichever side declares it.
func Combinable(rules []Rule) []Rule {
	requested := make([]Rule, 0, len(rules))
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		requested = append(requested, r)
	}

	kept := make([]Rule, 0, len(requested))
	for i := range requested {
		r := &requested[i]
		if !r.CanCombineWithOthers && len(requested) > 1 {
			continue
		}
		if excludedByOther(requested, i) {
			continue
		}
		kept = append(kept, *r)
	}
	return kept
}

func excludedByOther(rules []Rule, idx int) bool {
	id := rules[idx].ID
	for j := range rules {
		if j != idx && rules[j].Excludes(id) {
			return true
		}
	}
	return false
}

// Combine applies rules to cart together. It does not validate: callers must
// screen every rule with Validate first.
//
// Order-scope rules apply first, each against the subtotal left by the
// previous ones. Product and category rules then apply against the original
// items. The summed discount is capped at the original subtotal.
func Combine(rules []Rule, cart Cart) CalculationResult {
	selected := Combinable(rules)
	original := floorAtZero(cart.Subtotal)
	applied := make([]AppliedDiscount, 0, len(selected))

	running := original
	for i := range selected {
		r := &selected[i]
		if r.AppliesTo != ScopeOrder {
			continue
		}
		a := apply(r, Cart{Items: cart.Items, Subtotal: running})
		running = running.Sub(a.Amount)
		applied = append(applied, a)
	}

	for i := range selected {
		r := &selected[i]
		if r.AppliesTo == ScopeOrder {
			continue
		}
		applied = append(applied, apply(r, cart))
	}

	return summarize(original, applied)
}

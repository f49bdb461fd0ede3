package discount

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Validation messages shown to cashiers. They are part of the API surface.
const (
	MsgNotFound            = "Discount not found"
	MsgInactive            = "Discount is not active"
	MsgWrongBranch         = "Discount is not valid for this branch"
	MsgNotStarted          = "Discount is not yet valid"
	MsgExpired             = "Discount has expired"
	MsgOutsideHours        = "Discount is not valid at this time"
	MsgWrongDay            = "Discount is not valid on this day"
	MsgUsageExhausted      = "Discount usage limit reached"
	MsgUsageNearlyExceeded = "Discount is close to its usage limit"
	MsgCustomerUsage       = "Customer usage limit reached for this discount"
	MsgCustomerNotAllowed  = "Customer is not eligible for this discount"
	MsgCustomerExcluded    = "Customer is excluded from this discount"
	MsgNoEligibleProducts  = "No eligible products in cart"
	MsgNoEligibleCategory  = "No eligible categories in cart"
	MsgManagerApproval     = "Discount requires manager approval"
)

// Context is the sale context a rule is validated against.
type Context struct {
	CustomerID string
	BranchID   string
	Now        time.Time
	// CustomerUses is the number of prior redemptions by CustomerID. Nil
	// skips the per-customer cap check.
	CustomerUses *int
}

// ValidationResult lists every reason a rule cannot apply right now.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
	// MaxDiscountAmount previews the cap of percentage rules.
	MaxDiscountAmount *decimal.Decimal
}

// NotFound is the validation result for an unknown rule id.
func NotFound() ValidationResult {
	return ValidationResult{Errors: []string{MsgNotFound}}
}

// Validate reports whether rule may be applied to cart in the given context.
// Every check runs; failures are collected rather than short-circuited.
func Validate(rule *Rule, cart Cart, vc Context) ValidationResult {
	var res ValidationResult
	fail := func(msg string) { res.Errors = append(res.Errors, msg) }
	warn := func(msg string) { res.Warnings = append(res.Warnings, msg) }

	if !rule.IsActive {
		fail(MsgInactive)
	}
	if rule.BranchID != "" && rule.BranchID != vc.BranchID {
		fail(MsgWrongBranch)
	}

	now := vc.Now
	if rule.StartDate != nil && now.Before(*rule.StartDate) {
		fail(MsgNotStarted)
	}
	if rule.EndDate != nil && now.After(*rule.EndDate) {
		fail(MsgExpired)
	}
	// A window with Start > End never matches; midnight wraparound is not
	// interpreted.
	if w := rule.ValidHours; w != nil {
		hhmm := now.Format("15:04")
		if hhmm < w.Start || hhmm > w.End {
			fail(MsgOutsideHours)
		}
	}
	if len(rule.ValidDays) > 0 && !slices.Contains(rule.ValidDays, now.Weekday()) {
		fail(MsgWrongDay)
	}

	if m := rule.MinimumOrderAmount; m != nil && cart.Subtotal.LessThan(*m) {
		fail(fmt.Sprintf("Minimum order amount of %s required", m.StringFixed(2)))
	}
	if m := rule.MinimumQuantity; m != nil && cart.TotalQuantity() < *m {
		fail(fmt.Sprintf("Minimum quantity of %d items required", *m))
	}

	if rule.Limited() {
		maxUses := *rule.MaxUses
		switch {
		case rule.CurrentUses >= maxUses:
			fail(MsgUsageExhausted)
		case rule.CurrentUses*10 >= maxUses*9: // 90% of the cap
			warn(MsgUsageNearlyExceeded)
		}
	}

	if vc.CustomerID != "" {
		if m := rule.MaxUsesPerCustomer; m != nil && rule.UsageLimit == UsageLimited &&
			vc.CustomerUses != nil && *vc.CustomerUses >= *m {
			fail(MsgCustomerUsage)
		}
		// Deny wins: an excluded customer fails even when also allow-listed.
		switch {
		case slices.Contains(rule.ExcludedCustomerIDs, vc.CustomerID):
			fail(MsgCustomerExcluded)
		case len(rule.AllowedCustomerIDs) > 0 && !slices.Contains(rule.AllowedCustomerIDs, vc.CustomerID):
			fail(MsgCustomerNotAllowed)
		}
	}

	switch rule.AppliesTo {
	case ScopeProduct:
		if !slices.ContainsFunc(cart.Items, func(it Item) bool { return slices.Contains(rule.ProductIDs, it.ProductID) }) {
			fail(MsgNoEligibleProducts)
		}
	case ScopeCategory:
		if !slices.ContainsFunc(cart.Items, func(it Item) bool { return inCategories(it, rule.CategoryIDs) }) {
			fail(MsgNoEligibleCategory)
		}
	}

	if rule.RequiresManagerApproval {
		warn(MsgManagerApproval)
	}

	if rule.DiscountType == DiscountPercentage && rule.MaximumDiscountAmount != nil {
		capAmount := *rule.MaximumDiscountAmount
		res.MaxDiscountAmount = &capAmount
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func inCategories(item Item, categories []string) bool {
	for _, c := range item.CategoryIDs {
		if slices.Contains(categories, c) {
			return true
		}
	}
	return false
}

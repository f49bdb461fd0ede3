package discount

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func ptr[T any](v T) *T { return &v }

// saturdayNoon is 2025-06-14 12:00 UTC, a Saturday.
var saturdayNoon = time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)

func baseRule() *Rule {
	return &Rule{
		ID:            "r1",
		CompanyID:     "c1",
		Name:          "Ten off",
		DiscountType:  DiscountPercentage,
		DiscountValue: d("10"),
		AppliesTo:     ScopeOrder,
		UsageLimit:    UsageUnlimited,
		IsActive:      true,
	}
}

func twoItemCart() Cart {
	return Cart{
		Items: []Item{
			{ProductID: "A", Quantity: 2, Subtotal: d("100"), CategoryIDs: []string{"drinks"}},
			{ProductID: "B", Quantity: 1, Subtotal: d("50")},
		},
		Subtotal: d("150"),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(r *Rule)
		cart         Cart
		ctx          Context
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name: "plain active rule is valid",
		},
		{
			name:       "inactive",
			mutate:     func(r *Rule) { r.IsActive = false },
			wantErrors: []string{MsgInactive},
		},
		{
			name:       "other branch",
			mutate:     func(r *Rule) { r.BranchID = "b2" },
			ctx:        Context{BranchID: "b1"},
			wantErrors: []string{MsgWrongBranch},
		},
		{
			name:   "matching branch",
			mutate: func(r *Rule) { r.BranchID = "b1" },
			ctx:    Context{BranchID: "b1"},
		},
		{
			name:       "not started",
			mutate:     func(r *Rule) { r.StartDate = ptr(saturdayNoon.Add(time.Hour)) },
			wantErrors: []string{MsgNotStarted},
		},
		{
			name:       "expired",
			mutate:     func(r *Rule) { r.EndDate = ptr(saturdayNoon.Add(-time.Hour)) },
			wantErrors: []string{MsgExpired},
		},
		{
			name: "window bounds are inclusive",
			mutate: func(r *Rule) {
				r.StartDate = ptr(saturdayNoon)
				r.EndDate = ptr(saturdayNoon)
				r.ValidHours = &TimeWindow{Start: "12:00", End: "12:00"}
			},
		},
		{
			name:       "outside hours",
			mutate:     func(r *Rule) { r.ValidHours = &TimeWindow{Start: "14:00", End: "18:00"} },
			wantErrors: []string{MsgOutsideHours},
		},
		{
			name:       "window wrapping midnight never matches",
			mutate:     func(r *Rule) { r.ValidHours = &TimeWindow{Start: "22:00", End: "13:00"} },
			wantErrors: []string{MsgOutsideHours},
		},
		{
			name:       "wrong weekday",
			mutate:     func(r *Rule) { r.ValidDays = []time.Weekday{time.Monday, time.Tuesday} },
			wantErrors: []string{MsgWrongDay},
		},
		{
			name:   "saturday allowed",
			mutate: func(r *Rule) { r.ValidDays = []time.Weekday{time.Saturday} },
		},
		{
			name:       "below minimum order",
			mutate:     func(r *Rule) { r.MinimumOrderAmount = ptr(d("200")) },
			wantErrors: []string{"Minimum order amount of 200.00 required"},
		},
		{
			name:       "below minimum quantity",
			mutate:     func(r *Rule) { r.MinimumQuantity = ptr(4) },
			wantErrors: []string{"Minimum quantity of 4 items required"},
		},
		{
			name: "usage exhausted",
			mutate: func(r *Rule) {
				r.UsageLimit = UsageLimited
				r.MaxUses = ptr(10)
				r.CurrentUses = 10
			},
			wantErrors: []string{MsgUsageExhausted},
		},
		{
			name: "usage near cap warns",
			mutate: func(r *Rule) {
				r.UsageLimit = UsageLimited
				r.MaxUses = ptr(10)
				r.CurrentUses = 9
			},
			wantWarnings: []string{MsgUsageNearlyExceeded},
		},
		{
			name: "limited without max uses is uncapped",
			mutate: func(r *Rule) {
				r.UsageLimit = UsageLimited
				r.CurrentUses = 1000
			},
		},
		{
			name: "customer not on allow list",
			mutate: func(r *Rule) {
				r.AllowedCustomerIDs = []string{"vip"}
			},
			ctx:        Context{CustomerID: "walk-in"},
			wantErrors: []string{MsgCustomerNotAllowed},
		},
		{
			name: "customer lists ignored without customer",
			mutate: func(r *Rule) {
				r.AllowedCustomerIDs = []string{"vip"}
			},
		},
		{
			name: "deny wins over allow",
			mutate: func(r *Rule) {
				r.AllowedCustomerIDs = []string{"cust"}
				r.ExcludedCustomerIDs = []string{"cust"}
			},
			ctx:        Context{CustomerID: "cust"},
			wantErrors: []string{MsgCustomerExcluded},
		},
		{
			name: "per customer cap reached",
			mutate: func(r *Rule) {
				r.UsageLimit = UsageLimited
				r.MaxUsesPerCustomer = ptr(1)
			},
			ctx:        Context{CustomerID: "cust", CustomerUses: ptr(1)},
			wantErrors: []string{MsgCustomerUsage},
		},
		{
			name: "no eligible product",
			mutate: func(r *Rule) {
				r.AppliesTo = ScopeProduct
				r.ProductIDs = []string{"Z"}
			},
			wantErrors: []string{MsgNoEligibleProducts},
		},
		{
			name: "no eligible category",
			mutate: func(r *Rule) {
				r.AppliesTo = ScopeCategory
				r.CategoryIDs = []string{"food"}
			},
			wantErrors: []string{MsgNoEligibleCategory},
		},
		{
			name: "eligible category",
			mutate: func(r *Rule) {
				r.AppliesTo = ScopeCategory
				r.CategoryIDs = []string{"drinks"}
			},
		},
		{
			name:         "manager approval warns",
			mutate:       func(r *Rule) { r.RequiresManagerApproval = true },
			wantWarnings: []string{MsgManagerApproval},
		},
		{
			name: "all failures collected",
			mutate: func(r *Rule) {
				r.IsActive = false
				r.EndDate = ptr(saturdayNoon.Add(-time.Hour))
				r.MinimumQuantity = ptr(10)
			},
			wantErrors: []string{MsgInactive, MsgExpired, "Minimum quantity of 10 items required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := baseRule()
			if tt.mutate != nil {
				tt.mutate(rule)
			}
			cart := tt.cart
			if cart.Items == nil {
				cart = twoItemCart()
			}
			vc := tt.ctx
			vc.Now = saturdayNoon

			res := Validate(rule, cart, vc)

			assert.Equal(t, tt.wantErrors, res.Errors)
			assert.Equal(t, tt.wantWarnings, res.Warnings)
			assert.Equal(t, len(tt.wantErrors) == 0, res.Valid)
		})
	}
}

func TestValidate_MaxDiscountAmount(t *testing.T) {
	rule := baseRule()
	rule.MaximumDiscountAmount = ptr(d("5"))

	res := Validate(rule, twoItemCart(), Context{Now: saturdayNoon})
	require.NotNil(t, res.MaxDiscountAmount)
	assert.True(t, d("5").Equal(*res.MaxDiscountAmount))

	rule.DiscountType = DiscountFixed
	res = Validate(rule, twoItemCart(), Context{Now: saturdayNoon})
	assert.Nil(t, res.MaxDiscountAmount)
}

func TestValidate_UsageCapFailsRegardless(t *testing.T) {
	rule := baseRule()
	rule.UsageLimit = UsageLimited
	rule.MaxUses = ptr(3)
	rule.CurrentUses = 3

	res := Validate(rule, twoItemCart(), Context{Now: saturdayNoon, CustomerID: "c"})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, MsgUsageExhausted)
}

func TestNotFound(t *testing.T) {
	res := NotFound()
	assert.False(t, res.Valid)
	assert.Equal(t, []string{MsgNotFound}, res.Errors)
}

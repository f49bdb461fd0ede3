// Package discount implements the point-of-sale discount engine: rule
// eligibility, per-rule amount calculation, multi-rule combination and usage
// accounting.
package discount

import (
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates how a rule's value is interpreted.
type DiscountType string

const (
	// DiscountPercentage reduces the eligible base by Value percent.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed reduces the eligible base by the monetary Value.
	DiscountFixed DiscountType = "fixed"
)

// Scope enumerates which part of the cart a rule reduces.
type Scope string

const (
	// ScopeOrder discounts the whole order subtotal.
	ScopeOrder Scope = "order"
	// ScopeProduct discounts items whose product is listed on the rule.
	ScopeProduct Scope = "product"
	// ScopeCategory discounts items belonging to a category listed on the rule.
	ScopeCategory Scope = "category"
)

// UsageLimit enumerates whether redemptions of a rule are capped.
type UsageLimit string

const (
	UsageUnlimited UsageLimit = "unlimited"
	UsageLimited   UsageLimit = "limited"
)

var (
	// ErrRuleNotFound is returned by stores when a rule id does not exist.
	ErrRuleNotFound = errors.New("discount not found")
	// ErrUsageLimitReached is returned by IncrementUsage when the rule's
	// lifetime cap is already exhausted.
	ErrUsageLimitReached = errors.New("discount usage limit reached")
	// ErrInvalidRequest is returned for malformed engine inputs, such as an
	// empty rule or sale id.
	ErrInvalidRequest = errors.New("invalid request")
)

// TimeWindow is a time-of-day window expressed as zero-padded "HH:MM"
// strings. Both ends are inclusive and compared lexicographically.
type TimeWindow struct {
	Start string
	End   string
}

// Rule is a configured discount policy. Optional conditions are nil when
// unset; AppliesTo and UsageLimit select which of the optional fields matter.
type Rule struct {
	ID          string
	CompanyID   string
	BranchID    string // empty means every branch
	Name        string
	NameLocal   string
	Description string

	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	AppliesTo     Scope
	ProductIDs    []string
	CategoryIDs   []string

	MinimumOrderAmount    *decimal.Decimal
	MinimumQuantity       *int
	MaximumDiscountAmount *decimal.Decimal

	StartDate  *time.Time
	EndDate    *time.Time
	ValidDays  []time.Weekday
	ValidHours *TimeWindow

	UsageLimit         UsageLimit
	MaxUses            *int
	MaxUsesPerCustomer *int
	CurrentUses        int
	LastUsedAt         *time.Time

	AllowedCustomerIDs  []string
	ExcludedCustomerIDs []string

	CanCombineWithOthers bool
	ExcludedDiscountIDs  []string

	IsActive                bool
	RequiresManagerApproval bool
	CreatedBy               string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Limited reports whether the rule enforces a lifetime usage cap.
func (r *Rule) Limited() bool {
	return r.UsageLimit == UsageLimited && r.MaxUses != nil
}

// Excludes reports whether the rule declares id as never combinable with it.
func (r *Rule) Excludes(id string) bool {
	return slices.Contains(r.ExcludedDiscountIDs, id)
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	c := *r
	c.ProductIDs = slices.Clone(r.ProductIDs)
	c.CategoryIDs = slices.Clone(r.CategoryIDs)
	c.ValidDays = slices.Clone(r.ValidDays)
	c.AllowedCustomerIDs = slices.Clone(r.AllowedCustomerIDs)
	c.ExcludedCustomerIDs = slices.Clone(r.ExcludedCustomerIDs)
	c.ExcludedDiscountIDs = slices.Clone(r.ExcludedDiscountIDs)
	return &c
}

// Item is one cart line as seen by the engine.
type Item struct {
	ProductID   string
	Quantity    int
	Subtotal    decimal.Decimal
	CategoryIDs []string
}

// Cart is an immutable snapshot of the sale being priced.
type Cart struct {
	Items    []Item
	Subtotal decimal.Decimal
}

// TotalQuantity returns the sum of quantities across all items.
func (c Cart) TotalQuantity() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// AppliedDiscount records one rule's effect within one calculation.
type AppliedDiscount struct {
	RuleID        string
	Name          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	Amount        decimal.Decimal
	AppliesTo     Scope
	ItemIDs       []string
}

// CalculationResult is the aggregate outcome of one calculation.
type CalculationResult struct {
	OriginalAmount   decimal.Decimal
	DiscountAmount   decimal.Decimal
	FinalAmount      decimal.Decimal
	AppliedDiscounts []AppliedDiscount
	Savings          decimal.Decimal
}

// UsageRecord is an append-only fact about one redemption.
type UsageRecord struct {
	ID         string
	RuleID     string
	SaleID     string
	CustomerID string
	Amount     decimal.Decimal
	OrderTotal decimal.Decimal
	UsedAt     time.Time
}

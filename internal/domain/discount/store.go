package discount

import (
	"context"
	"time"
)

// ListFilter narrows ListRules. Zero values do not filter.
type ListFilter struct {
	// BranchID keeps rules for that branch plus rules valid in every branch.
	BranchID   string
	ActiveOnly bool
	AppliesTo  Scope
}

// Match reports whether rule passes the filter. Stores that cannot push
// filtering down to a query use it directly.
func (f ListFilter) Match(rule *Rule) bool {
	if f.BranchID != "" && rule.BranchID != "" && rule.BranchID != f.BranchID {
		return false
	}
	if f.ActiveOnly && !rule.IsActive {
		return false
	}
	if f.AppliesTo != "" && rule.AppliesTo != f.AppliesTo {
		return false
	}
	return true
}

// Repository is the Rule Store the engine reads rules and usage from.
//
// IncrementUsage must be a single atomic operation at the store: it
// increments CurrentUses by exactly one and stamps LastUsedAt, or returns
// ErrUsageLimitReached when a limited rule is already at MaxUses. It returns
// the new usage count.
//
// ReleaseUsage gives back one use taken by IncrementUsage whose usage record
// could not be written. The counter never drops below zero.
type Repository interface {
	GetRule(ctx context.Context, id string) (*Rule, error)
	ListRules(ctx context.Context, companyID string, filter ListFilter) ([]Rule, error)
	IncrementUsage(ctx context.Context, id string, at time.Time) (int, error)
	ReleaseUsage(ctx context.Context, id string) error
	AppendUsageRecord(ctx context.Context, rec UsageRecord) error
	ListUsageRecords(ctx context.Context, ruleID string) ([]UsageRecord, error)
	CountCustomerUses(ctx context.Context, ruleID, customerID string) (int, error)
}

// RuleWriter is implemented by stores that accept rule upserts.
type RuleWriter interface {
	SaveRule(ctx context.Context, rule *Rule) error
}

// CategoryResolver maps product ids to the categories they belong to. It is
// consulted for cart items that carry no category data of their own.
type CategoryResolver interface {
	CategoriesFor(ctx context.Context, productIDs []string) (map[string][]string, error)
}

// CategoryWriter is implemented by stores that keep product categories.
type CategoryWriter interface {
	SaveCategories(ctx context.Context, productID string, categoryIDs []string) error
}

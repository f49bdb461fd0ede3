// Package storetest holds the behaviour every discount store must share.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/discount-engine/internal/domain/discount"
)

// Store is a repository that also accepts rule upserts.
type Store interface {
	discount.Repository
	discount.RuleWriter
}

func ptr[T any](v T) *T { return &v }

// Rule returns a fully populated rule owned by company c1.
func Rule(id string) *discount.Rule {
	created := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	return &discount.Rule{
		ID:                    id,
		CompanyID:             "c1",
		Name:                  "Rule " + id,
		NameLocal:             "Regla " + id,
		Description:           "test rule",
		DiscountType:          discount.DiscountPercentage,
		DiscountValue:         decimal.RequireFromString("12.5"),
		AppliesTo:             discount.ScopeProduct,
		ProductIDs:            []string{"A", "B"},
		CategoryIDs:           []string{},
		MinimumOrderAmount:    ptr(decimal.RequireFromString("10.00")),
		MinimumQuantity:       ptr(2),
		MaximumDiscountAmount: ptr(decimal.RequireFromString("25.00")),
		StartDate:             ptr(created),
		EndDate:               ptr(created.AddDate(1, 0, 0)),
		ValidDays:             []time.Weekday{time.Monday, time.Friday},
		ValidHours:            &discount.TimeWindow{Start: "09:00", End: "17:30"},
		UsageLimit:            discount.UsageUnlimited,
		AllowedCustomerIDs:    []string{"alice"},
		ExcludedCustomerIDs:   []string{"mallory"},
		CanCombineWithOthers:  true,
		ExcludedDiscountIDs:   []string{"other"},
		IsActive:              true,
		CreatedBy:             "admin",
		CreatedAt:             created,
		UpdatedAt:             created,
	}
}

// Run exercises s against the shared contract. s must start empty.
func Run(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("GetRuleNotFound", func(t *testing.T) {
		_, err := s.GetRule(ctx, "missing")
		require.ErrorIs(t, err, discount.ErrRuleNotFound)
	})

	t.Run("SaveAndGet", func(t *testing.T) {
		want := Rule("roundtrip")
		require.NoError(t, s.SaveRule(ctx, want))

		got, err := s.GetRule(ctx, "roundtrip")
		require.NoError(t, err)
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.NameLocal, got.NameLocal)
		assert.Equal(t, want.DiscountType, got.DiscountType)
		assert.True(t, want.DiscountValue.Equal(got.DiscountValue))
		assert.Equal(t, want.ProductIDs, got.ProductIDs)
		assert.Equal(t, want.ValidDays, got.ValidDays)
		assert.Equal(t, want.ValidHours, got.ValidHours)
		require.NotNil(t, got.MinimumOrderAmount)
		assert.True(t, want.MinimumOrderAmount.Equal(*got.MinimumOrderAmount))
		require.NotNil(t, got.MinimumQuantity)
		assert.Equal(t, 2, *got.MinimumQuantity)
		require.NotNil(t, got.EndDate)
		assert.True(t, want.EndDate.Equal(*got.EndDate))
		assert.Equal(t, want.AllowedCustomerIDs, got.AllowedCustomerIDs)
		assert.Equal(t, want.ExcludedCustomerIDs, got.ExcludedCustomerIDs)
		assert.Equal(t, want.ExcludedDiscountIDs, got.ExcludedDiscountIDs)
		assert.True(t, got.CanCombineWithOthers)
		assert.Nil(t, got.MaxUses)
	})

	t.Run("ListRulesFilters", func(t *testing.T) {
		branch := Rule("list-branch")
		branch.CompanyID = "c-list"
		branch.BranchID = "b1"
		other := Rule("list-other")
		other.CompanyID = "c-list"
		other.BranchID = "b2"
		inactive := Rule("list-inactive")
		inactive.CompanyID = "c-list"
		inactive.IsActive = false
		inactive.AppliesTo = discount.ScopeOrder
		foreign := Rule("list-foreign")
		foreign.CompanyID = "c-else"
		for _, r := range []*discount.Rule{branch, other, inactive, foreign} {
			require.NoError(t, s.SaveRule(ctx, r))
		}

		all, err := s.ListRules(ctx, "c-list", discount.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		b1, err := s.ListRules(ctx, "c-list", discount.ListFilter{BranchID: "b1", ActiveOnly: true})
		require.NoError(t, err)
		require.Len(t, b1, 1)
		assert.Equal(t, "list-branch", b1[0].ID)

		orders, err := s.ListRules(ctx, "c-list", discount.ListFilter{AppliesTo: discount.ScopeOrder})
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, "list-inactive", orders[0].ID)

		none, err := s.ListRules(ctx, "c-none", discount.ListFilter{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("IncrementUsage", func(t *testing.T) {
		r := Rule("inc")
		r.UsageLimit = discount.UsageLimited
		r.MaxUses = ptr(2)
		require.NoError(t, s.SaveRule(ctx, r))

		at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		n, err := s.IncrementUsage(ctx, "inc", at)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.IncrementUsage(ctx, "inc", at)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = s.IncrementUsage(ctx, "inc", at)
		require.ErrorIs(t, err, discount.ErrUsageLimitReached)

		got, err := s.GetRule(ctx, "inc")
		require.NoError(t, err)
		assert.Equal(t, 2, got.CurrentUses)
		require.NotNil(t, got.LastUsedAt)
		assert.True(t, at.Equal(*got.LastUsedAt))

		_, err = s.IncrementUsage(ctx, "inc-missing", at)
		require.ErrorIs(t, err, discount.ErrRuleNotFound)
	})

	t.Run("ReleaseUsage", func(t *testing.T) {
		r := Rule("release")
		r.UsageLimit = discount.UsageLimited
		r.MaxUses = ptr(1)
		require.NoError(t, s.SaveRule(ctx, r))

		_, err := s.IncrementUsage(ctx, "release", time.Now())
		require.NoError(t, err)
		require.NoError(t, s.ReleaseUsage(ctx, "release"))

		n, err := s.IncrementUsage(ctx, "release", time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, s.ReleaseUsage(ctx, "release"))
		require.NoError(t, s.ReleaseUsage(ctx, "release"))
		got, err := s.GetRule(ctx, "release")
		require.NoError(t, err)
		assert.Equal(t, 0, got.CurrentUses)
	})

	t.Run("SaveKeepsUsage", func(t *testing.T) {
		r := Rule("keep")
		require.NoError(t, s.SaveRule(ctx, r))
		_, err := s.IncrementUsage(ctx, "keep", time.Now())
		require.NoError(t, err)

		r.Name = "renamed"
		require.NoError(t, s.SaveRule(ctx, r))

		got, err := s.GetRule(ctx, "keep")
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.Equal(t, 1, got.CurrentUses)
	})

	t.Run("ConcurrentIncrementAtCap", func(t *testing.T) {
		r := Rule("race")
		r.UsageLimit = discount.UsageLimited
		r.MaxUses = ptr(1)
		require.NoError(t, s.SaveRule(ctx, r))

		const workers = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			rejected  int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.IncrementUsage(ctx, "race", time.Now())
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, discount.ErrUsageLimitReached):
					rejected++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, rejected)

		got, err := s.GetRule(ctx, "race")
		require.NoError(t, err)
		assert.Equal(t, 1, got.CurrentUses)
	})

	t.Run("UsageRecords", func(t *testing.T) {
		require.NoError(t, s.SaveRule(ctx, Rule("rec")))
		base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
		records := []discount.UsageRecord{
			{ID: "u1", RuleID: "rec", SaleID: "s1", CustomerID: "alice", Amount: decimal.RequireFromString("5.50"), OrderTotal: decimal.RequireFromString("55.00"), UsedAt: base},
			{ID: "u2", RuleID: "rec", SaleID: "s2", CustomerID: "bob", Amount: decimal.RequireFromString("1.00"), UsedAt: base.Add(time.Hour)},
			{ID: "u3", RuleID: "rec", SaleID: "s3", CustomerID: "alice", Amount: decimal.RequireFromString("2.25"), UsedAt: base.Add(2 * time.Hour)},
		}
		for _, rec := range records {
			require.NoError(t, s.AppendUsageRecord(ctx, rec))
		}

		got, err := s.ListUsageRecords(ctx, "rec")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "u1", got[0].ID)
		assert.Equal(t, "s1", got[0].SaleID)
		assert.True(t, decimal.RequireFromString("5.50").Equal(got[0].Amount))
		assert.True(t, decimal.RequireFromString("55").Equal(got[0].OrderTotal))
		assert.True(t, base.Equal(got[0].UsedAt))
		assert.Equal(t, "u3", got[2].ID)

		n, err := s.CountCustomerUses(ctx, "rec", "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = s.CountCustomerUses(ctx, "rec", "carol")
		require.NoError(t, err)
		assert.Zero(t, n)

		empty, err := s.ListUsageRecords(ctx, "no-usage")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

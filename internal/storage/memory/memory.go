// Package memory provides an in-process discount store for tests and
// single-instance deployments.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xenking/discount-engine/internal/domain/discount"
)

var (
	_ discount.Repository       = (*Store)(nil)
	_ discount.RuleWriter       = (*Store)(nil)
	_ discount.CategoryResolver = (*Store)(nil)
)

// Store implements discount.Repository in memory.
// Thread-safe via RWMutex; callers always receive copies.
type Store struct {
	mu         sync.RWMutex
	rules      map[string]*discount.Rule
	usage      map[string][]discount.UsageRecord
	categories map[string][]string
}

func New() *Store {
	return &Store{
		rules:      make(map[string]*discount.Rule),
		usage:      make(map[string][]discount.UsageRecord),
		categories: make(map[string][]string),
	}
}

func (s *Store) GetRule(_ context.Context, id string) (*discount.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, discount.ErrRuleNotFound
	}
	return r.Clone(), nil
}

func (s *Store) ListRules(_ context.Context, companyID string, filter discount.ListFilter) ([]discount.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]discount.Rule, 0)
	for _, r := range s.rules {
		if r.CompanyID != companyID || !filter.Match(r) {
			continue
		}
		rules = append(rules, *r.Clone())
	}
	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

// IncrementUsage checks the cap and bumps the counter under one write lock.
func (s *Store) IncrementUsage(_ context.Context, id string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return 0, discount.ErrRuleNotFound
	}
	if r.Limited() && r.CurrentUses >= *r.MaxUses {
		return r.CurrentUses, discount.ErrUsageLimitReached
	}
	r.CurrentUses++
	r.LastUsedAt = &at
	return r.CurrentUses, nil
}

func (s *Store) ReleaseUsage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return discount.ErrRuleNotFound
	}
	if r.CurrentUses > 0 {
		r.CurrentUses--
	}
	return nil
}

func (s *Store) AppendUsageRecord(_ context.Context, rec discount.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[rec.RuleID] = append(s.usage[rec.RuleID], rec)
	return nil
}

func (s *Store) ListUsageRecords(_ context.Context, ruleID string) ([]discount.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.usage[ruleID]), nil
}

func (s *Store) CountCustomerUses(_ context.Context, ruleID, customerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.usage[ruleID] {
		if rec.CustomerID == customerID {
			n++
		}
	}
	return n, nil
}

// SaveRule inserts or replaces a rule. CurrentUses and LastUsedAt of an
// existing rule are preserved.
func (s *Store) SaveRule(_ context.Context, rule *discount.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := rule.Clone()
	if prev, ok := s.rules[rule.ID]; ok {
		c.CurrentUses = prev.CurrentUses
		c.LastUsedAt = prev.LastUsedAt
	}
	s.rules[rule.ID] = c
	return nil
}

// SaveCategories replaces the category set of one product.
func (s *Store) SaveCategories(_ context.Context, productID string, categoryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[productID] = slices.Clone(categoryIDs)
	return nil
}

func (s *Store) CategoriesFor(_ context.Context, productIDs []string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(productIDs))
	for _, id := range productIDs {
		if c, ok := s.categories[id]; ok {
			out[id] = slices.Clone(c)
		}
	}
	return out, nil
}

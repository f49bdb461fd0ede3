package rulepack

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/discount-engine/internal/domain/discount"
	"github.com/xenking/discount-engine/internal/storage/memory"
)

const samplePack = `
company_id: acme
categories:
  beans: [coffee, grocery]
  croissant: [bakery]
rules:
  - id: happy-hour
    name: Happy hour
    type: percentage
    value: 15
    maximum_discount_amount: "20.50"
    valid_days: [mon, Tuesday, 3]
    valid_hours: {start: "16:00", end: "18:00"}
    can_combine_with_others: true
  - id: bakery-5
    company_id: other
    branch_id: b1
    name: Bakery five off
    type: fixed
    value: 5
    applies_to: category
    category_ids: [bakery]
    usage_limit: limited
    max_uses: 100
    max_uses_per_customer: 2
    start_date: "2025-01-01"
    end_date: "2025-12-31"
    is_active: false
`

var now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func TestLoadAndBuild(t *testing.T) {
	p, err := Load(strings.NewReader(samplePack))
	require.NoError(t, err)
	require.Len(t, p.Rules, 2)

	rules, err := p.Build(now)
	require.NoError(t, err)

	hh := rules[0]
	assert.Equal(t, "acme", hh.CompanyID)
	assert.Equal(t, discount.ScopeOrder, hh.AppliesTo)
	assert.Equal(t, discount.UsageUnlimited, hh.UsageLimit)
	assert.True(t, hh.IsActive)
	assert.True(t, hh.DiscountValue.Equal(decimal.NewFromInt(15)))
	require.NotNil(t, hh.MaximumDiscountAmount)
	assert.Equal(t, "20.5", hh.MaximumDiscountAmount.String())
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday}, hh.ValidDays)
	assert.Equal(t, &discount.TimeWindow{Start: "16:00", End: "18:00"}, hh.ValidHours)
	assert.Equal(t, now, hh.CreatedAt)

	bakery := rules[1]
	assert.Equal(t, "other", bakery.CompanyID)
	assert.False(t, bakery.IsActive)
	assert.True(t, bakery.CanCombineWithOthers)
	assert.True(t, bakery.Limited())
	assert.Equal(t, 2, *bakery.MaxUsesPerCustomer)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *bakery.StartDate)
	assert.Equal(t, time.Date(2025, 12, 31, 23, 59, 59, 999999999, time.UTC), *bakery.EndDate)
}

func TestBuild_CombineDefault(t *testing.T) {
	const pack = `
company_id: acme
rules:
  - {id: ten, type: percentage, value: 10}
  - {id: five, type: fixed, value: 5}
  - {id: solo, type: fixed, value: 1, can_combine_with_others: false}
`
	p, err := Load(strings.NewReader(pack))
	require.NoError(t, err)
	rules, err := p.Build(now)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.True(t, rules[0].CanCombineWithOthers)
	assert.True(t, rules[1].CanCombineWithOthers)
	assert.False(t, rules[2].CanCombineWithOthers)

	res := discount.Combine(rules[:2], discount.Cart{Subtotal: decimal.NewFromInt(200)})
	assert.Len(t, res.AppliedDiscounts, 2)
	assert.True(t, decimal.NewFromInt(25).Equal(res.DiscountAmount), res.DiscountAmount.String())
}

func TestBuild_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing id", yaml: "company_id: a\nrules: [{type: fixed, value: 1}]"},
		{name: "missing company", yaml: "rules: [{id: r, type: fixed, value: 1}]"},
		{name: "unknown type", yaml: "company_id: a\nrules: [{id: r, type: bogo, value: 1}]"},
		{name: "percentage above 100", yaml: "company_id: a\nrules: [{id: r, type: percentage, value: 101}]"},
		{name: "negative", yaml: "company_id: a\nrules: [{id: r, type: fixed, value: -1}]"},
		{name: "bad scope", yaml: "company_id: a\nrules: [{id: r, type: fixed, value: 1, applies_to: basket}]"},
		{name: "bad hours", yaml: "company_id: a\nrules: [{id: r, type: fixed, value: 1, valid_hours: {start: '9:00', end: '18:00'}}]"},
		{name: "bad date", yaml: "company_id: a\nrules: [{id: r, type: fixed, value: 1, start_date: tomorrow}]"},
		{name: "duplicate", yaml: "company_id: a\nrules: [{id: r, type: fixed, value: 1}, {id: r, type: fixed, value: 2}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Load(strings.NewReader(tt.yaml))
			require.NoError(t, err)
			_, err = p.Build(now)
			assert.Error(t, err)
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown key", yaml: "rules: [{id: r, colour: red}]"},
		{name: "bad amount", yaml: "rules: [{id: r, value: ten}]"},
		{name: "bad weekday", yaml: "rules: [{id: r, valid_days: [funday]}]"},
		{name: "weekday out of range", yaml: "rules: [{id: r, valid_days: [7]}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	p, err := Load(strings.NewReader(samplePack))
	require.NoError(t, err)

	store := memory.New()
	res, err := p.Seed(ctx, store, store, now)
	require.NoError(t, err)
	assert.Equal(t, Result{Rules: 2, Products: 2}, res)

	got, err := store.GetRule(ctx, "bakery-5")
	require.NoError(t, err)
	assert.Equal(t, "Bakery five off", got.Name)

	cats, err := store.CategoriesFor(ctx, []string{"beans"})
	require.NoError(t, err)
	assert.Equal(t, []string{"coffee", "grocery"}, cats["beans"])
}

func TestShippedPack(t *testing.T) {
	p, err := LoadFile("../../db/seed/rules.yaml")
	require.NoError(t, err)
	rules, err := p.Build(now)
	require.NoError(t, err)
	assert.NotEmpty(t, rules)
}

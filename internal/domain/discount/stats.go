package discount

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const topCustomersLimit = 5

// CustomerUsage aggregates redemptions by one customer.
type CustomerUsage struct {
	CustomerID string
	Uses       int
	Savings    decimal.Decimal
}

// DailyUsage aggregates redemptions on one calendar day (YYYY-MM-DD).
type DailyUsage struct {
	Date    string
	Uses    int
	Savings decimal.Decimal
}

// Stats are reporting metrics for one rule derived from its usage records.
//
// ConversionRate needs order-level context the engine does not store and is
// always zero. AverageOrderValue only counts records that carry an order
// total; TopCustomers only counts records that carry a customer id.
type Stats struct {
	RuleID            string
	Name              string
	CurrentUses       int
	TotalUses         int
	TotalSavings      decimal.Decimal
	AverageSavings    decimal.Decimal
	AverageOrderValue decimal.Decimal
	ConversionRate    decimal.Decimal
	TopCustomers      []CustomerUsage
	UsageByDate       []DailyUsage
}

// Aggregate derives Stats for rule from its usage records. Dates are bucketed
// in loc, or UTC when loc is nil.
func Aggregate(rule *Rule, records []UsageRecord, loc *time.Location) Stats {
	if loc == nil {
		loc = time.UTC
	}

	st := Stats{
		RuleID:            rule.ID,
		Name:              rule.Name,
		CurrentUses:       rule.CurrentUses,
		TotalUses:         len(records),
		TotalSavings:      zero,
		AverageSavings:    zero,
		AverageOrderValue: zero,
		ConversionRate:    zero,
		TopCustomers:      []CustomerUsage{},
		UsageByDate:       []DailyUsage{},
	}
	if len(records) == 0 {
		return st
	}

	var (
		orderSum   = zero
		orderCount int64
		byCustomer = make(map[string]*CustomerUsage)
		byDate     = make(map[string]*DailyUsage)
	)
	for _, rec := range records {
		amount := floorAtZero(rec.Amount)
		st.TotalSavings = st.TotalSavings.Add(amount)

		if rec.OrderTotal.IsPositive() {
			orderSum = orderSum.Add(rec.OrderTotal)
			orderCount++
		}

		if rec.CustomerID != "" {
			cu, ok := byCustomer[rec.CustomerID]
			if !ok {
				cu = &CustomerUsage{CustomerID: rec.CustomerID, Savings: zero}
				byCustomer[rec.CustomerID] = cu
			}
			cu.Uses++
			cu.Savings = cu.Savings.Add(amount)
		}

		day := rec.UsedAt.In(loc).Format(time.DateOnly)
		du, ok := byDate[day]
		if !ok {
			du = &DailyUsage{Date: day, Savings: zero}
			byDate[day] = du
		}
		du.Uses++
		du.Savings = du.Savings.Add(amount)
	}

	st.AverageSavings = st.TotalSavings.Div(decimal.NewFromInt(int64(len(records)))).Round(2)
	if orderCount > 0 {
		st.AverageOrderValue = orderSum.Div(decimal.NewFromInt(orderCount)).Round(2)
	}

	for _, cu := range byCustomer {
		st.TopCustomers = append(st.TopCustomers, *cu)
	}
	sort.Slice(st.TopCustomers, func(i, j int) bool {
		a, b := st.TopCustomers[i], st.TopCustomers[j]
		if a.Uses != b.Uses {
			return a.Uses > b.Uses
		}
		if !a.Savings.Equal(b.Savings) {
			return a.Savings.GreaterThan(b.Savings)
		}
		return a.CustomerID < b.CustomerID
	})
	if len(st.TopCustomers) > topCustomersLimit {
		st.TopCustomers = st.TopCustomers[:topCustomersLimit]
	}

	for _, du := range byDate {
		st.UsageByDate = append(st.UsageByDate, *du)
	}
	sort.Slice(st.UsageByDate, func(i, j int) bool {
		return st.UsageByDate[i].Date < st.UsageByDate[j].Date
	})

	return st
}

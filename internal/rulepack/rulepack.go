// Package rulepack loads discount rules and product categories from YAML
// files, used to seed stores.
package rulepack

import (
	"context"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xenking/discount-engine/internal/domain/discount"
)

// Pack is a YAML rule pack.
//
//	company_id: acme
//	categories:
//	  coffee-beans: [coffee, grocery]
//	rules:
//	  - id: happy-hour
//	    name: Happy hour
//	    type: percentage
//	    value: 15
//	    valid_hours: {start: "16:00", end: "18:00"}
type Pack struct {
	// CompanyID is the default for rules that do not set one.
	CompanyID string `yaml:"company_id"`
	// Categories maps product ids to their category ids.
	Categories map[string][]string `yaml:"categories"`
	Rules      []Rule              `yaml:"rules"`
}

// Rule is the YAML form of discount.Rule.
type Rule struct {
	ID          string `yaml:"id"`
	CompanyID   string `yaml:"company_id"`
	BranchID    string `yaml:"branch_id"`
	Name        string `yaml:"name"`
	NameLocal   string `yaml:"name_local"`
	Description string `yaml:"description"`

	Type        string   `yaml:"type"`
	Value       Amount   `yaml:"value"`
	AppliesTo   string   `yaml:"applies_to"`
	ProductIDs  []string `yaml:"product_ids"`
	CategoryIDs []string `yaml:"category_ids"`

	MinimumOrderAmount    *Amount `yaml:"minimum_order_amount"`
	MinimumQuantity       *int    `yaml:"minimum_quantity"`
	MaximumDiscountAmount *Amount `yaml:"maximum_discount_amount"`

	StartDate  string      `yaml:"start_date"`
	EndDate    string      `yaml:"end_date"`
	ValidDays  []Weekday   `yaml:"valid_days"`
	ValidHours *TimeWindow `yaml:"valid_hours"`

	UsageLimit         string `yaml:"usage_limit"`
	MaxUses            *int   `yaml:"max_uses"`
	MaxUsesPerCustomer *int   `yaml:"max_uses_per_customer"`

	AllowedCustomerIDs  []string `yaml:"allowed_customer_ids"`
	ExcludedCustomerIDs []string `yaml:"excluded_customer_ids"`

	// CanCombineWithOthers defaults to true.
	CanCombineWithOthers *bool    `yaml:"can_combine_with_others"`
	ExcludedDiscountIDs  []string `yaml:"excluded_discount_ids"`

	// IsActive defaults to true.
	IsActive                *bool  `yaml:"is_active"`
	RequiresManagerApproval bool   `yaml:"requires_manager_approval"`
	CreatedBy               string `yaml:"created_by"`
}

// TimeWindow is an "HH:MM" window.
type TimeWindow struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Amount is a decimal scalar, written as a number or a quoted string.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: expected a number", node.Line)
	}
	d, err := decimal.NewFromString(node.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	a.Decimal = d
	return nil
}

// Weekday accepts 0-6 (Sunday first) or an English day name.
type Weekday time.Weekday

func (w *Weekday) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: expected a weekday", node.Line)
	}
	if n, err := strconv.Atoi(node.Value); err == nil {
		if n < 0 || n > 6 {
			return errors.Errorf("line %d: weekday %d out of range", node.Line, n)
		}
		*w = Weekday(n)
		return nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := d.String()
		if strings.EqualFold(node.Value, name) || strings.EqualFold(node.Value, name[:3]) {
			*w = Weekday(d)
			return nil
		}
	}
	return errors.Errorf("line %d: unknown weekday %q", node.Line, node.Value)
}

// Load decodes a pack. Unknown keys are rejected.
func Load(r io.Reader) (*Pack, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Pack
	if err := dec.Decode(&p); err != nil {
		return nil, errors.Wrap(err, "decode rule pack")
	}
	return &p, nil
}

// LoadFile decodes the pack at path.
func LoadFile(path string) (*Pack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open rule pack")
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

var hhmm = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Build converts the pack rules, stamping now as creation time.
func (p *Pack) Build(now time.Time) ([]discount.Rule, error) {
	seen := make(map[string]struct{}, len(p.Rules))
	rules := make([]discount.Rule, 0, len(p.Rules))
	for i := range p.Rules {
		r, err := p.Rules[i].build(p.CompanyID, now)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %d (%s)", i+1, p.Rules[i].ID)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, errors.Errorf("rule %d: duplicate id %q", i+1, r.ID)
		}
		seen[r.ID] = struct{}{}
		rules = append(rules, r)
	}
	return rules, nil
}

func (y *Rule) build(defaultCompany string, now time.Time) (discount.Rule, error) {
	r := discount.Rule{
		ID:                      y.ID,
		CompanyID:               y.CompanyID,
		BranchID:                y.BranchID,
		Name:                    y.Name,
		NameLocal:               y.NameLocal,
		Description:             y.Description,
		DiscountType:            discount.DiscountType(y.Type),
		DiscountValue:           y.Value.Decimal,
		AppliesTo:               discount.Scope(y.AppliesTo),
		ProductIDs:              y.ProductIDs,
		CategoryIDs:             y.CategoryIDs,
		MinimumQuantity:         y.MinimumQuantity,
		UsageLimit:              discount.UsageLimit(y.UsageLimit),
		MaxUses:                 y.MaxUses,
		MaxUsesPerCustomer:      y.MaxUsesPerCustomer,
		AllowedCustomerIDs:      y.AllowedCustomerIDs,
		ExcludedCustomerIDs:     y.ExcludedCustomerIDs,
		CanCombineWithOthers:    y.CanCombineWithOthers == nil || *y.CanCombineWithOthers,
		ExcludedDiscountIDs:     y.ExcludedDiscountIDs,
		IsActive:                y.IsActive == nil || *y.IsActive,
		RequiresManagerApproval: y.RequiresManagerApproval,
		CreatedBy:               y.CreatedBy,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if r.ID == "" {
		return r, errors.New("id is required")
	}
	if r.CompanyID == "" {
		r.CompanyID = defaultCompany
	}
	if r.CompanyID == "" {
		return r, errors.New("company_id is required")
	}
	if r.AppliesTo == "" {
		r.AppliesTo = discount.ScopeOrder
	}
	if r.UsageLimit == "" {
		r.UsageLimit = discount.UsageUnlimited
	}

	switch r.DiscountType {
	case discount.DiscountPercentage:
		if r.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
			return r, errors.New("percentage value above 100")
		}
	case discount.DiscountFixed:
	default:
		return r, errors.Errorf("unknown type %q", y.Type)
	}
	if r.DiscountValue.IsNegative() {
		return r, errors.New("negative value")
	}
	switch r.AppliesTo {
	case discount.ScopeOrder, discount.ScopeProduct, discount.ScopeCategory:
	default:
		return r, errors.Errorf("unknown applies_to %q", y.AppliesTo)
	}
	switch r.UsageLimit {
	case discount.UsageUnlimited, discount.UsageLimited:
	default:
		return r, errors.Errorf("unknown usage_limit %q", y.UsageLimit)
	}

	if y.MinimumOrderAmount != nil {
		r.MinimumOrderAmount = &y.MinimumOrderAmount.Decimal
	}
	if y.MaximumDiscountAmount != nil {
		r.MaximumDiscountAmount = &y.MaximumDiscountAmount.Decimal
	}

	var err error
	if r.StartDate, err = parseDate(y.StartDate, false); err != nil {
		return r, errors.Wrap(err, "start_date")
	}
	if r.EndDate, err = parseDate(y.EndDate, true); err != nil {
		return r, errors.Wrap(err, "end_date")
	}
	for _, d := range y.ValidDays {
		r.ValidDays = append(r.ValidDays, time.Weekday(d))
	}
	if w := y.ValidHours; w != nil {
		if !hhmm.MatchString(w.Start) || !hhmm.MatchString(w.End) {
			return r, errors.Errorf("valid_hours %q-%q must be HH:MM", w.Start, w.End)
		}
		r.ValidHours = &discount.TimeWindow{Start: w.Start, End: w.End}
	}
	return r, nil
}

// parseDate accepts RFC 3339 or YYYY-MM-DD in UTC. A bare end date covers
// the whole day.
func parseDate(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, errors.Errorf("invalid date %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// Result counts what Seed wrote.
type Result struct {
	Rules    int
	Products int
}

// Seed builds the pack and upserts its rules and categories.
func (p *Pack) Seed(ctx context.Context, rules discount.RuleWriter, categories discount.CategoryWriter, now time.Time) (Result, error) {
	built, err := p.Build(now)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for productID, cats := range p.Categories {
		if err := categories.SaveCategories(ctx, productID, cats); err != nil {
			return res, errors.Wrapf(err, "save categories of %s", productID)
		}
		res.Products++
	}
	for i := range built {
		if err := rules.SaveRule(ctx, &built[i]); err != nil {
			return res, errors.Wrapf(err, "save rule %s", built[i].ID)
		}
		res.Rules++
	}
	return res, nil
}

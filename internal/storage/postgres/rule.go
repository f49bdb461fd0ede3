package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/discount-engine/internal/domain/discount"
)

var (
	_ discount.Repository       = (*Store)(nil)
	_ discount.RuleWriter       = (*Store)(nil)
	_ discount.CategoryResolver = (*Store)(nil)
)

const ruleColumns = `id, company_id, branch_id, name, name_local, description,
	discount_type, discount_value, applies_to, product_ids, category_ids,
	minimum_order_amount, minimum_quantity, maximum_discount_amount,
	start_date, end_date, valid_days, valid_hours_start, valid_hours_end,
	usage_limit, max_uses, max_uses_per_customer, current_uses, last_used_at,
	allowed_customer_ids, excluded_customer_ids,
	can_combine_with_others, excluded_discount_ids,
	is_active, requires_manager_approval, created_by, created_at, updated_at`

const getRuleSQL = `SELECT ` + ruleColumns + ` FROM discount_rules WHERE id = $1`

const listRulesSQL = `SELECT ` + ruleColumns + ` FROM discount_rules
WHERE company_id = $1
  AND ($2::text = '' OR branch_id = '' OR branch_id = $2)
  AND (NOT $3::bool OR is_active)
  AND ($4::text = '' OR applies_to = $4)
ORDER BY created_at, id`

// incrementUsageSQL is the single atomic increment-if-below-cap. It matches
// no row when the rule is missing or already at its cap.
const incrementUsageSQL = `UPDATE discount_rules
SET current_uses = current_uses + 1, last_used_at = $2
WHERE id = $1
  AND (usage_limit <> 'limited' OR max_uses IS NULL OR current_uses < max_uses)
RETURNING current_uses`

const releaseUsageSQL = `UPDATE discount_rules
SET current_uses = current_uses - 1
WHERE id = $1 AND current_uses > 0`

const ruleExistsSQL = `SELECT EXISTS (SELECT 1 FROM discount_rules WHERE id = $1)`

const saveRuleSQL = `INSERT INTO discount_rules (
	id, company_id, branch_id, name, name_local, description,
	discount_type, discount_value, applies_to, product_ids, category_ids,
	minimum_order_amount, minimum_quantity, maximum_discount_amount,
	start_date, end_date, valid_days, valid_hours_start, valid_hours_end,
	usage_limit, max_uses, max_uses_per_customer,
	allowed_customer_ids, excluded_customer_ids,
	can_combine_with_others, excluded_discount_ids,
	is_active, requires_manager_approval, created_by, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
	$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31
)
ON CONFLICT (id) DO UPDATE SET
	company_id = EXCLUDED.company_id,
	branch_id = EXCLUDED.branch_id,
	name = EXCLUDED.name,
	name_local = EXCLUDED.name_local,
	description = EXCLUDED.description,
	discount_type = EXCLUDED.discount_type,
	discount_value = EXCLUDED.discount_value,
	applies_to = EXCLUDED.applies_to,
	product_ids = EXCLUDED.product_ids,
	category_ids = EXCLUDED.category_ids,
	minimum_order_amount = EXCLUDED.minimum_order_amount,
	minimum_quantity = EXCLUDED.minimum_quantity,
	maximum_discount_amount = EXCLUDED.maximum_discount_amount,
	start_date = EXCLUDED.start_date,
	end_date = EXCLUDED.end_date,
	valid_days = EXCLUDED.valid_days,
	valid_hours_start = EXCLUDED.valid_hours_start,
	valid_hours_end = EXCLUDED.valid_hours_end,
	usage_limit = EXCLUDED.usage_limit,
	max_uses = EXCLUDED.max_uses,
	max_uses_per_customer = EXCLUDED.max_uses_per_customer,
	allowed_customer_ids = EXCLUDED.allowed_customer_ids,
	excluded_customer_ids = EXCLUDED.excluded_customer_ids,
	can_combine_with_others = EXCLUDED.can_combine_with_others,
	excluded_discount_ids = EXCLUDED.excluded_discount_ids,
	is_active = EXCLUDED.is_active,
	requires_manager_approval = EXCLUDED.requires_manager_approval,
	created_by = EXCLUDED.created_by,
	updated_at = EXCLUDED.updated_at`

// Store implements the discount repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store that uses the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetRule returns discount.ErrRuleNotFound when no rule has the id.
func (s *Store) GetRule(ctx context.Context, id string) (*discount.Rule, error) {
	rows, _ := s.pool.Query(ctx, getRuleSQL, id)
	rule, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrRuleNotFound
		}
		return nil, errors.Wrapf(err, "get rule %q", id)
	}
	return &rule, nil
}

// ListRules returns the company's rules ordered by creation time.
func (s *Store) ListRules(ctx context.Context, companyID string, filter discount.ListFilter) ([]discount.Rule, error) {
	rows, _ := s.pool.Query(ctx, listRulesSQL,
		companyID, filter.BranchID, filter.ActiveOnly, string(filter.AppliesTo),
	)
	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return nil, errors.Wrap(err, "list rules")
	}
	return rules, nil
}

// IncrementUsage bumps the counter in one conditional UPDATE. A follow-up
// existence check only tells a missing rule apart from an exhausted one.
func (s *Store) IncrementUsage(ctx context.Context, id string, at time.Time) (int, error) {
	var uses int
	err := s.pool.QueryRow(ctx, incrementUsageSQL, id, at).Scan(&uses)
	if err == nil {
		return uses, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.Wrapf(err, "increment usage %q", id)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, ruleExistsSQL, id).Scan(&exists); err != nil {
		return 0, errors.Wrapf(err, "check rule %q", id)
	}
	if !exists {
		return 0, discount.ErrRuleNotFound
	}
	return 0, discount.ErrUsageLimitReached
}

// ReleaseUsage undoes one IncrementUsage. A missing rule is not an error.
func (s *Store) ReleaseUsage(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, releaseUsageSQL, id); err != nil {
		return errors.Wrapf(err, "release usage %q", id)
	}
	return nil
}

// SaveRule upserts a rule. Usage counters of an existing row are untouched.
func (s *Store) SaveRule(ctx context.Context, r *discount.Rule) error {
	var hoursStart, hoursEnd *string
	if r.ValidHours != nil {
		hoursStart, hoursEnd = &r.ValidHours.Start, &r.ValidHours.End
	}
	createdAt, updatedAt := r.CreatedAt, r.UpdatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := s.pool.Exec(ctx, saveRuleSQL,
		r.ID, r.CompanyID, r.BranchID, r.Name, r.NameLocal, r.Description,
		string(r.DiscountType), r.DiscountValue, string(r.AppliesTo),
		orEmpty(r.ProductIDs), orEmpty(r.CategoryIDs),
		r.MinimumOrderAmount, r.MinimumQuantity, r.MaximumDiscountAmount,
		r.StartDate, r.EndDate, weekdaysToInts(r.ValidDays), hoursStart, hoursEnd,
		string(r.UsageLimit), r.MaxUses, r.MaxUsesPerCustomer,
		orEmpty(r.AllowedCustomerIDs), orEmpty(r.ExcludedCustomerIDs),
		r.CanCombineWithOthers, orEmpty(r.ExcludedDiscountIDs),
		r.IsActive, r.RequiresManagerApproval, r.CreatedBy, createdAt, updatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "save rule %q", r.ID)
	}
	return nil
}

func scanRule(row pgx.CollectableRow) (discount.Rule, error) {
	var (
		r                    discount.Rule
		discountType         string
		appliesTo            string
		usageLimit           string
		days                 []int32
		hoursStart, hoursEnd *string
	)
	err := row.Scan(
		&r.ID, &r.CompanyID, &r.BranchID, &r.Name, &r.NameLocal, &r.Description,
		&discountType, &r.DiscountValue, &appliesTo, &r.ProductIDs, &r.CategoryIDs,
		&r.MinimumOrderAmount, &r.MinimumQuantity, &r.MaximumDiscountAmount,
		&r.StartDate, &r.EndDate, &days, &hoursStart, &hoursEnd,
		&usageLimit, &r.MaxUses, &r.MaxUsesPerCustomer, &r.CurrentUses, &r.LastUsedAt,
		&r.AllowedCustomerIDs, &r.ExcludedCustomerIDs,
		&r.CanCombineWithOthers, &r.ExcludedDiscountIDs,
		&r.IsActive, &r.RequiresManagerApproval, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return discount.Rule{}, err
	}

	r.DiscountType = discount.DiscountType(discountType)
	r.AppliesTo = discount.Scope(appliesTo)
	r.UsageLimit = discount.UsageLimit(usageLimit)
	r.ValidDays = intsToWeekdays(days)
	if hoursStart != nil && hoursEnd != nil {
		r.ValidHours = &discount.TimeWindow{Start: *hoursStart, End: *hoursEnd}
	}
	return r, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func weekdaysToInts(days []time.Weekday) []int32 {
	out := make([]int32, len(days))
	for i, d := range days {
		out[i] = int32(d)
	}
	return out
}

func intsToWeekdays(days []int32) []time.Weekday {
	if len(days) == 0 {
		return nil
	}
	out := make([]time.Weekday, len(days))
	for i, d := range days {
		out[i] = time.Weekday(d)
	}
	return out
}

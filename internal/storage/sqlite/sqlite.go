// Package sqlite implements the discount store on an embedded SQLite
// database for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // database/sql driver

	"github.com/xenking/discount-engine/internal/domain/discount"
)

var (
	_ discount.Repository       = (*Store)(nil)
	_ discount.RuleWriter       = (*Store)(nil)
	_ discount.CategoryResolver = (*Store)(nil)
)

// timeLayout is fixed width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS discount_rules (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	branch_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	name_local TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	discount_type TEXT NOT NULL,
	discount_value TEXT NOT NULL,
	applies_to TEXT NOT NULL,
	product_ids JSON NOT NULL DEFAULT '[]',
	category_ids JSON NOT NULL DEFAULT '[]',
	minimum_order_amount TEXT,
	minimum_quantity INTEGER,
	maximum_discount_amount TEXT,
	start_date TEXT,
	end_date TEXT,
	valid_days JSON NOT NULL DEFAULT '[]',
	valid_hours_start TEXT,
	valid_hours_end TEXT,
	usage_limit TEXT NOT NULL DEFAULT 'unlimited',
	max_uses INTEGER,
	max_uses_per_customer INTEGER,
	current_uses INTEGER NOT NULL DEFAULT 0,
	last_used_at TEXT,
	allowed_customer_ids JSON NOT NULL DEFAULT '[]',
	excluded_customer_ids JSON NOT NULL DEFAULT '[]',
	can_combine_with_others INTEGER NOT NULL DEFAULT 1,
	excluded_discount_ids JSON NOT NULL DEFAULT '[]',
	is_active INTEGER NOT NULL DEFAULT 1,
	requires_manager_approval INTEGER NOT NULL DEFAULT 0,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS discount_rules_company_idx ON discount_rules (company_id, created_at, id);
CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL,
	sale_id TEXT NOT NULL,
	customer_id TEXT NOT NULL DEFAULT '',
	amount TEXT NOT NULL,
	order_total TEXT NOT NULL DEFAULT '0',
	used_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS usage_records_rule_idx ON usage_records (rule_id, used_at, id);
CREATE TABLE IF NOT EXISTS product_categories (
	product_id TEXT NOT NULL,
	category_id TEXT NOT NULL,
	PRIMARY KEY (product_id, category_id)
);`

const ruleColumns = `id, company_id, branch_id, name, name_local, description,
	discount_type, discount_value, applies_to, product_ids, category_ids,
	minimum_order_amount, minimum_quantity, maximum_discount_amount,
	start_date, end_date, valid_days, valid_hours_start, valid_hours_end,
	usage_limit, max_uses, max_uses_per_customer, current_uses, last_used_at,
	allowed_customer_ids, excluded_customer_ids,
	can_combine_with_others, excluded_discount_ids,
	is_active, requires_manager_approval, created_by, created_at, updated_at`

const (
	getRuleSQL   = `SELECT ` + ruleColumns + ` FROM discount_rules WHERE id = ?`
	listRulesSQL = `SELECT ` + ruleColumns + ` FROM discount_rules
WHERE company_id = ?
  AND (? = '' OR branch_id = '' OR branch_id = ?)
  AND (? = 0 OR is_active = 1)
  AND (? = '' OR applies_to = ?)
ORDER BY created_at, id`

	incrementUsageSQL = `UPDATE discount_rules
SET current_uses = current_uses + 1, last_used_at = ?
WHERE id = ?
  AND (usage_limit <> 'limited' OR max_uses IS NULL OR current_uses < max_uses)
RETURNING current_uses`
	releaseUsageSQL = `UPDATE discount_rules
SET current_uses = current_uses - 1
WHERE id = ? AND current_uses > 0`
	ruleExistsSQL = `SELECT EXISTS (SELECT 1 FROM discount_rules WHERE id = ?)`

	saveRuleSQL = `INSERT INTO discount_rules (
	id, company_id, branch_id, name, name_local, description,
	discount_type, discount_value, applies_to, product_ids, category_ids,
	minimum_order_amount, minimum_quantity, maximum_discount_amount,
	start_date, end_date, valid_days, valid_hours_start, valid_hours_end,
	usage_limit, max_uses, max_uses_per_customer,
	allowed_customer_ids, excluded_customer_ids,
	can_combine_with_others, excluded_discount_ids,
	is_active, requires_manager_approval, created_by, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	company_id = excluded.company_id,
	branch_id = excluded.branch_id,
	name = excluded.name,
	name_local = excluded.name_local,
	description = excluded.description,
	discount_type = excluded.discount_type,
	discount_value = excluded.discount_value,
	applies_to = excluded.applies_to,
	product_ids = excluded.product_ids,
	category_ids = excluded.category_ids,
	minimum_order_amount = excluded.minimum_order_amount,
	minimum_quantity = excluded.minimum_quantity,
	maximum_discount_amount = excluded.maximum_discount_amount,
	start_date = excluded.start_date,
	end_date = excluded.end_date,
	valid_days = excluded.valid_days,
	valid_hours_start = excluded.valid_hours_start,
	valid_hours_end = excluded.valid_hours_end,
	usage_limit = excluded.usage_limit,
	max_uses = excluded.max_uses,
	max_uses_per_customer = excluded.max_uses_per_customer,
	allowed_customer_ids = excluded.allowed_customer_ids,
	excluded_customer_ids = excluded.excluded_customer_ids,
	can_combine_with_others = excluded.can_combine_with_others,
	excluded_discount_ids = excluded.excluded_discount_ids,
	is_active = excluded.is_active,
	requires_manager_approval = excluded.requires_manager_approval,
	created_by = excluded.created_by,
	updated_at = excluded.updated_at`

	appendUsageSQL = `INSERT INTO usage_records (id, rule_id, sale_id, customer_id, amount, order_total, used_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	listUsageSQL = `SELECT id, rule_id, sale_id, customer_id, amount, order_total, used_at
FROM usage_records WHERE rule_id = ? ORDER BY used_at, id`
	countCustomerUsesSQL = `SELECT COUNT(*) FROM usage_records WHERE rule_id = ? AND customer_id = ?`
)

// Store implements the discount repository on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the database file at path, or an in-memory database for
// ":memory:", and prepares the schema. SQLite serializes writers, so the
// pool is limited to a single connection.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	return NewStore(db)
}

// NewStore wraps db and creates missing tables.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migrate sqlite")
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetRule(ctx context.Context, id string) (*discount.Rule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, getRuleSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, discount.ErrRuleNotFound
		}
		return nil, errors.Wrapf(err, "get rule %q", id)
	}
	return &r, nil
}

func (s *Store) ListRules(ctx context.Context, companyID string, filter discount.ListFilter) ([]discount.Rule, error) {
	scope := string(filter.AppliesTo)
	rows, err := s.db.QueryContext(ctx, listRulesSQL,
		companyID, filter.BranchID, filter.BranchID, filter.ActiveOnly, scope, scope,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list rules")
	}
	defer func() { _ = rows.Close() }()

	rules := make([]discount.Rule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan rule")
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list rules")
	}
	return rules, nil
}

func (s *Store) IncrementUsage(ctx context.Context, id string, at time.Time) (int, error) {
	var uses int
	err := s.db.QueryRowContext(ctx, incrementUsageSQL, formatTime(at), id).Scan(&uses)
	if err == nil {
		return uses, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrapf(err, "increment usage %q", id)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, ruleExistsSQL, id).Scan(&exists); err != nil {
		return 0, errors.Wrapf(err, "check rule %q", id)
	}
	if !exists {
		return 0, discount.ErrRuleNotFound
	}
	return 0, discount.ErrUsageLimitReached
}

func (s *Store) ReleaseUsage(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, releaseUsageSQL, id); err != nil {
		return errors.Wrapf(err, "release usage %q", id)
	}
	return nil
}

func (s *Store) SaveRule(ctx context.Context, r *discount.Rule) error {
	lists, err := marshalLists(
		r.ProductIDs, r.CategoryIDs, r.AllowedCustomerIDs, r.ExcludedCustomerIDs, r.ExcludedDiscountIDs,
	)
	if err != nil {
		return errors.Wrap(err, "encode lists")
	}
	days, err := json.Marshal(orEmpty(r.ValidDays))
	if err != nil {
		return errors.Wrap(err, "encode valid days")
	}

	var hoursStart, hoursEnd sql.NullString
	if r.ValidHours != nil {
		hoursStart = sql.NullString{String: r.ValidHours.Start, Valid: true}
		hoursEnd = sql.NullString{String: r.ValidHours.End, Valid: true}
	}
	createdAt, updatedAt := r.CreatedAt, r.UpdatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = s.db.ExecContext(ctx, saveRuleSQL,
		r.ID, r.CompanyID, r.BranchID, r.Name, r.NameLocal, r.Description,
		string(r.DiscountType), r.DiscountValue.String(), string(r.AppliesTo), lists[0], lists[1],
		nullDecimal(r.MinimumOrderAmount), nullInt(r.MinimumQuantity), nullDecimal(r.MaximumDiscountAmount),
		nullTime(r.StartDate), nullTime(r.EndDate), string(days), hoursStart, hoursEnd,
		string(r.UsageLimit), nullInt(r.MaxUses), nullInt(r.MaxUsesPerCustomer),
		lists[2], lists[3],
		r.CanCombineWithOthers, lists[4],
		r.IsActive, r.RequiresManagerApproval, r.CreatedBy, formatTime(createdAt), formatTime(updatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "save rule %q", r.ID)
	}
	return nil
}

func (s *Store) AppendUsageRecord(ctx context.Context, rec discount.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, appendUsageSQL,
		rec.ID, rec.RuleID, rec.SaleID, rec.CustomerID,
		rec.Amount.String(), rec.OrderTotal.String(), formatTime(rec.UsedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "append usage record for %q", rec.RuleID)
	}
	return nil
}

func (s *Store) ListUsageRecords(ctx context.Context, ruleID string) ([]discount.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, listUsageSQL, ruleID)
	if err != nil {
		return nil, errors.Wrapf(err, "list usage records for %q", ruleID)
	}
	defer func() { _ = rows.Close() }()

	records := make([]discount.UsageRecord, 0)
	for rows.Next() {
		var (
			rec    discount.UsageRecord
			usedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.SaleID, &rec.CustomerID, &rec.Amount, &rec.OrderTotal, &usedAt); err != nil {
			return nil, errors.Wrap(err, "scan usage record")
		}
		if rec.UsedAt, err = parseTime(usedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "list usage records for %q", ruleID)
	}
	return records, nil
}

func (s *Store) CountCustomerUses(ctx context.Context, ruleID, customerID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, countCustomerUsesSQL, ruleID, customerID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count uses of %q by %q", ruleID, customerID)
	}
	return n, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (discount.Rule, error) {
	var (
		r                                   discount.Rule
		discountType, appliesTo, usageLimit string
		products, categories, days          string
		allowed, excluded, excludedRules    string
		minOrder, maxDiscount               decimal.NullDecimal
		minQty, maxUses, maxPerCustomer     sql.NullInt64
		start, end, lastUsed                sql.NullString
		hoursStart, hoursEnd                sql.NullString
		createdAt, updatedAt                string
	)
	err := row.Scan(
		&r.ID, &r.CompanyID, &r.BranchID, &r.Name, &r.NameLocal, &r.Description,
		&discountType, &r.DiscountValue, &appliesTo, &products, &categories,
		&minOrder, &minQty, &maxDiscount,
		&start, &end, &days, &hoursStart, &hoursEnd,
		&usageLimit, &maxUses, &maxPerCustomer, &r.CurrentUses, &lastUsed,
		&allowed, &excluded,
		&r.CanCombineWithOthers, &excludedRules,
		&r.IsActive, &r.RequiresManagerApproval, &r.CreatedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return discount.Rule{}, err
	}

	r.DiscountType = discount.DiscountType(discountType)
	r.AppliesTo = discount.Scope(appliesTo)
	r.UsageLimit = discount.UsageLimit(usageLimit)

	for dst, raw := range map[*[]string]string{
		&r.ProductIDs:          products,
		&r.CategoryIDs:         categories,
		&r.AllowedCustomerIDs:  allowed,
		&r.ExcludedCustomerIDs: excluded,
		&r.ExcludedDiscountIDs: excludedRules,
	} {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return discount.Rule{}, errors.Wrap(err, "decode list")
		}
	}
	if err := json.Unmarshal([]byte(days), &r.ValidDays); err != nil {
		return discount.Rule{}, errors.Wrap(err, "decode valid days")
	}
	if len(r.ValidDays) == 0 {
		r.ValidDays = nil
	}

	if minOrder.Valid {
		r.MinimumOrderAmount = &minOrder.Decimal
	}
	if maxDiscount.Valid {
		r.MaximumDiscountAmount = &maxDiscount.Decimal
	}
	r.MinimumQuantity = intPtr(minQty)
	r.MaxUses = intPtr(maxUses)
	r.MaxUsesPerCustomer = intPtr(maxPerCustomer)
	if hoursStart.Valid && hoursEnd.Valid {
		r.ValidHours = &discount.TimeWindow{Start: hoursStart.String, End: hoursEnd.String}
	}

	if r.StartDate, err = parseNullTime(start); err != nil {
		return discount.Rule{}, err
	}
	if r.EndDate, err = parseNullTime(end); err != nil {
		return discount.Rule{}, err
	}
	if r.LastUsedAt, err = parseNullTime(lastUsed); err != nil {
		return discount.Rule{}, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return discount.Rule{}, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return discount.Rule{}, err
	}
	return r, nil
}

func marshalLists(lists ...[]string) ([]string, error) {
	out := make([]string, len(lists))
	for i, l := range lists {
		b, err := json.Marshal(orEmpty(l))
		if err != nil {
			return nil, err
		}
		out[i] = string(b)
	}
	return out, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse time %q", s)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

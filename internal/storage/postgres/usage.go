package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/discount-engine/internal/domain/discount"
)

const appendUsageSQL = `INSERT INTO usage_records (id, rule_id, sale_id, customer_id, amount, order_total, used_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const listUsageSQL = `SELECT id, rule_id, sale_id, customer_id, amount, order_total, used_at
FROM usage_records WHERE rule_id = $1 ORDER BY used_at, id`

const countCustomerUsesSQL = `SELECT COUNT(*) FROM usage_records WHERE rule_id = $1 AND customer_id = $2`

func (s *Store) AppendUsageRecord(ctx context.Context, rec discount.UsageRecord) error {
	_, err := s.pool.Exec(ctx, appendUsageSQL,
		rec.ID, rec.RuleID, rec.SaleID, rec.CustomerID, rec.Amount, rec.OrderTotal, rec.UsedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "append usage record for %q", rec.RuleID)
	}
	return nil
}

// ListUsageRecords returns the rule's records oldest first.
func (s *Store) ListUsageRecords(ctx context.Context, ruleID string) ([]discount.UsageRecord, error) {
	rows, _ := s.pool.Query(ctx, listUsageSQL, ruleID)
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (discount.UsageRecord, error) {
		var rec discount.UsageRecord
		err := row.Scan(&rec.ID, &rec.RuleID, &rec.SaleID, &rec.CustomerID, &rec.Amount, &rec.OrderTotal, &rec.UsedAt)
		return rec, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list usage records for %q", ruleID)
	}
	return records, nil
}

func (s *Store) CountCustomerUses(ctx context.Context, ruleID, customerID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, countCustomerUsesSQL, ruleID, customerID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count uses of %q by %q", ruleID, customerID)
	}
	return n, nil
}

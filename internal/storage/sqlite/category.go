package sqlite

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

func (s *Store) CategoriesFor(ctx context.Context, productIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	args := make([]any, len(productIDs))
	for i, id := range productIDs {
		args[i] = id
	}
	query := `SELECT product_id, category_id FROM product_categories WHERE product_id IN (?` +
		strings.Repeat(",?", len(productIDs)-1) + `) ORDER BY product_id, category_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query product categories")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var productID, categoryID string
		if err := rows.Scan(&productID, &categoryID); err != nil {
			return nil, errors.Wrap(err, "scan product category")
		}
		out[productID] = append(out[productID], categoryID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "query product categories")
	}
	return out, nil
}

// SaveCategories replaces the category set of one product.
func (s *Store) SaveCategories(ctx context.Context, productID string, categoryIDs []string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM product_categories WHERE product_id = ?`, productID); err != nil {
		return errors.Wrapf(err, "clear categories of %q", productID)
	}
	for _, c := range categoryIDs {
		if _, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO product_categories (product_id, category_id) VALUES (?, ?)`, productID, c,
		); err != nil {
			return errors.Wrapf(err, "save categories of %q", productID)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

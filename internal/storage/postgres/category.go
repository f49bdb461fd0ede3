package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
)

const categoriesForSQL = `SELECT product_id, category_id FROM product_categories
WHERE product_id = ANY($1) ORDER BY product_id, category_id`

// CategoriesFor maps each known product to its categories. Unknown products
// are absent from the result.
func (s *Store) CategoriesFor(ctx context.Context, productIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, categoriesForSQL, productIDs)
	if err != nil {
		return nil, errors.Wrap(err, "query product categories")
	}
	var productID, categoryID string
	_, err = pgx.ForEachRow(rows, []any{&productID, &categoryID}, func() error {
		out[productID] = append(out[productID], categoryID)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan product categories")
	}
	return out, nil
}

// SaveCategories replaces the category set of one product.
func (s *Store) SaveCategories(ctx context.Context, productID string, categoryIDs []string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM product_categories WHERE product_id = $1`, productID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO product_categories (product_id, category_id)
			SELECT $1, c FROM unnest($2::text[]) AS c ON CONFLICT DO NOTHING`,
			productID, orEmpty(categoryIDs),
		)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "save categories of %q", productID)
	}
	return nil
}

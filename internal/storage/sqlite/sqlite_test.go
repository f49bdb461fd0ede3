package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/discount-engine/internal/domain/discount"
	"github.com/xenking/discount-engine/internal/storage/storetest"
)

func TestStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "discounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	storetest.Run(t, s)
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "discounts.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveRule(ctx, storetest.Rule("persisted")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.GetRule(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, "Rule persisted", got.Name)
}

func TestStore_Categories(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.SaveCategories(ctx, "A", []string{"drinks", "cold"}))
	require.NoError(t, s.SaveCategories(ctx, "A", []string{"cold"}))

	got, err := s.CategoriesFor(ctx, []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"A": {"cold"}}, got)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS discount_rules").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewStore(db)
	require.NoError(t, err)
	return s, mock
}

func TestStore_IncrementUsageFailures(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "store error is surfaced",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("UPDATE discount_rules").
					WillReturnError(errors.New("disk I/O error"))
			},
		},
		{
			name: "no row and rule exists means cap reached",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("UPDATE discount_rules").
					WithArgs(formatTime(at), "r1").
					WillReturnRows(sqlmock.NewRows([]string{"current_uses"}))
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs("r1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantErr: discount.ErrUsageLimitReached,
		},
		{
			name: "no row and no rule means not found",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("UPDATE discount_rules").
					WillReturnRows(sqlmock.NewRows([]string{"current_uses"}))
				mock.ExpectQuery("SELECT EXISTS").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: discount.ErrRuleNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.setup(mock)

			_, err := s.IncrementUsage(ctx, "r1", at)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NotErrorIs(t, err, discount.ErrUsageLimitReached)
				assert.NotErrorIs(t, err, discount.ErrRuleNotFound)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_CorruptListColumn(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{
		"id", "company_id", "branch_id", "name", "name_local", "description",
		"discount_type", "discount_value", "applies_to", "product_ids", "category_ids",
		"minimum_order_amount", "minimum_quantity", "maximum_discount_amount",
		"start_date", "end_date", "valid_days", "valid_hours_start", "valid_hours_end",
		"usage_limit", "max_uses", "max_uses_per_customer", "current_uses", "last_used_at",
		"allowed_customer_ids", "excluded_customer_ids",
		"can_combine_with_others", "excluded_discount_ids",
		"is_active", "requires_manager_approval", "created_by", "created_at", "updated_at",
	}
	now := formatTime(time.Now())
	mock.ExpectQuery("SELECT .* FROM discount_rules WHERE id").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"r1", "c1", "", "Broken", "", "",
			"fixed", "5", "order", "not-json", "[]",
			nil, nil, nil,
			nil, nil, "[]", nil, nil,
			"unlimited", nil, nil, 0, nil,
			"[]", "[]",
			false, "[]",
			true, false, "", now, now,
		))

	_, err := s.GetRule(context.Background(), "r1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, discount.ErrRuleNotFound)
}

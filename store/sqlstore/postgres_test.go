package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/unit-ledger/inventory"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db, Postgres), mock
}

func TestRebind(t *testing.T) {
	pg := &conn{dialect: Postgres}
	lite := &conn{dialect: SQLite}
	q := `UPDATE units SET status = ? WHERE imei = ? AND version = ?`
	assert.Equal(t, `UPDATE units SET status = $1 WHERE imei = $2 AND version = $3`, pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.ErrorIs(t, classify(&pq.Error{Code: "40001"}), inventory.ErrConcurrentModification)
	assert.ErrorIs(t, classify(&pq.Error{Code: "40P01"}), inventory.ErrConcurrentModification)
	other := &pq.Error{Code: "23503"}
	assert.Equal(t, error(other), classify(other))
	assert.True(t, isUniqueConstraintError(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueConstraintError(errors.New("boom")))
}

func TestPostgres_GetUnitNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + unitColumns + ` FROM units WHERE imei = $1`)).
		WithArgs("490154203237518").
		WillReturnRows(sqlmock.NewRows([]string{"imei"}))

	_, err := s.GetUnit(context.Background(), "490154203237518")
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestPostgres_CompareAndSwapNoRowsIsConcurrentModification(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`WHERE imei = $11 AND status = $12 AND version = $13`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	prev := inventory.Unit{IMEI: "490154203237518", Status: inventory.StatusAvailable, Version: 3}
	next := prev
	next.Status = inventory.StatusReserved
	err := s.CompareAndSwapUnit(context.Background(), prev, next)
	assert.ErrorIs(t, err, inventory.ErrConcurrentModification)
	assert.True(t, inventory.IsRetryable(err))
}

func TestPostgres_SerializationFailureIsRetryable(t *testing.T) {
	t.Run("statement", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE variants SET stock_count = stock_count + $1 WHERE id = $2`)).
			WithArgs(-1, "v1").
			WillReturnError(&pq.Error{Code: "40001"})
		mock.ExpectRollback()

		err := s.WithTx(context.Background(), func(tx inventory.Store) error {
			return tx.AdjustVariantStock(context.Background(), "v1", -1)
		})
		assert.ErrorIs(t, err, inventory.ErrConcurrentModification)
	})

	t.Run("commit", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE variants SET stock_count = $1 WHERE id = $2`)).
			WithArgs(4, "v1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})

		err := s.WithTx(context.Background(), func(tx inventory.Store) error {
			return tx.SetVariantStock(context.Background(), "v1", 4)
		})
		assert.ErrorIs(t, err, inventory.ErrConcurrentModification)
	})
}

func TestPostgres_KeysetQueryUsesBytewiseCollation(t *testing.T) {
	s, mock := newMockStore(t)
	expected := `SELECT ` + userColumns + ` FROM users WHERE is_active = $1` +
		` AND (name COLLATE "C" > $2 OR (name COLLATE "C" = $3 AND id COLLATE "C" > $4))` +
		` ORDER BY name COLLATE "C" ASC, id COLLATE "C" ASC LIMIT $5`
	mock.ExpectQuery(regexp.QuoteMeta(expected)).
		WithArgs(1, "bob", "bob", "u-2", 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "phone", "role", "is_active", "created_at"}).
			AddRow("u-7", "carol", "", "", "cashier", 1, "2025-01-02T03:04:05.000000000Z"))

	active := true
	users, err := s.SearchUsers(context.Background(), inventory.PageQuery{
		Filter: inventory.Filter{Active: &active},
		Sort:   inventory.UserSortFields["name"],
		After:  &inventory.CursorKey{Value: "bob", ID: "u-2"},
		Limit:  3,
	})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "carol", users[0].Name)
	assert.True(t, users[0].IsActive)
}

func TestPostgres_NumericSortCasts(t *testing.T) {
	s, mock := newMockStore(t)
	expected := `SELECT ` + customerColumns + ` FROM customers` +
		` WHERE (CAST(total_spent AS NUMERIC) < CAST($1 AS NUMERIC) OR (CAST(total_spent AS NUMERIC) = CAST($2 AS NUMERIC) AND id COLLATE "C" < $3))` +
		` ORDER BY CAST(total_spent AS NUMERIC) DESC, id COLLATE "C" DESC LIMIT $4`
	mock.ExpectQuery(regexp.QuoteMeta(expected)).
		WithArgs("1500.5", "1500.5", "c-9", 11).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.SearchCustomers(context.Background(), inventory.PageQuery{
		Sort:  inventory.CustomerSortFields["total_spent"],
		Desc:  true,
		After: &inventory.CursorKey{Value: "1500.5", ID: "c-9"},
		Limit: 11,
	})
	require.NoError(t, err)
}

package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/storefront/storefront/internal/shared"
)

func TestClassify(t *testing.T) {
	require.NoError(t, Classify(nil))
	require.ErrorIs(t, Classify(pgx.ErrNoRows), shared.ErrNotFound)

	dup := &pgconn.PgError{Code: "23505", ConstraintName: "products_slug_key"}
	err := Classify(dup)
	require.ErrorIs(t, err, shared.ErrDuplicateKey)
	require.Contains(t, err.Error(), "products_slug_key")
	require.True(t, IsUniqueViolation(dup))

	check := &pgconn.PgError{Code: "23514", ConstraintName: "variants_stock_quantity_check", Message: "violates check"}
	require.ErrorIs(t, Classify(check), shared.ErrValidation)

	missing := &pgconn.PgError{Code: "23502", ColumnName: "coupon_code", Message: "null value in column"}
	err = Classify(missing)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "coupon_code")

	require.ErrorIs(t, Classify(context.DeadlineExceeded), shared.ErrStorageUnavailable)

	other := errors.New("boom")
	require.Equal(t, other, Classify(other))
}

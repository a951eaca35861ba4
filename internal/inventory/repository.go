package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront/storefront/internal/platform/db"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetVariant(ctx context.Context, id int64) (Variant, error)
	ListVariants(ctx context.Context, productID int64) ([]Variant, error)
	ListLowStock(ctx context.Context, threshold, limit int) ([]Variant, error)
	ListMovements(ctx context.Context, variantID int64, limit int) ([]Movement, error)
}

// TxRepository exposes transactional operations used by service and by the checkout coordinator.
type TxRepository interface {
	GetVariantForUpdate(ctx context.Context, id int64) (Variant, error)
	SetStock(ctx context.Context, id int64, qty int) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	LockProduct(ctx context.Context, productID int64) (bool, error)
	SKUExists(ctx context.Context, sku string) (bool, error)
	InsertVariant(ctx context.Context, v Variant) (Variant, error)
	SetVariantActive(ctx context.Context, id int64, active bool) error
}

// Repository persists variants and stock movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	q db.DBTX
}

// NewTxRepository binds the ledger queries to a transaction owned by the caller.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{q: tx}
}

// WithTx executes the callback inside a read-committed transaction. Row locks taken with
// GetVariantForUpdate serialise concurrent adjustments of one variant.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const variantSelect = `SELECT v.id, v.product_id, v.size, v.color, v.sku, v.stock_quantity, v.price_override,
v.is_active, v.created_at, v.updated_at, p.is_active, COALESCE(p.price_sale, p.price_regular)
FROM variants v JOIN products p ON p.id = v.product_id`

func scanVariant(row pgx.Row) (Variant, error) {
	var v Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.SKU, &v.StockQuantity, &v.PriceOverride,
		&v.IsActive, &v.CreatedAt, &v.UpdatedAt, &v.ProductActive, &v.BasePrice)
	return v, db.Classify(err)
}

func collectVariants(rows pgx.Rows) ([]Variant, error) {
	defer rows.Close()
	variants := []Variant{}
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, db.Classify(rows.Err())
}

func (r *Repository) GetVariant(ctx context.Context, id int64) (Variant, error) {
	return scanVariant(r.pool.QueryRow(ctx, variantSelect+` WHERE v.id = $1`, id))
}

func (r *Repository) ListVariants(ctx context.Context, productID int64) ([]Variant, error) {
	rows, err := r.pool.Query(ctx, variantSelect+` WHERE v.product_id = $1 ORDER BY v.id`, productID)
	if err != nil {
		return nil, db.Classify(err)
	}
	return collectVariants(rows)
}

func (r *Repository) ListLowStock(ctx context.Context, threshold, limit int) ([]Variant, error) {
	rows, err := r.pool.Query(ctx, variantSelect+` WHERE v.is_active AND v.stock_quantity < $1
ORDER BY v.stock_quantity ASC, v.id ASC LIMIT $2`, threshold, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	return collectVariants(rows)
}

func (r *Repository) ListMovements(ctx context.Context, variantID int64, limit int) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, variant_id, mode, delta, qty_before, qty_after, actor_id, ref, created_at
FROM stock_movements WHERE variant_id = $1 ORDER BY id DESC LIMIT $2`, variantID, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.VariantID, &m.Mode, &m.Delta, &m.QtyBefore, &m.QtyAfter, &m.ActorID, &m.Ref, &m.CreatedAt); err != nil {
			return nil, db.Classify(err)
		}
		movements = append(movements, m)
	}
	return movements, db.Classify(rows.Err())
}

func (r *txRepository) GetVariantForUpdate(ctx context.Context, id int64) (Variant, error) {
	return scanVariant(r.q.QueryRow(ctx, variantSelect+` WHERE v.id = $1 FOR UPDATE OF v`, id))
}

func (r *txRepository) SetStock(ctx context.Context, id int64, qty int) error {
	tag, err := r.q.Exec(ctx, `UPDATE variants SET stock_quantity = $2, updated_at = NOW() WHERE id = $1`, id, qty)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return db.Classify(pgx.ErrNoRows)
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO stock_movements (variant_id, mode, delta, qty_before, qty_after, actor_id, ref, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW()) RETURNING id, created_at`,
		m.VariantID, m.Mode, m.Delta, m.QtyBefore, m.QtyAfter, m.ActorID, m.Ref).Scan(&m.ID, &m.CreatedAt)
	return m, db.Classify(err)
}

// LockProduct takes a share lock on the product and reports whether it is active.
func (r *txRepository) LockProduct(ctx context.Context, productID int64) (bool, error) {
	var active bool
	err := r.q.QueryRow(ctx, `SELECT is_active FROM products WHERE id = $1 FOR SHARE`, productID).Scan(&active)
	return active, db.Classify(err)
}

func (r *txRepository) SKUExists(ctx context.Context, sku string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM variants WHERE sku = $1)`, sku).Scan(&exists)
	return exists, db.Classify(err)
}

func (r *txRepository) InsertVariant(ctx context.Context, v Variant) (Variant, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO variants (product_id, size, color, sku, stock_quantity, price_override, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW()) RETURNING id`,
		v.ProductID, v.Size, v.Color, v.SKU, v.StockQuantity, v.PriceOverride).Scan(&id)
	if err != nil {
		return Variant{}, db.Classify(err)
	}
	return scanVariant(r.q.QueryRow(ctx, variantSelect+` WHERE v.id = $1`, id))
}

func (r *txRepository) SetVariantActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.q.Exec(ctx, `UPDATE variants SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return db.Classify(pgx.ErrNoRows)
	}
	return nil
}

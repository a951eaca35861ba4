package coupons

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront/storefront/internal/platform/db"
	"github.com/storefront/storefront/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCoupon(ctx context.Context, id int64) (Coupon, error)
	GetByCode(ctx context.Context, code string) (Coupon, error)
	ListCoupons(ctx context.Context, filters shared.ListFilters) ([]Coupon, int, error)
	ListRedemptions(ctx context.Context, couponID int64, limit int) ([]Redemption, error)
}

// TxRepository exposes transactional operations used by service and by the checkout coordinator.
type TxRepository interface {
	GetByCode(ctx context.Context, code string) (Coupon, error)
	LockCoupon(ctx context.Context, id int64) (Coupon, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	InsertCoupon(ctx context.Context, c Coupon) (Coupon, error)
	UpdateCoupon(ctx context.Context, c Coupon) (Coupon, error)
	IncrementUsage(ctx context.Context, id int64, now time.Time) (Coupon, error)
	InsertRedemption(ctx context.Context, couponID int64, orderRef string) (Redemption, error)
}

// ErrNoUsageLeft is returned by IncrementUsage when no row satisfied the guarded update.
var ErrNoUsageLeft = errors.New("coupon not redeemable")

// Repository persists coupons in PostgreSQL.
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

// NewTxRepository binds the coupon queries to a transaction owned by the caller.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{q: tx}
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("coupon repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const couponColumns = `id, code, discount_type, discount_value, max_discount, minimum_amount, usage_limit, used_count,
valid_from, valid_to, is_active, created_at, updated_at`

func scanCoupon(row pgx.Row) (Coupon, error) {
	var c Coupon
	err := row.Scan(&c.ID, &c.Code, &c.DiscountType, &c.DiscountValue, &c.MaxDiscount, &c.MinimumAmount, &c.UsageLimit,
		&c.UsedCount, &c.ValidFrom, &c.ValidTo, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, db.Classify(err)
}

func (r *Repository) GetCoupon(ctx context.Context, id int64) (Coupon, error) {
	return scanCoupon(r.pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id))
}

func (r *Repository) GetByCode(ctx context.Context, code string) (Coupon, error) {
	return scanCoupon(r.pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, NormalizeCode(code)))
}

func (r *Repository) ListCoupons(ctx context.Context, filters shared.ListFilters) ([]Coupon, int, error) {
	where := ` WHERE ($1 = '' OR code ILIKE '%' || $1 || '%') AND ($2::boolean IS NULL OR is_active = $2)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM coupons`+where, filters.Search, filters.IsActive).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}
	dir := "ASC"
	if filters.SortDir == "desc" {
		dir = "DESC"
	}
	column := map[string]string{"code": "code", "valid_to": "valid_to", "used_count": "used_count"}[filters.SortBy]
	if column == "" {
		column = "created_at"
	}
	rows, err := r.pool.Query(ctx, `SELECT `+couponColumns+` FROM coupons`+where+
		` ORDER BY `+column+` `+dir+`, id `+dir+` LIMIT $3 OFFSET $4`,
		filters.Search, filters.IsActive, filters.Limit, filters.Offset())
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()
	coupons := []Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, 0, err
		}
		coupons = append(coupons, c)
	}
	return coupons, total, db.Classify(rows.Err())
}

func (r *Repository) ListRedemptions(ctx context.Context, couponID int64, limit int) ([]Redemption, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, coupon_id, order_ref, redeemed_at FROM coupon_redemptions
WHERE coupon_id = $1 ORDER BY id DESC LIMIT $2`, couponID, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	redemptions := []Redemption{}
	for rows.Next() {
		var red Redemption
		if err := rows.Scan(&red.ID, &red.CouponID, &red.OrderRef, &red.RedeemedAt); err != nil {
			return nil, db.Classify(err)
		}
		redemptions = append(redemptions, red)
	}
	return redemptions, db.Classify(rows.Err())
}

func (r *txRepository) GetByCode(ctx context.Context, code string) (Coupon, error) {
	return scanCoupon(r.q.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, NormalizeCode(code)))
}

func (r *txRepository) LockCoupon(ctx context.Context, id int64) (Coupon, error) {
	return scanCoupon(r.q.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`, NormalizeCode(code)).Scan(&exists)
	return exists, db.Classify(err)
}

func (r *txRepository) InsertCoupon(ctx context.Context, c Coupon) (Coupon, error) {
	return scanCoupon(r.q.QueryRow(ctx, `INSERT INTO coupons (code, discount_type, discount_value, max_discount, minimum_amount,
usage_limit, used_count, valid_from, valid_to, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, TRUE, NOW(), NOW()) RETURNING `+couponColumns,
		c.Code, c.DiscountType, c.DiscountValue, c.MaxDiscount, c.MinimumAmount, c.UsageLimit, c.ValidFrom, c.ValidTo))
}

func (r *txRepository) UpdateCoupon(ctx context.Context, c Coupon) (Coupon, error) {
	return scanCoupon(r.q.QueryRow(ctx, `UPDATE coupons SET discount_type = $2, discount_value = $3, max_discount = $4,
minimum_amount = $5, usage_limit = $6, valid_from = $7, valid_to = $8, is_active = $9, updated_at = NOW()
WHERE id = $1 RETURNING `+couponColumns,
		c.ID, c.DiscountType, c.DiscountValue, c.MaxDiscount, c.MinimumAmount, c.UsageLimit, c.ValidFrom, c.ValidTo, c.IsActive))
}

// IncrementUsage is the single guarded write behind every redemption. The limit check and the
// increment happen in one statement, so concurrent callers can never push used_count past
// usage_limit.
func (r *txRepository) IncrementUsage(ctx context.Context, id int64, now time.Time) (Coupon, error) {
	c, err := scanCoupon(r.q.QueryRow(ctx, `UPDATE coupons SET used_count = used_count + 1, updated_at = NOW()
WHERE id = $1 AND is_active AND (valid_from IS NULL OR valid_from <= $2) AND (valid_to IS NULL OR valid_to >= $2)
AND (usage_limit IS NULL OR used_count < usage_limit)
RETURNING `+couponColumns, id, now))
	if errors.Is(err, shared.ErrNotFound) {
		return Coupon{}, ErrNoUsageLeft
	}
	return c, err
}

func (r *txRepository) InsertRedemption(ctx context.Context, couponID int64, orderRef string) (Redemption, error) {
	red := Redemption{CouponID: couponID, OrderRef: orderRef}
	err := r.q.QueryRow(ctx, `INSERT INTO coupon_redemptions (coupon_id, order_ref, redeemed_at)
VALUES ($1, $2, NOW()) RETURNING id, redeemed_at`, couponID, orderRef).Scan(&red.ID, &red.RedeemedAt)
	return red, db.Classify(err)
}

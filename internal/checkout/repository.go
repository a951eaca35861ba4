package checkout

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront/storefront/internal/coupons"
	"github.com/storefront/storefront/internal/inventory"
	"github.com/storefront/storefront/internal/platform/db"
)

// Tx groups the ledgers touched by an intent, all bound to one transaction.
type Tx struct {
	Stock   inventory.TxRepository
	Coupons coupons.TxRepository
	Intents IntentTx
}

// IntentTx persists intents inside a transaction.
type IntentTx interface {
	InsertIntent(ctx context.Context, intent Intent) error
}

// Store abstracts repository usage for service.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	GetIntent(ctx context.Context, id uuid.UUID) (Intent, error)
}

// Repository persists order intents in PostgreSQL and hands out transactions spanning
// stock, coupons and intents.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type intentTx struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Row locks on variants
// and the guarded coupon update serialise concurrent intents.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	if r == nil {
		return errors.New("checkout repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, Tx{
			Stock:   inventory.NewTxRepository(tx),
			Coupons: coupons.NewTxRepository(tx),
			Intents: &intentTx{tx: tx},
		})
	})
}

func (r *Repository) GetIntent(ctx context.Context, id uuid.UUID) (Intent, error) {
	var in Intent
	var code *string
	err := r.pool.QueryRow(ctx, `SELECT id, actor_id, coupon_id, coupon_code, subtotal, discount, total,
free_shipping, mode, created_at FROM order_intents WHERE id = $1`, id).Scan(
		&in.ID, &in.ActorID, &in.CouponID, &code, &in.Subtotal, &in.Discount, &in.Total,
		&in.FreeShipping, &in.Mode, &in.CreatedAt)
	if err != nil {
		return Intent{}, db.Classify(err)
	}
	if code != nil {
		in.CouponCode = *code
	}
	rows, err := r.pool.Query(ctx, `SELECT variant_id, quantity, unit_price, line_total FROM order_intent_lines
WHERE intent_id = $1 ORDER BY variant_id`, id)
	if err != nil {
		return Intent{}, db.Classify(err)
	}
	defer rows.Close()
	in.Lines = []IntentLine{}
	for rows.Next() {
		var l IntentLine
		if err := rows.Scan(&l.VariantID, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return Intent{}, db.Classify(err)
		}
		in.Lines = append(in.Lines, l)
	}
	return in, db.Classify(rows.Err())
}

func (t *intentTx) InsertIntent(ctx context.Context, in Intent) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO order_intents (id, actor_id, coupon_id, coupon_code, subtotal, discount, total,
free_shipping, mode, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		in.ID, in.ActorID, in.CouponID, in.CouponCode, in.Subtotal, in.Discount, in.Total, in.FreeShipping, in.Mode, in.CreatedAt)
	if err != nil {
		return db.Classify(err)
	}
	batch := &pgx.Batch{}
	for _, l := range in.Lines {
		batch.Queue(`INSERT INTO order_intent_lines (intent_id, variant_id, quantity, unit_price, line_total)
VALUES ($1, $2, $3, $4, $5)`, in.ID, l.VariantID, l.Quantity, l.UnitPrice, l.LineTotal)
	}
	return db.Classify(t.tx.SendBatch(ctx, batch).Close())
}

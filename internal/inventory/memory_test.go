package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/storefront/internal/shared"
)

// memoryRepo holds one lock for the whole transaction, which is at least as strict as the
// per-row FOR UPDATE lock taken in PostgreSQL.
type memoryRepo struct {
	mu        sync.Mutex
	products  map[int64]bool
	variants  map[int64]Variant
	movements []Movement
	nextID    int64
	failSet   error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: make(map[int64]bool), variants: make(map[int64]Variant)}
}

func (r *memoryRepo) seedVariant(productID int64, sku string, stock int) Variant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[productID]; !ok {
		r.products[productID] = true
	}
	r.nextID++
	v := Variant{
		ID:            r.nextID,
		ProductID:     productID,
		SKU:           sku,
		StockQuantity: stock,
		IsActive:      true,
		ProductActive: r.products[productID],
		BasePrice:     decimal.NewFromInt(20),
		CreatedAt:     time.Now(),
	}
	r.variants[v.ID] = v
	return v
}

func (r *memoryRepo) stock(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.variants[id].StockQuantity
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	variants := make(map[int64]Variant, len(r.variants))
	for k, v := range r.variants {
		variants[k] = v
	}
	movements := append([]Movement(nil), r.movements...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.variants, r.movements = variants, movements
		return err
	}
	return nil
}

func (r *memoryRepo) GetVariant(_ context.Context, id int64) (Variant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.variants[id]
	if !ok {
		return Variant{}, shared.ErrNotFound
	}
	return v, nil
}

func (r *memoryRepo) ListVariants(_ context.Context, productID int64) ([]Variant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Variant{}
	for _, v := range r.variants {
		if v.ProductID == productID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListLowStock(_ context.Context, threshold, limit int) ([]Variant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Variant{}
	for _, v := range r.variants {
		if v.IsActive && v.StockQuantity < threshold {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StockQuantity != out[j].StockQuantity {
			return out[i].StockQuantity < out[j].StockQuantity
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) ListMovements(_ context.Context, variantID int64, limit int) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Movement{}
	for i := len(r.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if r.movements[i].VariantID == variantID {
			out = append(out, r.movements[i])
		}
	}
	return out, nil
}

func (tx *memoryTx) GetVariantForUpdate(_ context.Context, id int64) (Variant, error) {
	v, ok := tx.repo.variants[id]
	if !ok {
		return Variant{}, shared.ErrNotFound
	}
	return v, nil
}

func (tx *memoryTx) SetStock(_ context.Context, id int64, qty int) error {
	if tx.repo.failSet != nil {
		return tx.repo.failSet
	}
	v, ok := tx.repo.variants[id]
	if !ok {
		return shared.ErrNotFound
	}
	v.StockQuantity = qty
	tx.repo.variants[id] = v
	return nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m Movement) (Movement, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	m.CreatedAt = time.Now()
	tx.repo.movements = append(tx.repo.movements, m)
	return m, nil
}

func (tx *memoryTx) LockProduct(_ context.Context, productID int64) (bool, error) {
	active, ok := tx.repo.products[productID]
	if !ok {
		return false, shared.ErrNotFound
	}
	return active, nil
}

func (tx *memoryTx) SKUExists(_ context.Context, sku string) (bool, error) {
	for _, v := range tx.repo.variants {
		if v.SKU == sku {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) InsertVariant(_ context.Context, v Variant) (Variant, error) {
	tx.repo.nextID++
	v.ID = tx.repo.nextID
	v.IsActive = true
	v.ProductActive = tx.repo.products[v.ProductID]
	v.BasePrice = decimal.NewFromInt(20)
	v.CreatedAt, v.UpdatedAt = time.Now(), time.Now()
	tx.repo.variants[v.ID] = v
	return v, nil
}

func (tx *memoryTx) SetVariantActive(_ context.Context, id int64, active bool) error {
	v, ok := tx.repo.variants[id]
	if !ok {
		return shared.ErrNotFound
	}
	v.IsActive = active
	tx.repo.variants[id] = v
	return nil
}

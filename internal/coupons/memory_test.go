package coupons

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/storefront/storefront/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	coupons     map[int64]Coupon
	redemptions []Redemption
	nextID      int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{coupons: make(map[int64]Coupon)}
}

func (r *memoryRepo) usedCount(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coupons[id].UsedCount
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	coupons := make(map[int64]Coupon, len(r.coupons))
	for k, v := range r.coupons {
		coupons[k] = v
	}
	redemptions := append([]Redemption(nil), r.redemptions...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.coupons, r.redemptions = coupons, redemptions
		return err
	}
	return nil
}

func (r *memoryRepo) GetCoupon(_ context.Context, id int64) (Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[id]
	if !ok {
		return Coupon{}, shared.ErrNotFound
	}
	return c, nil
}

func (r *memoryRepo) GetByCode(_ context.Context, code string) (Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&memoryTx{repo: r}).byCode(code)
}

func (r *memoryRepo) ListCoupons(_ context.Context, filters shared.ListFilters) ([]Coupon, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := []Coupon{}
	for _, c := range r.coupons {
		if filters.Search != "" && !strings.Contains(c.Code, strings.ToUpper(filters.Search)) {
			continue
		}
		if filters.IsActive != nil && c.IsActive != *filters.IsActive {
			continue
		}
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	start := filters.Offset()
	if start > total {
		start = total
	}
	end := start + filters.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *memoryRepo) ListRedemptions(_ context.Context, couponID int64, limit int) ([]Redemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Redemption{}
	for i := len(r.redemptions) - 1; i >= 0 && len(out) < limit; i-- {
		if r.redemptions[i].CouponID == couponID {
			out = append(out, r.redemptions[i])
		}
	}
	return out, nil
}

func (tx *memoryTx) byCode(code string) (Coupon, error) {
	code = NormalizeCode(code)
	for _, c := range tx.repo.coupons {
		if c.Code == code {
			return c, nil
		}
	}
	return Coupon{}, shared.ErrNotFound
}

func (tx *memoryTx) GetByCode(_ context.Context, code string) (Coupon, error) {
	return tx.byCode(code)
}

func (tx *memoryTx) LockCoupon(_ context.Context, id int64) (Coupon, error) {
	c, ok := tx.repo.coupons[id]
	if !ok {
		return Coupon{}, shared.ErrNotFound
	}
	return c, nil
}

func (tx *memoryTx) CodeExists(_ context.Context, code string) (bool, error) {
	_, err := tx.byCode(code)
	return err == nil, nil
}

func (tx *memoryTx) InsertCoupon(_ context.Context, c Coupon) (Coupon, error) {
	tx.repo.nextID++
	c.ID = tx.repo.nextID
	c.UsedCount = 0
	c.IsActive = true
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	tx.repo.coupons[c.ID] = c
	return c, nil
}

func (tx *memoryTx) UpdateCoupon(_ context.Context, c Coupon) (Coupon, error) {
	current, ok := tx.repo.coupons[c.ID]
	if !ok {
		return Coupon{}, shared.ErrNotFound
	}
	c.Code, c.UsedCount, c.CreatedAt = current.Code, current.UsedCount, current.CreatedAt
	c.UpdatedAt = time.Now()
	tx.repo.coupons[c.ID] = c
	return c, nil
}

func (tx *memoryTx) IncrementUsage(_ context.Context, id int64, now time.Time) (Coupon, error) {
	c, ok := tx.repo.coupons[id]
	if !ok || !c.IsActive || !c.InWindow(now) || c.Exhausted() {
		return Coupon{}, ErrNoUsageLeft
	}
	c.UsedCount++
	tx.repo.coupons[id] = c
	return c, nil
}

func (tx *memoryTx) InsertRedemption(_ context.Context, couponID int64, orderRef string) (Redemption, error) {
	for _, red := range tx.repo.redemptions {
		if red.CouponID == couponID && red.OrderRef == orderRef {
			return Redemption{}, shared.ErrDuplicateKey
		}
	}
	tx.repo.nextID++
	red := Redemption{ID: tx.repo.nextID, CouponID: couponID, OrderRef: orderRef, RedeemedAt: time.Now()}
	tx.repo.redemptions = append(tx.repo.redemptions, red)
	return red, nil
}

package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storefront/storefront/internal/coupons"
	"github.com/storefront/storefront/internal/inventory"
	"github.com/storefront/storefront/internal/shared"
)

// memoryStore serialises every transaction behind one mutex and restores a snapshot when
// the callback fails, mirroring a rolled back PostgreSQL transaction.
type memoryStore struct {
	mu          sync.Mutex
	variants    map[int64]inventory.Variant
	movements   []inventory.Movement
	coupons     map[int64]coupons.Coupon
	redemptions []coupons.Redemption
	intents     map[uuid.UUID]Intent
	nextID      int64

	onInsertIntent func() error
	failRollback   error
}

type memoryTx struct {
	s *memoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		variants: make(map[int64]inventory.Variant),
		coupons:  make(map[int64]coupons.Coupon),
		intents:  make(map[uuid.UUID]Intent),
	}
}

func (s *memoryStore) seedVariant(stock int, price string) inventory.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	v := inventory.Variant{
		ID:            s.nextID,
		ProductID:     1,
		SKU:           "SKU-" + uuid.NewString()[:8],
		StockQuantity: stock,
		IsActive:      true,
		ProductActive: true,
		BasePrice:     decimal.RequireFromString(price),
	}
	s.variants[v.ID] = v
	return v
}

func (s *memoryStore) seedCoupon(c coupons.Coupon) coupons.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c.ID = s.nextID
	c.Code = coupons.NormalizeCode(c.Code)
	c.IsActive = true
	s.coupons[c.ID] = c
	return c
}

func (s *memoryStore) stock(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variants[id].StockQuantity
}

func (s *memoryStore) coupon(id int64) coupons.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coupons[id]
}

func (s *memoryStore) intentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.intents)
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	variants := make(map[int64]inventory.Variant, len(s.variants))
	for k, v := range s.variants {
		variants[k] = v
	}
	couponRows := make(map[int64]coupons.Coupon, len(s.coupons))
	for k, v := range s.coupons {
		couponRows[k] = v
	}
	intents := make(map[uuid.UUID]Intent, len(s.intents))
	for k, v := range s.intents {
		intents[k] = v
	}
	movements := append([]inventory.Movement(nil), s.movements...)
	redemptions := append([]coupons.Redemption(nil), s.redemptions...)

	tx := &memoryTx{s: s}
	if err := fn(ctx, Tx{Stock: tx, Coupons: tx, Intents: tx}); err != nil {
		s.variants, s.coupons, s.intents = variants, couponRows, intents
		s.movements, s.redemptions = movements, redemptions
		return err
	}
	return nil
}

func (s *memoryStore) GetIntent(_ context.Context, id uuid.UUID) (Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return Intent{}, shared.ErrNotFound
	}
	return in, nil
}

func (tx *memoryTx) GetVariantForUpdate(_ context.Context, id int64) (inventory.Variant, error) {
	v, ok := tx.s.variants[id]
	if !ok {
		return inventory.Variant{}, shared.ErrNotFound
	}
	return v, nil
}

func (tx *memoryTx) SetStock(_ context.Context, id int64, qty int) error {
	v, ok := tx.s.variants[id]
	if !ok {
		return shared.ErrNotFound
	}
	v.StockQuantity = qty
	tx.s.variants[id] = v
	return nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m inventory.Movement) (inventory.Movement, error) {
	if m.Mode == inventory.ModeAdd && tx.s.failRollback != nil {
		return inventory.Movement{}, tx.s.failRollback
	}
	tx.s.nextID++
	m.ID = tx.s.nextID
	m.CreatedAt = time.Now()
	tx.s.movements = append(tx.s.movements, m)
	return m, nil
}

func (tx *memoryTx) LockProduct(context.Context, int64) (bool, error) { return true, nil }

func (tx *memoryTx) SKUExists(context.Context, string) (bool, error) { return false, nil }

func (tx *memoryTx) InsertVariant(_ context.Context, v inventory.Variant) (inventory.Variant, error) {
	tx.s.nextID++
	v.ID = tx.s.nextID
	tx.s.variants[v.ID] = v
	return v, nil
}

func (tx *memoryTx) SetVariantActive(_ context.Context, id int64, active bool) error {
	v, ok := tx.s.variants[id]
	if !ok {
		return shared.ErrNotFound
	}
	v.IsActive = active
	tx.s.variants[id] = v
	return nil
}

func (tx *memoryTx) GetByCode(_ context.Context, code string) (coupons.Coupon, error) {
	code = coupons.NormalizeCode(code)
	for _, c := range tx.s.coupons {
		if c.Code == code {
			return c, nil
		}
	}
	return coupons.Coupon{}, shared.ErrNotFound
}

func (tx *memoryTx) LockCoupon(_ context.Context, id int64) (coupons.Coupon, error) {
	c, ok := tx.s.coupons[id]
	if !ok {
		return coupons.Coupon{}, shared.ErrNotFound
	}
	return c, nil
}

func (tx *memoryTx) CodeExists(ctx context.Context, code string) (bool, error) {
	_, err := tx.GetByCode(ctx, code)
	return err == nil, nil
}

func (tx *memoryTx) InsertCoupon(_ context.Context, c coupons.Coupon) (coupons.Coupon, error) {
	tx.s.nextID++
	c.ID = tx.s.nextID
	tx.s.coupons[c.ID] = c
	return c, nil
}

func (tx *memoryTx) UpdateCoupon(_ context.Context, c coupons.Coupon) (coupons.Coupon, error) {
	tx.s.coupons[c.ID] = c
	return c, nil
}

func (tx *memoryTx) IncrementUsage(_ context.Context, id int64, now time.Time) (coupons.Coupon, error) {
	c, ok := tx.s.coupons[id]
	if !ok || !c.IsActive || !c.InWindow(now) || c.Exhausted() {
		return coupons.Coupon{}, coupons.ErrNoUsageLeft
	}
	c.UsedCount++
	tx.s.coupons[id] = c
	return c, nil
}

func (tx *memoryTx) InsertRedemption(_ context.Context, couponID int64, orderRef string) (coupons.Redemption, error) {
	for _, red := range tx.s.redemptions {
		if red.CouponID == couponID && red.OrderRef == orderRef {
			return coupons.Redemption{}, shared.ErrDuplicateKey
		}
	}
	tx.s.nextID++
	red := coupons.Redemption{ID: tx.s.nextID, CouponID: couponID, OrderRef: orderRef, RedeemedAt: time.Now()}
	tx.s.redemptions = append(tx.s.redemptions, red)
	return red, nil
}

func (tx *memoryTx) InsertIntent(_ context.Context, in Intent) error {
	if tx.s.onInsertIntent != nil {
		if err := tx.s.onInsertIntent(); err != nil {
			return err
		}
	}
	if _, exists := tx.s.intents[in.ID]; exists {
		return shared.ErrDuplicateKey
	}
	in.Lines = append([]IntentLine(nil), in.Lines...)
	tx.s.intents[in.ID] = in
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]string)}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

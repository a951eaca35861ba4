package coupons

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/storefront/internal/observability"
	"github.com/storefront/storefront/internal/shared"
)

// Service coordinates coupon operations.
type Service struct {
	repo    RepositoryPort
	audit   shared.AuditPort
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service. audit and metrics may be nil.
func NewService(repo RepositoryPort, audit shared.AuditPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, logger: logger, now: time.Now}
}

// ValidateCoupon checks code against cartTotal at now without mutating anything. Rule
// failures are reported in the Validation; the error is reserved for storage failures.
func (s *Service) ValidateCoupon(ctx context.Context, code string, cartTotal decimal.Decimal, now time.Time) (Validation, error) {
	if cartTotal.IsNegative() {
		return Validation{}, shared.NewValidationError("cart_total", "must be at least 0")
	}
	c, err := s.repo.GetByCode(ctx, code)
	if errors.Is(err, shared.ErrNotFound) {
		return Validation{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return Validation{}, fmt.Errorf("coupons: validate: %w", err)
	}
	return Evaluate(c, cartTotal, now), nil
}

// Evaluate runs Check and, when the coupon applies, prices it.
func Evaluate(c Coupon, cartTotal decimal.Decimal, now time.Time) Validation {
	if reason := Check(c, cartTotal, now); reason != ReasonNone {
		if reason == ReasonNotFound {
			return Validation{Reason: reason}
		}
		return Validation{Reason: reason, Coupon: &c}
	}
	quote := Discount(c, cartTotal)
	return Validation{Valid: true, Coupon: &c, Discount: quote.Discount, FreeShipping: quote.FreeShipping}
}

// Redeem increments usage and records the redemption inside tx. It is the step shared by
// RedeemCoupon and the checkout coordinator.
func Redeem(ctx context.Context, tx TxRepository, couponID int64, orderRef string, now time.Time) (Coupon, error) {
	if orderRef == "" {
		return Coupon{}, shared.NewValidationError("order_ref", "is required")
	}
	c, err := tx.IncrementUsage(ctx, couponID, now)
	if errors.Is(err, ErrNoUsageLeft) {
		return Coupon{}, explainRejection(ctx, tx, couponID, now)
	}
	if err != nil {
		return Coupon{}, err
	}
	if _, err := tx.InsertRedemption(ctx, couponID, orderRef); err != nil {
		return Coupon{}, err
	}
	return c, nil
}

// explainRejection maps a refused increment onto the matching coupon error.
func explainRejection(ctx context.Context, tx TxRepository, couponID int64, now time.Time) error {
	c, err := tx.LockCoupon(ctx, couponID)
	if errors.Is(err, shared.ErrNotFound) {
		return shared.ErrCouponNotFound
	}
	if err != nil {
		return err
	}
	switch {
	case !c.IsActive:
		return shared.ErrCouponNotFound
	case !c.InWindow(now):
		return shared.ErrCouponExpired
	}
	return shared.ErrCouponLimitReached
}

// RedeemCoupon records one use of a coupon for orderRef. A second redemption for the same
// order fails with ErrDuplicateKey.
func (s *Service) RedeemCoupon(ctx context.Context, couponID int64, orderRef string) (Coupon, error) {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return Coupon{}, err
	}
	var redeemed Coupon
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		redeemed, err = Redeem(ctx, tx, couponID, orderRef, s.now())
		return err
	})
	if err != nil {
		s.metrics.CouponRedeemed(outcome(err))
		return Coupon{}, fmt.Errorf("coupons: redeem %d: %w", couponID, err)
	}
	s.metrics.CouponRedeemed(observability.OutcomeOK)
	s.record(ctx, actor.ID, "coupon:redeem", couponID, map[string]any{"order_ref": orderRef, "used_count": redeemed.UsedCount})
	return redeemed, nil
}

// CreateCoupon inserts an active coupon.
func (s *Service) CreateCoupon(ctx context.Context, input CouponInput) (Coupon, error) {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return Coupon{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Coupon{}, err
	}
	c := Coupon{
		Code:          NormalizeCode(input.Code),
		DiscountType:  input.DiscountType,
		DiscountValue: input.DiscountValue,
		MaxDiscount:   input.MaxDiscount,
		MinimumAmount: input.MinimumAmount,
		UsageLimit:    input.UsageLimit,
		ValidFrom:     utc(input.ValidFrom),
		ValidTo:       utc(input.ValidTo),
		IsActive:      true,
	}
	if err := validateTerms(c); err != nil {
		return Coupon{}, err
	}
	var created Coupon
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.CodeExists(ctx, c.Code)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("coupon code %q: %w", c.Code, shared.ErrDuplicateKey)
		}
		created, err = tx.InsertCoupon(ctx, c)
		return err
	})
	if err != nil {
		return Coupon{}, fmt.Errorf("coupons: create: %w", err)
	}
	s.record(ctx, actor.ID, "coupon:create", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

// UpdateCoupon applies the provided fields under a row lock.
func (s *Service) UpdateCoupon(ctx context.Context, id int64, input CouponUpdate) (Coupon, error) {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return Coupon{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Coupon{}, err
	}
	var updated Coupon
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockCoupon(ctx, id)
		if err != nil {
			return err
		}
		next, err := applyUpdate(current, input)
		if err != nil {
			return err
		}
		if err := validateTerms(next); err != nil {
			return err
		}
		updated, err = tx.UpdateCoupon(ctx, next)
		return err
	})
	if err != nil {
		return Coupon{}, fmt.Errorf("coupons: update %d: %w", id, err)
	}
	s.record(ctx, actor.ID, "coupon:update", id, map[string]any{"is_active": updated.IsActive})
	return updated, nil
}

func applyUpdate(c Coupon, input CouponUpdate) (Coupon, error) {
	if input.DiscountType != nil {
		c.DiscountType = *input.DiscountType
	}
	if input.DiscountValue != nil {
		c.DiscountValue = *input.DiscountValue
	}
	switch {
	case input.ClearMaxDiscount && input.MaxDiscount != nil:
		return Coupon{}, shared.NewValidationError("max_discount", "cannot be set and cleared together")
	case input.ClearMaxDiscount:
		c.MaxDiscount = decimal.NullDecimal{}
	case input.MaxDiscount != nil:
		c.MaxDiscount = decimal.NewNullDecimal(*input.MaxDiscount)
	}
	if input.MinimumAmount != nil {
		c.MinimumAmount = *input.MinimumAmount
	}
	switch {
	case input.ClearUsageLimit && input.UsageLimit != nil:
		return Coupon{}, shared.NewValidationError("usage_limit", "cannot be set and cleared together")
	case input.ClearUsageLimit:
		c.UsageLimit = nil
	case input.UsageLimit != nil:
		limit := *input.UsageLimit
		c.UsageLimit = &limit
	}
	switch {
	case input.ClearValidFrom && input.ValidFrom != nil:
		return Coupon{}, shared.NewValidationError("valid_from", "cannot be set and cleared together")
	case input.ClearValidFrom:
		c.ValidFrom = nil
	case input.ValidFrom != nil:
		c.ValidFrom = utc(input.ValidFrom)
	}
	switch {
	case input.ClearValidTo && input.ValidTo != nil:
		return Coupon{}, shared.NewValidationError("valid_to", "cannot be set and cleared together")
	case input.ClearValidTo:
		c.ValidTo = nil
	case input.ValidTo != nil:
		c.ValidTo = utc(input.ValidTo)
	}
	if input.IsActive != nil {
		c.IsActive = *input.IsActive
	}
	return c, nil
}

// DeactivateCoupon disables a coupon. It is idempotent.
func (s *Service) DeactivateCoupon(ctx context.Context, id int64) error {
	actor, err := shared.RequireStaff(ctx)
	if err != nil {
		return err
	}
	changed := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.LockCoupon(ctx, id)
		if err != nil {
			return err
		}
		if !c.IsActive {
			return nil
		}
		changed = true
		c.IsActive = false
		_, err = tx.UpdateCoupon(ctx, c)
		return err
	})
	if err != nil {
		return fmt.Errorf("coupons: deactivate %d: %w", id, err)
	}
	if changed {
		s.record(ctx, actor.ID, "coupon:deactivate", id, nil)
	}
	return nil
}

// GetCoupon returns a coupon by id.
func (s *Service) GetCoupon(ctx context.Context, id int64) (Coupon, error) {
	return s.repo.GetCoupon(ctx, id)
}

// ListCoupons returns a page of coupons.
func (s *Service) ListCoupons(ctx context.Context, filters shared.ListFilters) ([]Coupon, shared.Pagination, error) {
	filters = filters.Normalize()
	items, total, err := s.repo.ListCoupons(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.Limit, total), nil
}

// ListRedemptions returns the most recent redemptions of a coupon.
func (s *Service) ListRedemptions(ctx context.Context, couponID int64, limit int) ([]Redemption, error) {
	if _, err := s.repo.GetCoupon(ctx, couponID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > shared.MaxLimit {
		limit = shared.MaxLimit
	}
	return s.repo.ListRedemptions(ctx, couponID, limit)
}

func outcome(err error) string {
	for _, rejected := range []error{shared.ErrCouponNotFound, shared.ErrCouponExpired, shared.ErrCouponLimitReached, shared.ErrDuplicateKey, shared.ErrValidation} {
		if errors.Is(err, rejected) {
			return observability.OutcomeRejected
		}
	}
	return observability.OutcomeError
}

func (s *Service) record(ctx context.Context, actorID int64, action string, couponID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "coupon",
		EntityID: strconv.FormatInt(couponID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("coupon audit failed", slog.String("action", action), slog.Any("error", err))
	}
}

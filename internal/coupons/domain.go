// Package coupons validates and redeems promotion codes.
package coupons

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/storefront/internal/shared"
)

// DiscountType enumerates how a coupon reduces the cart.
type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixedAmount  DiscountType = "fixed_amount"
	DiscountFreeShipping DiscountType = "free_shipping"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

// NormalizeCode upper-cases and trims a coupon code. Codes compare case-insensitively.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Coupon is a promotion code. UsageLimit nil means unlimited.
type Coupon struct {
	ID            int64               `json:"id"`
	Code          string              `json:"code"`
	DiscountType  DiscountType        `json:"discount_type"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	MaxDiscount   decimal.NullDecimal `json:"max_discount"`
	MinimumAmount decimal.Decimal     `json:"minimum_amount"`
	UsageLimit    *int                `json:"usage_limit,omitempty"`
	UsedCount     int                 `json:"used_count"`
	ValidFrom     *time.Time          `json:"valid_from"`
	ValidTo       *time.Time          `json:"valid_to"`
	IsActive      bool                `json:"is_active"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// InWindow reports whether now falls inside the validity window. Both ends are inclusive
// and a nil end is open.
func (c Coupon) InWindow(now time.Time) bool {
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	return c.ValidTo == nil || !now.After(*c.ValidTo)
}

// Exhausted reports whether the usage limit has been reached.
func (c Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit
}

// Redemption records one confirmed use of a coupon by an order.
type Redemption struct {
	ID         int64     `json:"id"`
	CouponID   int64     `json:"coupon_id"`
	OrderRef   string    `json:"order_ref"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// Reason explains why a coupon does not apply.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotFound      Reason = "not_found"
	ReasonExpired       Reason = "expired"
	ReasonMinimumNotMet Reason = "minimum_not_met"
	ReasonLimitReached  Reason = "limit_reached"
)

var reasonErrors = map[Reason]error{
	ReasonNotFound:      shared.ErrCouponNotFound,
	ReasonExpired:       shared.ErrCouponExpired,
	ReasonMinimumNotMet: shared.ErrCouponMinimumNotMet,
	ReasonLimitReached:  shared.ErrCouponLimitReached,
}

// Validation is the outcome of checking a code against a cart.
type Validation struct {
	Valid        bool            `json:"valid"`
	Reason       Reason          `json:"reason,omitempty"`
	Coupon       *Coupon         `json:"coupon,omitempty"`
	Discount     decimal.Decimal `json:"discount"`
	FreeShipping bool            `json:"free_shipping"`
}

// Err returns the sentinel matching Reason, or nil when the coupon is valid.
func (v Validation) Err() error {
	if v.Valid {
		return nil
	}
	return reasonErrors[v.Reason]
}

// Quote is the money effect of a coupon on a cart total.
type Quote struct {
	Discount     decimal.Decimal `json:"discount"`
	Total        decimal.Decimal `json:"total"`
	FreeShipping bool            `json:"free_shipping"`
}

// CouponInput creates a coupon.
type CouponInput struct {
	Code          string              `json:"code" validate:"required,max=32"`
	DiscountType  DiscountType        `json:"discount_type" validate:"required,oneof=percentage fixed_amount free_shipping"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	MaxDiscount   decimal.NullDecimal `json:"max_discount"`
	MinimumAmount decimal.Decimal     `json:"minimum_amount"`
	UsageLimit    *int                `json:"usage_limit" validate:"omitempty,gt=0"`
	ValidFrom     *time.Time          `json:"valid_from"`
	ValidTo       *time.Time          `json:"valid_to"`
}

// CouponUpdate lists every mutable coupon field; nil means unchanged. The code is immutable.
type CouponUpdate struct {
	DiscountType     *DiscountType    `json:"discount_type" validate:"omitempty,oneof=percentage fixed_amount free_shipping"`
	DiscountValue    *decimal.Decimal `json:"discount_value"`
	MaxDiscount      *decimal.Decimal `json:"max_discount"`
	ClearMaxDiscount bool             `json:"clear_max_discount"`
	MinimumAmount    *decimal.Decimal `json:"minimum_amount"`
	UsageLimit       *int             `json:"usage_limit" validate:"omitempty,gt=0"`
	ClearUsageLimit  bool             `json:"clear_usage_limit"`
	ValidFrom        *time.Time       `json:"valid_from"`
	ClearValidFrom   bool             `json:"clear_valid_from"`
	ValidTo          *time.Time       `json:"valid_to"`
	ClearValidTo     bool             `json:"clear_valid_to"`
	IsActive         *bool            `json:"is_active"`
}

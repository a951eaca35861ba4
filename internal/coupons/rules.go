package coupons

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/storefront/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// Check applies the validation rules in order: exists and active, inside the validity
// window, cart total at least the minimum, usage limit not reached.
func Check(c Coupon, cartTotal decimal.Decimal, now time.Time) Reason {
	switch {
	case !c.IsActive:
		return ReasonNotFound
	case !c.InWindow(now):
		return ReasonExpired
	case cartTotal.LessThan(c.MinimumAmount):
		return ReasonMinimumNotMet
	case c.Exhausted():
		return ReasonLimitReached
	}
	return ReasonNone
}

// Discount computes the item discount of c on cartTotal. Percentage and fixed discounts
// never exceed the total; free shipping discounts no items and sets the shipping flag.
func Discount(c Coupon, cartTotal decimal.Decimal) Quote {
	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		discount = cartTotal.Mul(c.DiscountValue).Div(hundred).Round(2)
		if c.MaxDiscount.Valid && discount.GreaterThan(c.MaxDiscount.Decimal) {
			discount = c.MaxDiscount.Decimal
		}
	case DiscountFixedAmount:
		discount = c.DiscountValue
	case DiscountFreeShipping:
		return Quote{Discount: decimal.Zero, Total: cartTotal, FreeShipping: true}
	}
	if discount.GreaterThan(cartTotal) {
		discount = cartTotal
	}
	return Quote{Discount: discount, Total: cartTotal.Sub(discount)}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func validateTerms(c Coupon) error {
	verr := &shared.ValidationError{}
	if !codePattern.MatchString(c.Code) {
		verr.Add("code", "must be 3-32 characters of letters, digits, hyphen or underscore")
	}
	switch c.DiscountType {
	case DiscountPercentage:
		if !c.DiscountValue.IsPositive() || c.DiscountValue.GreaterThan(hundred) {
			verr.Add("discount_value", "must be greater than 0 and at most 100")
		}
	case DiscountFixedAmount:
		if !c.DiscountValue.IsPositive() {
			verr.Add("discount_value", "must be greater than 0")
		}
	case DiscountFreeShipping:
		if !c.DiscountValue.IsZero() {
			verr.Add("discount_value", "must be 0 for free shipping")
		}
	default:
		verr.Add("discount_type", "must be one of percentage fixed_amount free_shipping")
	}
	if c.MaxDiscount.Valid {
		if c.DiscountType != DiscountPercentage {
			verr.Add("max_discount", "only applies to percentage coupons")
		} else if !c.MaxDiscount.Decimal.IsPositive() {
			verr.Add("max_discount", "must be greater than 0")
		}
	}
	if c.MinimumAmount.IsNegative() {
		verr.Add("minimum_amount", "must be at least 0")
	}
	if c.UsageLimit != nil && *c.UsageLimit < c.UsedCount {
		verr.Add("usage_limit", "must not be below used_count")
	}
	if c.UsageLimit != nil && *c.UsageLimit <= 0 {
		verr.Add("usage_limit", "must be greater than 0")
	}
	if c.ValidFrom != nil && c.ValidTo != nil && !c.ValidTo.After(*c.ValidFrom) {
		verr.Add("valid_to", "must be after valid_from")
	}
	return verr.OrNil()
}

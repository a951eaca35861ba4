package shared

import (
	"errors"
	"sort"
	"strings"
)

// Error taxonomy returned by every engine operation. Callers match with errors.Is.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey indicates a unique name, slug, sku or code collision.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrReferentialConflict blocks deactivation while active children exist.
	ErrReferentialConflict = errors.New("referenced by active records")
	// ErrInsufficientStock rejects a subtract larger than the stock on hand.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCouponNotFound covers unknown and inactive coupon codes.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponExpired covers both not-yet-valid and expired coupons.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponMinimumNotMet indicates the cart total is below the coupon minimum.
	ErrCouponMinimumNotMet = errors.New("coupon minimum amount not met")
	// ErrCouponLimitReached indicates the coupon usage limit is exhausted.
	ErrCouponLimitReached = errors.New("coupon usage limit reached")
	// ErrForbidden rejects privileged operations from non staff callers.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation flags malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrStorageUnavailable signals an unreachable or timed out backend.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError carries per-field messages and matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) succeed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add records a field message.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// OrNil returns nil when no field has been recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// UserSafeMessage strips internal details from errors before they reach a response.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	for _, known := range []error{
		ErrNotFound, ErrDuplicateKey, ErrReferentialConflict, ErrInsufficientStock,
		ErrCouponNotFound, ErrCouponExpired, ErrCouponMinimumNotMet, ErrCouponLimitReached,
		ErrForbidden, ErrValidation, ErrStorageUnavailable,
	} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	return "internal error"
}

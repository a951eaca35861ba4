// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/storefront/storefront/internal/shared"
)

type mapping struct {
	target error
	status int
	title  string
	code   string
}

// Order matters: coupon errors are checked before the generic NotFound.
var mappings = []mapping{
	{shared.ErrValidation, http.StatusBadRequest, "Validation Failed", "validation_error"},
	{shared.ErrForbidden, http.StatusForbidden, "Forbidden", "forbidden"},
	{shared.ErrCouponNotFound, http.StatusNotFound, "Coupon Not Found", "coupon_not_found"},
	{shared.ErrCouponExpired, http.StatusUnprocessableEntity, "Coupon Expired", "coupon_expired"},
	{shared.ErrCouponMinimumNotMet, http.StatusUnprocessableEntity, "Coupon Minimum Not Met", "coupon_minimum_not_met"},
	{shared.ErrCouponLimitReached, http.StatusConflict, "Coupon Limit Reached", "coupon_limit_reached"},
	{shared.ErrNotFound, http.StatusNotFound, "Not Found", "not_found"},
	{shared.ErrDuplicateKey, http.StatusConflict, "Duplicate", "duplicate_key"},
	{shared.ErrReferentialConflict, http.StatusConflict, "Referential Conflict", "referential_conflict"},
	{shared.ErrInsufficientStock, http.StatusConflict, "Insufficient Stock", "insufficient_stock"},
	{shared.ErrStorageUnavailable, http.StatusServiceUnavailable, "Storage Unavailable", "storage_unavailable"},
}

// StatusFor returns the HTTP status and problem code for err.
func StatusFor(err error) (int, string, string) {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.status, m.title, m.code
		}
	}
	return http.StatusInternalServerError, "Internal Error", "internal"
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status, title, code := StatusFor(err)
	detail := ""
	if status != http.StatusInternalServerError {
		detail = shared.UserSafeMessage(err)
	}
	problem := ProblemDetail{
		Type:   "urn:storefront:error:" + code,
		Title:  title,
		Status: status,
		Detail: detail,
	}
	var verr *shared.ValidationError
	if errors.As(err, &verr) {
		problem.Fields = verr.Fields
	}
	JSON(w, status, problem)
}

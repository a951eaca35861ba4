package coupons

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/storefront/storefront/internal/identity"
	"github.com/storefront/storefront/internal/shared"
)

func TestHandlerCouponFlow(t *testing.T) {
	verifier, err := identity.NewVerifier("coupon-secret", "", 0)
	require.NoError(t, err)
	auth := identity.Middleware{Verifier: verifier}
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)

	r := chi.NewRouter()
	r.Use(auth.Authenticate)
	NewHandler(slog.Default(), svc, auth).MountRoutes(r)

	staff, err := verifier.Issue(shared.Actor{ID: 1, Role: shared.RoleStaff}, time.Hour)
	require.NoError(t, err)
	customer, err := verifier.Issue(shared.Actor{ID: 2, Role: shared.RoleCustomer}, time.Hour)
	require.NoError(t, err)
	do := func(method, path, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	from := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	to := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"code":"save10","discount_type":"percentage","discount_value":"10","minimum_amount":"50",` +
		`"usage_limit":1,"valid_from":"` + from + `","valid_to":"` + to + `"}`

	rec := do(http.MethodPost, "/coupons", customer, body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(http.MethodPost, "/coupons", staff, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Coupon
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "SAVE10", created.Code)

	rec = do(http.MethodPost, "/coupons/validate", "", `{"code":"SAVE10","cart_total":"40"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result Validation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.False(t, result.Valid)
	require.Equal(t, ReasonMinimumNotMet, result.Reason)

	rec = do(http.MethodPost, "/coupons/validate", "", `{"code":"SAVE10","cart_total":60}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Valid)
	require.Equal(t, "6", result.Discount.String())

	redeemPath := "/coupons/" + strconv.FormatInt(created.ID, 10) + "/redemptions"
	rec = do(http.MethodPost, redeemPath, staff, `{"order_ref":"A-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(http.MethodPost, redeemPath, staff, `{"order_ref":"A-2"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "coupon_limit_reached")

	rec = do(http.MethodGet, redeemPath, staff, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var redemptions []Redemption
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &redemptions))
	require.Len(t, redemptions, 1)

	rec = do(http.MethodDelete, "/coupons/"+strconv.FormatInt(created.ID, 10), staff, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(http.MethodPost, "/coupons/validate", "", `{"code":"SAVE10","cart_total":"60","extra":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

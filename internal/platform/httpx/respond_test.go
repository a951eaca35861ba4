package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storefront/storefront/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("variant 4: %w", shared.ErrInsufficientStock), http.StatusConflict, "insufficient_stock"},
		{shared.ErrCouponNotFound, http.StatusNotFound, "coupon_not_found"},
		{shared.ErrCouponExpired, http.StatusUnprocessableEntity, "coupon_expired"},
		{shared.ErrReferentialConflict, http.StatusConflict, "referential_conflict"},
		{shared.ErrForbidden, http.StatusForbidden, "forbidden"},
		{shared.NewValidationError("name", "required"), http.StatusBadRequest, "validation_error"},
		{shared.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
		require.Equal(t, "urn:storefront:error:"+tc.code, problem.Type)
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("pq: password authentication failed"))
	require.NotContains(t, rr.Body.String(), "password")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	require.NoError(t, DecodeJSON(req, &target))
	require.Equal(t, "x", target.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	require.ErrorIs(t, DecodeJSON(req, &target), shared.ErrValidation)
}

func TestParseID(t *testing.T) {
	id, err := ParseID("id", "42")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	_, err = ParseID("id", "-1")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = ParseID("id", "abc")
	require.ErrorIs(t, err, shared.ErrValidation)
}

package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `storefront_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `storefront_http_request_duration_seconds_bucket{route="/test"`)
}

func TestDomainCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.StockAdjusted("subtract", OutcomeRejected)
	metrics.CouponRedeemed(OutcomeOK)
	metrics.CouponRedeemed(OutcomeOK)
	metrics.OrderIntent("transactional", OutcomeOK)
	metrics.SetLowStock(3)

	body := scrape(t, metrics)
	require.Contains(t, body, `storefront_stock_adjustments_total{mode="subtract",outcome="rejected"} 1`)
	require.Contains(t, body, `storefront_coupon_redemptions_total{outcome="ok"} 2`)
	require.Contains(t, body, `storefront_order_intents_total{mode="transactional",outcome="ok"} 1`)
	require.Contains(t, body, `storefront_low_stock_variants 3`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.StockAdjusted("add", OutcomeOK)
	metrics.SetLowStock(1)
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

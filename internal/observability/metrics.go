package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the domain counters.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics collects Prometheus metrics for the storefront engine.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	stockAdjustments  *prometheus.CounterVec
	couponRedemptions *prometheus.CounterVec
	orderIntents      *prometheus.CounterVec
	lowStockVariants  prometheus.Gauge
}

// NewMetrics initialises the registry with HTTP and domain collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_stock_adjustments_total",
		Help: "Stock adjustments by mode and outcome.",
	}, []string{"mode", "outcome"})
	redemptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_coupon_redemptions_total",
		Help: "Coupon redemption attempts by outcome.",
	}, []string{"outcome"})
	intents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_order_intents_total",
		Help: "Order intents by coordinator mode and outcome.",
	}, []string{"mode", "outcome"})
	lowStock := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_low_stock_variants",
		Help: "Active variants below the low stock threshold at the last scan.",
	})
	registry.MustRegister(requests, duration, adjustments, redemptions, intents, lowStock)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		stockAdjustments:  adjustments,
		couponRedemptions: redemptions,
		orderIntents:      intents,
		lowStockVariants:  lowStock,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// StockAdjusted counts one adjustment attempt.
func (m *Metrics) StockAdjusted(mode, outcome string) {
	if m == nil {
		return
	}
	m.stockAdjustments.WithLabelValues(mode, outcome).Inc()
}

// CouponRedeemed counts one redemption attempt.
func (m *Metrics) CouponRedeemed(outcome string) {
	if m == nil {
		return
	}
	m.couponRedemptions.WithLabelValues(outcome).Inc()
}

// OrderIntent counts one intent attempt.
func (m *Metrics) OrderIntent(mode, outcome string) {
	if m == nil {
		return
	}
	m.orderIntents.WithLabelValues(mode, outcome).Inc()
}

// SetLowStock publishes the size of the last low stock scan.
func (m *Metrics) SetLowStock(n int) {
	if m == nil {
		return
	}
	m.lowStockVariants.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

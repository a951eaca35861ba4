package coupons

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/storefront/storefront/internal/identity"
	"github.com/storefront/storefront/internal/platform/httpx"
	"github.com/storefront/storefront/internal/shared"
)

// Handler wires HTTP endpoints for coupons module.
type Handler struct {
	logger  *slog.Logger
	service *Service
	auth    identity.Middleware
}

// NewHandler constructs coupon handler.
func NewHandler(logger *slog.Logger, service *Service, auth identity.Middleware) *Handler {
	return &Handler{logger: logger, service: service, auth: auth}
}

// MountRoutes registers coupon routes. Validation is public; everything else needs staff.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/coupons/validate", h.validate)
	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireStaff())
		r.Get("/coupons", h.listCoupons)
		r.Post("/coupons", h.createCoupon)
		r.Get("/coupons/{id}", h.getCoupon)
		r.Patch("/coupons/{id}", h.updateCoupon)
		r.Delete("/coupons/{id}", h.deactivateCoupon)
		r.Post("/coupons/{id}/redemptions", h.redeem)
		r.Get("/coupons/{id}/redemptions", h.listRedemptions)
	})
}

type validateRequest struct {
	Code      string          `json:"code"`
	CartTotal decimal.Decimal `json:"cart_total"`
}

type redeemRequest struct {
	OrderRef string `json:"order_ref"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("coupon request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.ValidateCoupon(r.Context(), req.Code, req.CartTotal, time.Now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	filters, err := httpx.ParseListFilters(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, page, err := h.service.ListCoupons(r.Context(), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.ListResponse{Data: items, Pagination: page})
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var input CouponInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.service.CreateCoupon(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.service.GetCoupon(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input CouponUpdate
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.service.UpdateCoupon(r.Context(), id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) deactivateCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeactivateCoupon(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) redeem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req redeemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.service.RedeemCoupon(r.Context(), id, req.OrderRef)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) listRedemptions(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.fail(w, r, shared.NewValidationError("limit", "must be a non-negative integer"))
			return
		}
	}
	items, err := h.service.ListRedemptions(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

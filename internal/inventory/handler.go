package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/storefront/internal/identity"
	"github.com/storefront/storefront/internal/platform/httpx"
	"github.com/storefront/storefront/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
	auth    identity.Middleware
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, auth identity.Middleware) *Handler {
	return &Handler{logger: logger, service: service, auth: auth}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/variants/{id}", h.getVariant)
	r.Get("/products/{id}/variants", h.listVariants)
	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireStaff())
		r.Post("/products/{id}/variants", h.createVariant)
		r.Post("/variants/{id}/adjustments", h.adjustStock)
		r.Get("/variants/{id}/movements", h.listMovements)
		r.Delete("/variants/{id}", h.deactivateVariant)
		r.Get("/low-stock", h.listLowStock)
	})
}

type adjustRequest struct {
	Delta int        `json:"delta"`
	Mode  AdjustMode `json:"mode"`
	Ref   string     `json:"ref"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) getVariant(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.service.GetVariant(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if actor, _ := shared.ActorFromContext(r.Context()); !v.Sellable() && !actor.Role.Privileged() {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) listVariants(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.ParseID("product_id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	variants, err := h.service.ListVariants(r.Context(), productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if actor, _ := shared.ActorFromContext(r.Context()); !actor.Role.Privileged() {
		visible := variants[:0]
		for _, v := range variants {
			if v.Sellable() {
				visible = append(visible, v)
			}
		}
		variants = visible
	}
	httpx.JSON(w, http.StatusOK, variants)
}

func (h *Handler) createVariant(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.ParseID("product_id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input VariantInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.service.CreateVariant(r.Context(), productID, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	movement, err := h.service.AdjustStock(r.Context(), Adjustment{VariantID: id, Delta: req.Delta, Mode: req.Mode, Ref: req.Ref})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movement)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := intQuery(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	movements, err := h.service.ListMovements(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) deactivateVariant(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeactivateVariant(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listLowStock(w http.ResponseWriter, r *http.Request) {
	threshold, err := intQuery(r, "threshold")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := intQuery(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	variants, err := h.service.ListLowStock(r.Context(), threshold, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, variants)
}

func intQuery(r *http.Request, field string) (int, error) {
	raw := r.URL.Query().Get(field)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, shared.NewValidationError(field, "must be a non-negative integer")
	}
	return v, nil
}

package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/storefront/internal/identity"
	"github.com/storefront/storefront/internal/platform/httpx"
	"github.com/storefront/storefront/internal/shared"
)

// Handler wires HTTP endpoints for the catalog.
type Handler struct {
	logger  *slog.Logger
	service *Service
	auth    identity.Middleware
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service, auth identity.Middleware) *Handler {
	return &Handler{logger: logger, service: service, auth: auth}
}

// MountRoutes registers catalog routes. Reads are public; writes require staff.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/slug/{slug}", h.getProductBySlug)
	r.Get("/products/{id}", h.getProduct)
	r.Get("/products/{id}/images", h.listImages)
	r.Get("/products/{id}/cover", h.coverImage)
	r.Get("/categories", h.listCategories)
	r.Get("/categories/{id}", h.getCategory)
	r.Get("/brands", h.listBrands)
	r.Get("/brands/{id}", h.getBrand)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireStaff())
		r.Post("/products", h.createProduct)
		r.Patch("/products/{id}", h.updateProduct)
		r.Delete("/products/{id}", h.deactivateProduct)
		r.Post("/products/{id}/images", h.addImage)
		r.Delete("/images/{id}", h.deactivateImage)
		r.Post("/categories", h.createCategory)
		r.Patch("/categories/{id}", h.updateCategory)
		r.Delete("/categories/{id}", h.deactivateCategory)
		r.Post("/brands", h.createBrand)
		r.Patch("/brands/{id}", h.updateBrand)
		r.Delete("/brands/{id}", h.deactivateBrand)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("catalog request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	filters, err := httpx.ParseListFilters(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if actor, _ := shared.ActorFromContext(r.Context()); !actor.Role.Privileged() {
		active := true
		filters.IsActive = &active
	}
	items, page, err := h.service.ListProducts(r.Context(), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.ListResponse{Data: items, Pagination: page})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	detail, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if actor, _ := shared.ActorFromContext(r.Context()); !detail.IsActive && !actor.Role.Privileged() {
		h.fail(w, r, shared.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) getProductBySlug(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetProductBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var input ProductInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	product, err := h.service.CreateProduct(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input ProductUpdate
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	product, err := h.service.UpdateProduct(r.Context(), id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.DeactivateProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listImages(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	images, err := h.service.ListImages(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, images)
}

func (h *Handler) coverImage(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	img, err := h.service.CoverImage(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, img)
}

func (h *Handler) addImage(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input ImageInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	img, err := h.service.AddImage(r.Context(), id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, img)
}

func (h *Handler) deactivateImage(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeactivateImage(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	filters, err := httpx.ParseListFilters(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, page, err := h.service.ListCategories(r.Context(), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.ListResponse{Data: items, Pagination: page})
}

func (h *Handler) getCategory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	category, err := h.service.GetCategory(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, category)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var input CategoryInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	category, err := h.service.CreateCategory(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, category)
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input CategoryUpdate
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	category, err := h.service.UpdateCategory(r.Context(), id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, category)
}

func (h *Handler) deactivateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeactivateCategory(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listBrands(w http.ResponseWriter, r *http.Request) {
	filters, err := httpx.ParseListFilters(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, page, err := h.service.ListBrands(r.Context(), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.ListResponse{Data: items, Pagination: page})
}

func (h *Handler) getBrand(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	brand, err := h.service.GetBrand(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, brand)
}

func (h *Handler) createBrand(w http.ResponseWriter, r *http.Request) {
	var input BrandInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	brand, err := h.service.CreateBrand(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, brand)
}

func (h *Handler) updateBrand(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input BrandUpdate
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	brand, err := h.service.UpdateBrand(r.Context(), id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, brand)
}

func (h *Handler) deactivateBrand(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeactivateBrand(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

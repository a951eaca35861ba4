package checkout

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/storefront/storefront/internal/identity"
	"github.com/storefront/storefront/internal/platform/httpx"
	"github.com/storefront/storefront/internal/shared"
)

// IdempotencyHeader carries the optional client supplied idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for checkout module.
type Handler struct {
	logger  *slog.Logger
	service *Service
	auth    identity.Middleware
}

// NewHandler constructs checkout handler.
func NewHandler(logger *slog.Logger, service *Service, auth identity.Middleware) *Handler {
	return &Handler{logger: logger, service: service, auth: auth}
}

// MountRoutes registers checkout routes. Every route needs an authenticated caller.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/checkout/intents", func(r chi.Router) {
		r.Use(h.auth.RequireAny())
		r.Post("/", h.placeIntent)
		r.Get("/{id}", h.getIntent)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("checkout request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) placeIntent(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.IdempotencyKey = r.Header.Get(IdempotencyHeader)
	if len(req.IdempotencyKey) > 128 {
		h.fail(w, r, shared.NewValidationError("idempotency_key", "must be at most 128 characters"))
		return
	}
	result, err := h.service.PlaceOrderIntent(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) getIntent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, shared.NewValidationError("id", "must be a UUID"))
		return
	}
	intent, err := h.service.GetIntent(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, intent)
}

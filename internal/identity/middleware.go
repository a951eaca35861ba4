package identity

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/storefront/storefront/internal/platform/httpx"
	"github.com/storefront/storefront/internal/shared"
)

// Middleware wires authentication and role checks for HTTP handlers.
type Middleware struct {
	Verifier *Verifier
	Logger   *slog.Logger
}

// Authenticate attaches the bearer token's actor to the request context. Requests without
// an Authorization header continue anonymously; invalid tokens are rejected.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			httpx.RespondError(w, ErrInvalidToken)
			return
		}
		actor, err := m.Verifier.Verify(token)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Debug("identity rejected token", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// RequireAny ensures the caller holds one of roles. No roles means any authenticated caller.
func (m Middleware) RequireAny(roles ...shared.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := shared.RequireActor(r.Context())
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			if len(roles) == 0 || hasRole(actor.Role, roles) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, shared.ErrForbidden)
		})
	}
}

// RequireStaff admits admin and staff callers.
func (m Middleware) RequireStaff() func(http.Handler) http.Handler {
	return m.RequireAny(shared.RoleAdmin, shared.RoleStaff)
}

func hasRole(role shared.Role, allowed []shared.Role) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}

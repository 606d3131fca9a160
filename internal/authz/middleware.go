package authz

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/keystone-pm/keystone/internal/platform/httpx"
)

const (
	headerActorID   = "X-Actor-Id"
	headerActorRole = "X-Actor-Role"
)

// Middleware wires authorization helpers for HTTP handlers. The platform's
// gateway authenticates requests and forwards the actor identity in
// headers; this service only authorizes.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Actor resolves the principal from the forwarded identity headers and
// attaches it to the request context. Requests without an identity pass
// through unauthenticated; the guards reject them.
func (m Middleware) Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerActorID))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		role := NormalizeRole(r.Header.Get(headerActorRole))
		kind := KindForRole(role)
		if kind == "" {
			if m.Logger != nil {
				m.Logger.Warn("unknown actor role header",
					slog.String("actor", id),
					slog.String("role", r.Header.Get(headerActorRole)))
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := ContextWithPrincipal(r.Context(), Principal{ID: id, Kind: kind})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require ensures the current principal holds the permission triple. Scope
// containment is not checked here; route handlers that operate on a
// concrete resource perform their own scoped check.
func (m Middleware) Require(category ResourceCategory, resource string, action PermissionAction) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			allowed, err := m.Service.HasPermission(r.Context(), CheckRequest{
				Principal: principal,
				Category:  category,
				Resource:  resource,
				Action:    action,
			})
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz require", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !allowed {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

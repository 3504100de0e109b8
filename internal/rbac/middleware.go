package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// TenantParam is the chi URL parameter naming the requested tenant.
const TenantParam = "tenantID"

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// Require ensures the caller holds code in the requested tenant. The tenant
// comes from the {tenantID} route parameter and defaults to the caller's own
// tenant. Missing permissions render 403; foreign tenants render 404.
func (m Middleware) Require(code string) func(http.Handler) http.Handler {
	return m.RequireAny(code)
}

// RequireAny ensures the caller holds at least one of codes.
func (m Middleware) RequireAny(codes ...string) func(http.Handler) http.Handler {
	normalized := make([]string, 0, len(codes))
	for _, c := range codes {
		normalized = append(normalized, MustCode(c))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := principals.IdentityFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrSessionExpired)
				return
			}
			tenantID := RequestedTenant(r, id)
			for _, code := range normalized {
				granted, err := m.Resolver.HasPermission(r.Context(), id, tenantID, code)
				if err != nil {
					if !errors.Is(err, shared.ErrCrossTenant) {
						m.logger().Error("rbac check failed",
							slog.String("permission", code),
							slog.Any("error", err))
					}
					httpx.RespondError(w, err)
					return
				}
				if granted {
					next.ServeHTTP(w, r)
					return
				}
			}
			m.logger().Info("permission denied",
				slog.String("principal_id", id.PrincipalID),
				slog.String("tenant_id", tenantID))
			httpx.RespondError(w, shared.ErrPermissionDenied)
		})
	}
}

// RequestedTenant returns the tenant a request targets.
func RequestedTenant(r *http.Request, id principals.Identity) string {
	if tenant := chi.URLParam(r, TenantParam); tenant != "" {
		return tenant
	}
	return id.Tenant()
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// Permission codes guarding principal administration.
const (
	PermissionPrincipalView   = "PRINCIPAL_VIEW"
	PermissionPrincipalManage = "PRINCIPAL_MANAGE"
)

// AdminHandler lets tenant administrators inspect lockouts and change the
// lifecycle state of principals in their tenant.
type AdminHandler struct {
	logger  *slog.Logger
	gateway *Gateway
	rbac    rbac.Middleware
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(logger *slog.Logger, gateway *Gateway, rbacMW rbac.Middleware) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{logger: logger, gateway: gateway, rbac: rbacMW}
}

// MountRoutes registers routes under /tenants/{tenantID}/principals.
func (h *AdminHandler) MountRoutes(r chi.Router) {
	r.Route("/tenants/{"+rbac.TenantParam+"}/principals/{principalID}", func(r chi.Router) {
		r.With(h.rbac.Require(PermissionPrincipalView)).Get("/", h.handleShow)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.Require(PermissionPrincipalManage))
			r.Post("/unlock", h.mutate("unlock", h.gateway.Unlock))
			r.Post("/suspend", h.mutate("suspend", h.gateway.Suspend))
			r.Post("/reactivate", h.mutate("reactivate", h.gateway.Reactivate))
		})
	})
}

type principalResponse struct {
	ID                  string     `json:"id"`
	Identity            string     `json:"identity"`
	Kind                string     `json:"kind"`
	Status              string     `json:"status"`
	LastAuthenticatedAt *time.Time `json:"lastAuthenticatedAt,omitempty"`
	Locked              bool       `json:"locked"`
	RetryAfterSeconds   int64      `json:"retryAfterSeconds,omitempty"`
}

func (h *AdminHandler) handleShow(w http.ResponseWriter, r *http.Request) {
	p, ok := h.target(w, r)
	if !ok {
		return
	}
	status, err := h.gateway.Lockout(r.Context(), p)
	if err != nil {
		h.logger.Error("read lockout status", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := principalResponse{
		ID:                  p.ID,
		Identity:            p.Identity,
		Kind:                string(p.Kind),
		Status:              string(p.Status),
		LastAuthenticatedAt: p.LastAuthenticatedAt,
		Locked:              status.Locked,
	}
	if status.RetryAfter > 0 {
		resp.RetryAfterSeconds = int64((status.RetryAfter + time.Second - 1) / time.Second)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) mutate(op string, fn func(context.Context, *principals.Principal) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := h.target(w, r)
		if !ok {
			return
		}
		if err := fn(r.Context(), p); err != nil {
			h.logger.Error("principal "+op, slog.String("principal_id", p.ID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		actor, _ := principals.IdentityFromContext(r.Context())
		h.logger.Info("principal administered",
			slog.String("op", op),
			slog.String("actor_id", actor.PrincipalID),
			slog.String("principal_id", p.ID))
		w.WriteHeader(http.StatusNoContent)
	}
}

// target loads the route's principal. Principals outside the route's tenant
// render as missing.
func (h *AdminHandler) target(w http.ResponseWriter, r *http.Request) (*principals.Principal, bool) {
	p, err := h.gateway.Principal(r.Context(), chi.URLParam(r, "principalID"))
	if err == nil && (p.IsPlatformOperator() || p.Tenant() != chi.URLParam(r, rbac.TenantParam)) {
		err = shared.ErrNotFound
	}
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("load principal", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return nil, false
	}
	return p, true
}

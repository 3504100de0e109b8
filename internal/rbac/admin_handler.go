package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// PermissionManage guards every mutating RBAC route.
const PermissionManage = "RBAC_MANAGE"

// PrincipalDirectory looks up the principals a mutation targets.
type PrincipalDirectory interface {
	FindByID(ctx context.Context, id string) (*principals.Principal, error)
}

// AdminHandler exposes tenant-scoped role assignments, direct grants and
// tenant overrides.
type AdminHandler struct {
	logger    *slog.Logger
	service   *Service
	rbac      Middleware
	directory PrincipalDirectory
	validator *validator.Validate
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(logger *slog.Logger, service *Service, rbac Middleware, directory PrincipalDirectory) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		logger:    logger,
		service:   service,
		rbac:      rbac,
		directory: directory,
		validator: validator.New(),
	}
}

// MountRoutes registers the mutation routes under /tenants/{tenantID}.
func (h *AdminHandler) MountRoutes(r chi.Router) {
	r.Route("/tenants/{"+TenantParam+"}", func(r chi.Router) {
		r.Use(h.rbac.Require(PermissionManage))
		r.Route("/principals/{principalID}", func(r chi.Router) {
			r.Put("/roles/{roleCode}", h.assignRole)
			r.Delete("/roles/{roleCode}", h.revokeRole)
			r.Put("/grants/{permission}", h.setGrant)
			r.Delete("/grants/{permission}", h.clearGrant)
		})
		r.Put("/roles/{roleCode}/overrides/{permission}", h.setOverride)
		r.Delete("/roles/{roleCode}/overrides/{permission}", h.clearOverride)
	})
}

type grantRequest struct {
	Effect Effect `json:"effect" validate:"required,oneof=grant deny"`
}

type overrideRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *AdminHandler) assignRole(w http.ResponseWriter, r *http.Request) {
	a, ok := h.assignment(w, r)
	if !ok {
		return
	}
	h.finish(w, r, "assign role", h.service.AssignRole(r.Context(), a))
}

func (h *AdminHandler) revokeRole(w http.ResponseWriter, r *http.Request) {
	a, ok := h.assignment(w, r)
	if !ok {
		return
	}
	h.finish(w, r, "revoke role", h.service.RevokeRole(r.Context(), a))
}

func (h *AdminHandler) setGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenantID, principalID, ok := h.target(w, r)
	if !ok {
		return
	}
	h.finish(w, r, "set direct grant", h.service.SetDirectGrant(r.Context(), DirectGrant{
		PrincipalID:    principalID,
		TenantID:       tenantID,
		PermissionCode: chi.URLParam(r, "permission"),
		Effect:         req.Effect,
	}))
}

func (h *AdminHandler) clearGrant(w http.ResponseWriter, r *http.Request) {
	tenantID, principalID, ok := h.target(w, r)
	if !ok {
		return
	}
	h.finish(w, r, "clear direct grant",
		h.service.ClearDirectGrant(r.Context(), principalID, tenantID, chi.URLParam(r, "permission")))
}

func (h *AdminHandler) setOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.finish(w, r, "set tenant override", h.service.SetTenantOverride(r.Context(), Override{
		TenantID:       chi.URLParam(r, TenantParam),
		RoleCode:       chi.URLParam(r, "roleCode"),
		PermissionCode: chi.URLParam(r, "permission"),
		Enabled:        *req.Enabled,
	}))
}

func (h *AdminHandler) clearOverride(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, "clear tenant override", h.service.ClearTenantOverride(r.Context(),
		chi.URLParam(r, TenantParam), chi.URLParam(r, "roleCode"), chi.URLParam(r, "permission")))
}

func (h *AdminHandler) assignment(w http.ResponseWriter, r *http.Request) (Assignment, bool) {
	tenantID, principalID, ok := h.target(w, r)
	if !ok {
		return Assignment{}, false
	}
	return Assignment{PrincipalID: principalID, TenantID: tenantID, RoleCode: chi.URLParam(r, "roleCode")}, true
}

// target resolves the route's principal and confirms it lives in the route's
// tenant. Principals of other tenants render as missing.
func (h *AdminHandler) target(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	tenantID := chi.URLParam(r, TenantParam)
	ctx, cancel := h.service.bounded(r.Context())
	p, err := h.directory.FindByID(ctx, chi.URLParam(r, "principalID"))
	cancel()
	if err == nil && (p.IsPlatformOperator() || p.Tenant() != tenantID) {
		err = shared.ErrNotFound
	}
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("load rbac target", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return "", "", false
	}
	return tenantID, p.ID, true
}

func (h *AdminHandler) finish(w http.ResponseWriter, r *http.Request, op string, err error) {
	if err == nil {
		id, _ := principals.IdentityFromContext(r.Context())
		h.logger.Info("rbac updated",
			slog.String("op", op),
			slog.String("actor_id", id.PrincipalID),
			slog.String("tenant_id", chi.URLParam(r, TenantParam)))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if invalidInput(err) {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func invalidInput(err error) bool {
	return errors.Is(err, ErrInvalidPermissionCode) ||
		errors.Is(err, ErrInvalidEffect) ||
		errors.Is(err, ErrInvalidRoleCode) ||
		errors.Is(err, ErrMissingScope)
}

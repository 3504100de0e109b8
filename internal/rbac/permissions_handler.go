package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/httpx"
)

// Permission codes guarding the catalogue endpoints.
const (
	PermissionCatalogView = "RBAC_VIEW"
)

// PermissionsHandler exposes the role and permission catalogue.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewPermissionsHandler builds a PermissionsHandler.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers catalogue routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(PermissionCatalogView))
		r.Get("/permissions", h.listPermissions)
		r.Get("/roles", h.listRoles)
	})
}

type permissionDTO struct {
	Code        string `json:"code"`
	Module      string `json:"module"`
	Description string `json:"description,omitempty"`
}

type roleDTO struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsSystem bool   `json:"isSystem"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]permissionDTO, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionDTO{Code: p.Code, Module: p.Module, Description: p.Description})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

func (h *PermissionsHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]roleDTO, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleDTO{Code: role.Code, Name: role.Name, IsSystem: role.IsSystem})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-auth/internal/auth"
	"github.com/odyssey-erp/odyssey-auth/internal/observability"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/jobs"
)

// PermissionJobsView guards the job queue endpoints.
const PermissionJobsView = "AUTH_JOBS_VIEW"

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AuthHandler        *auth.Handler
	AuthMiddleware     *auth.Middleware
	PermissionsHandler *rbac.PermissionsHandler
	RBACAdminHandler   *rbac.AdminHandler
	PrincipalAdmin     *auth.AdminHandler
	RBACMiddleware     *rbac.Middleware
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AuthHandler != nil {
		params.AuthHandler.MountRoutes(r)
	}
	if params.PermissionsHandler != nil && params.AuthMiddleware != nil {
		r.Route("/api/rbac", func(r chi.Router) {
			r.Use(params.AuthMiddleware.Authenticate)
			params.PermissionsHandler.MountRoutes(r)
			if params.RBACAdminHandler != nil {
				params.RBACAdminHandler.MountRoutes(r)
			}
		})
	}
	if params.PrincipalAdmin != nil && params.AuthMiddleware != nil {
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(params.AuthMiddleware.Authenticate)
			params.PrincipalAdmin.MountRoutes(r)
		})
	}
	if params.JobHandler != nil && params.AuthMiddleware != nil && params.RBACMiddleware != nil {
		r.Route("/api/jobs", func(r chi.Router) {
			r.Use(params.AuthMiddleware.Authenticate)
			r.Use(params.RBACMiddleware.Require(PermissionJobsView))
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

package auth

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/rbac"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	gateway   *Gateway
	resolver  *rbac.Resolver
	auth      *Middleware
	cookie    CookieConfig
	loginRate int
	validator *validator.Validate
}

// NewHandler constructs a Handler instance. loginRate is the per-IP request
// budget per minute on login and refresh routes; zero disables it.
func NewHandler(logger *slog.Logger, gateway *Gateway, resolver *rbac.Resolver, authMW *Middleware, cookie CookieConfig, loginRate int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		gateway:   gateway,
		resolver:  resolver,
		auth:      authMW,
		cookie:    cookie,
		loginRate: loginRate,
		validator: validator.New(),
	}
}

// MountRoutes registers the browser routes under /auth and the bearer
// routes under /api/auth.
func (h *Handler) MountRoutes(r chi.Router) {
	limit := h.rateLimit()
	r.Route("/auth", func(r chi.Router) {
		r.With(limit).Post("/login", h.handleSessionLogin)
		r.With(h.auth.Authenticate).Post("/logout", h.handleSessionLogout)
	})
	r.Route("/api/auth", func(r chi.Router) {
		r.With(limit).Post("/login", h.handleTokenLogin)
		r.With(limit).Post("/refresh", h.handleRefresh)
		r.With(limit).Post("/logout", h.handleTokenLogout)
		r.Group(func(r chi.Router) {
			r.Use(h.auth.Authenticate)
			r.Get("/me", h.handleMe)
			r.Post("/logout-all", h.handleLogoutEverywhere)
		})
	})
}

func (h *Handler) rateLimit() func(http.Handler) http.Handler {
	if h.loginRate <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(h.loginRate, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.RespondError(w, shared.ErrRateLimited)
		}),
	)
}

type sessionLoginRequest struct {
	Identity string `json:"identity" validate:"required,max=320"`
	Secret   string `json:"secret" validate:"required,max=1024"`
}

type tokenLoginRequest struct {
	Identity string `json:"identity" validate:"required,max=320"`
	Secret   string `json:"secret" validate:"required,max=1024"`
	DeviceID string `json:"deviceId" validate:"omitempty,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required,max=4096"`
}

type sessionLoginResponse struct {
	AntiForgeryToken string `json:"antiForgeryToken"`
}

type meResponse struct {
	PrincipalID string   `json:"principalId"`
	TenantID    *string  `json:"tenantId"`
	Kind        string   `json:"kind"`
	DeviceID    string   `json:"deviceId,omitempty"`
	Session     bool     `json:"session"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) handleSessionLogin(w http.ResponseWriter, r *http.Request) {
	var req sessionLoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.gateway.LoginSession(r.Context(), Credentials{
		Identity: req.Identity,
		Secret:   req.Secret,
		Source:   sourceAddress(r),
	})
	if err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(h.cookie.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	httpx.JSON(w, http.StatusOK, sessionLoginResponse{AntiForgeryToken: sess.AntiForgeryToken})
}

func (h *Handler) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, shared.ErrSessionExpired)
		return
	}
	if err := h.gateway.LogoutSession(r.Context(), sess.ID); err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTokenLogin(w http.ResponseWriter, r *http.Request) {
	var req tokenLoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.gateway.LoginToken(r.Context(), Credentials{
		Identity: req.Identity,
		Secret:   req.Secret,
		Source:   sourceAddress(r),
	}, req.DeviceID)
	if err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pair)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.gateway.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pair)
}

func (h *Handler) handleTokenLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.gateway.LogoutToken(r.Context(), req.RefreshToken); err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutEverywhere(w http.ResponseWriter, r *http.Request) {
	id, ok := principals.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrSessionExpired)
		return
	}
	if err := h.gateway.LogoutEverywhere(r.Context(), id.PrincipalID); err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := principals.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrSessionExpired)
		return
	}
	perms, err := h.resolver.EffectivePermissions(r.Context(), id, id.Tenant())
	if err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, meResponse{
		PrincipalID: id.PrincipalID,
		TenantID:    id.TenantID,
		Kind:        string(id.Kind),
		DeviceID:    id.DeviceID,
		Session:     id.SessionID != "",
		Permissions: perms,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.Bind(r, h.validator, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

// respondAuthError logs the internal reason and renders the generic client
// message.
func (h *Handler) respondAuthError(w http.ResponseWriter, r *http.Request, err error) {
	reason := shared.FailureReason(err)
	if reason == "internal" {
		h.logger.Error("auth request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		h.logger.Info("auth request rejected", slog.String("path", r.URL.Path), slog.String("reason", reason))
	}
	httpx.RespondError(w, err)
}

func sourceAddress(r *http.Request) string {
	if src := shared.SourceFromContext(r.Context()); src != "" {
		return src
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

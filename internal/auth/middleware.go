package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-auth/internal/principals"
	"github.com/odyssey-erp/odyssey-auth/internal/sessions"
	"github.com/odyssey-erp/odyssey-auth/internal/shared"
	"github.com/odyssey-erp/odyssey-auth/internal/tokens"
)

// CSRFHeader carries the anti-forgery token on mutating session requests.
const CSRFHeader = "X-CSRF-Token"

type sessionContextKey struct{}

// ContextWithSession stores the active browser session in context.
func ContextWithSession(ctx context.Context, sess *sessions.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the browser session, if the request used one.
func SessionFromContext(ctx context.Context) *sessions.Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*sessions.Session)
	return sess
}

// Middleware resolves the request identity from a bearer token or a session
// cookie.
type Middleware struct {
	tokens     *tokens.Service
	sessions   *sessions.Manager
	cookieName string
	observer   FailureObserver
	logger     *slog.Logger
}

// NewMiddleware constructs the authentication middleware. observer may be
// nil.
func NewMiddleware(tokenSvc *tokens.Service, sessionMgr *sessions.Manager, cookieName string, observer FailureObserver, logger *slog.Logger) *Middleware {
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{tokens: tokenSvc, sessions: sessionMgr, cookieName: cookieName, observer: observer, logger: logger}
}

// Authenticate rejects requests without a valid bearer token or session.
// Session requests with unsafe methods must echo the anti-forgery token.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.resolve(r)
		if err != nil {
			m.observer.ObserveAuthFailure(shared.FailureReason(err))
			if !shared.IsTokenFailure(err) && !isCSRF(err) {
				m.logger.Error("authenticate request", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) resolve(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	if raw, ok := bearerToken(r); ok {
		claims, err := m.tokens.VerifyAccess(raw)
		if err != nil {
			return nil, err
		}
		return principals.ContextWithIdentity(ctx, claims.Identity()), nil
	}

	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, shared.ErrSessionExpired
	}
	sess, err := m.sessions.Touch(ctx, cookie.Value)
	if err != nil {
		return nil, err
	}
	if !safeMethod(r.Method) {
		if err := m.sessions.VerifyAntiForgery(sess, r.Header.Get(CSRFHeader)); err != nil {
			return nil, err
		}
	}
	ctx = ContextWithSession(ctx, sess)
	return principals.ContextWithIdentity(ctx, sess.Identity()), nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isCSRF(err error) bool {
	return errors.Is(err, shared.ErrCSRFTokenMissing) || errors.Is(err, shared.ErrCSRFTokenMismatch)
}

package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/taskquorum/api/internal/domain"
)

type authContextKey string

const contextKeyAuth authContextKey = "taskquorum-session"

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request carries a valid session before invoking
// the handler. The session snapshot travels in the request context; no
// handler reads ambient state.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureAuth resolves the session token and enriches the context with the
// login snapshot.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, domain.Session, bool) {
	token, err := r.sessionToken(req)
	if err != nil {
		r.logger.Warn("session token missing", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return req.Context(), domain.Session{}, false
	}
	sess, err := r.auth.Authorize(req.Context(), token)
	if err != nil {
		r.logger.Warn("session validation failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return req.Context(), domain.Session{}, false
	}
	ctx := context.WithValue(req.Context(), contextKeyAuth, *sess)
	return ctx, *sess, true
}

// sessionFromContext extracts the login snapshot from context.
func sessionFromContext(ctx context.Context) (domain.Session, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return domain.Session{}, false
	}
	sess, ok := value.(domain.Session)
	return sess, ok
}

// sessionToken reads the opaque token from the session cookie or from an
// Authorization bearer header, in that order.
func (r *Router) sessionToken(req *http.Request) (string, error) {
	if cookie, err := req.Cookie(r.cookieName); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return cookie.Value, nil
	}
	header := req.Header.Get("Authorization")
	if strings.TrimSpace(header) == "" {
		return "", errors.New("no session cookie or authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}

// requireRole gates a handler on the session role.
func (r *Router) requireRole(role domain.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		sess, ok := sessionFromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if sess.Role != role {
			writeError(w, http.StatusForbidden, "insufficient role")
			return
		}
		next(w, req)
	}
}

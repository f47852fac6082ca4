package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"sentra.org/internal/auth"
	"sentra.org/internal/obs"
)

const (
	sessionCookie = "sentra_session"
	tenantHeader  = "X-Sentra-Tenant"
)

// withTenant binds the tenant named by the X-Sentra-Tenant header to the
// request context. Requests without the header proceed tenantless; any
// operation that needs a tenant fails later with ErrNoTenant.
func withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(tenantHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || id <= 0 {
			respondError(w, r, http.StatusBadRequest, "invalid tenant header")
			return
		}
		ctx := auth.ContextWithTenant(r.Context(), int32(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withAuth authenticates the request and stores the resulting identity
// in the context. The session cookie is tried first; the bearer sentinel
// or an absent cookie falls through to the Authorization header.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		session := a.authn.NewSession()

		cookieVal := ""
		if c, err := r.Cookie(sessionCookie); err == nil {
			cookieVal = c.Value
		}
		if session.AuthenticateByToken(ctx, cookieVal) {
			ctx = auth.ContextWithIdentity(ctx, session.CurrentIdentity())
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		if session.State() == auth.StateRejected {
			respondError(w, r, http.StatusUnauthorized, "invalid session")
			return
		}

		// Anonymous outcome: no cookie, or the bearer sentinel. Try the
		// Authorization header before giving up.
		if a.bearer != nil {
			if raw, ok := bearerToken(r.Header.Get("Authorization")); ok {
				userID, err := a.bearer.Verify(raw)
				if err != nil {
					respondError(w, r, http.StatusUnauthorized, "invalid bearer token")
					return
				}
				if err := session.AuthenticateByUserID(ctx, userID); err != nil {
					obs.LogEvent("warn", "bearer_identity_rejected", map[string]any{
						"request_id": requestIDFrom(ctx),
					})
					respondError(w, r, http.StatusUnauthorized, "invalid bearer token")
					return
				}
				ctx = auth.ContextWithIdentity(ctx, session.CurrentIdentity())
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		respondError(w, r, http.StatusUnauthorized, "authentication required")
	})
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func isPublicPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics", "/v1/info", "/v1/auth/login":
		return true
	}
	return false
}

func setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	setSessionCookie(w, "", -1)
}

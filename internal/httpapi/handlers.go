package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"sentra.org/internal/audit"
	"sentra.org/internal/auth"
	"sentra.org/internal/obs"
	"sentra.org/internal/token"
)

// Actions guarded by the permission resolver.
const (
	ActionUserRevoke   = auth.Action("user.revoke")
	ActionTenantRevoke = auth.Action("tenant.revoke")
)

// ReadyProbe is the readiness check, typically a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the HTTP layer against the authentication core.
type Config struct {
	Authenticator *auth.Authenticator
	Codec         *token.Codec
	Resolver      *auth.Resolver
	Generations   auth.GenerationStore
	Events        auth.LoginEventStore // nil disables per-session revocation
	Bearer        *auth.BearerVerifier // nil disables header auth
	ReadyProbe    ReadyProbe
	Version       string
}

// API is the HTTP layer.
type API struct {
	mux         *http.ServeMux
	authn       *auth.Authenticator
	codec       *token.Codec
	resolver    *auth.Resolver
	generations auth.GenerationStore
	events      auth.LoginEventStore
	bearer      *auth.BearerVerifier
	readyProbe  ReadyProbe
	version     string
}

func New(cfg Config) *API {
	a := &API{
		mux:         http.NewServeMux(),
		authn:       cfg.Authenticator,
		codec:       cfg.Codec,
		resolver:    cfg.Resolver,
		generations: cfg.Generations,
		events:      cfg.Events,
		bearer:      cfg.Bearer,
		readyProbe:  cfg.ReadyProbe,
		version:     cfg.Version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.Handle("/v1/auth/login", RateLimit(http.HandlerFunc(a.Login), 10, 5))
	a.mux.HandleFunc("/v1/auth/logout", a.Logout)
	a.mux.HandleFunc("/v1/auth/whoami", a.Whoami)
	a.mux.HandleFunc("/v1/auth/revoke", a.RevokeSelf)
	a.mux.HandleFunc("/v1/auth/revoke-event", a.RevokeEvent)
	a.mux.HandleFunc("/v1/users/", a.userSubroute)
	a.mux.HandleFunc("/v1/tenants/revoke", a.RevokeTenant)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = withTenant(h)
	h = MaxBodyBytes(h, 1<<16)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sentra-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "sentra-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Login == "" {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	session := a.authn.NewSession()
	tok, err := session.AuthenticateByCredential(ctx, req.Login, req.Password)
	if err != nil {
		audit.LogEvent(ctx, "auth.login_failed", map[string]any{"login": req.Login})
		switch {
		case errors.Is(err, auth.ErrInvalidCredential):
			respondError(w, r, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, auth.ErrAccountDisabled):
			respondError(w, r, http.StatusForbidden, "account disabled")
		case errors.Is(err, auth.ErrFeatureNotLicensed):
			respondError(w, r, http.StatusForbidden, "feature not licensed")
		case errors.Is(err, auth.ErrNoTenant):
			respondError(w, r, http.StatusBadRequest, "tenant required")
		default:
			respondError(w, r, http.StatusInternalServerError, "authentication unavailable")
		}
		return
	}

	identity := session.CurrentIdentity()
	if tok != "" {
		maxAge := 0
		if ttl := a.authn.SessionTTL(); ttl > 0 {
			maxAge = int(ttl / time.Second)
		}
		setSessionCookie(w, tok, maxAge)
	}
	audit.LogEvent(auth.ContextWithIdentity(ctx, identity), "auth.login", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      identity.Account.ID.String(),
		"display_name": identity.Account.DisplayName,
		"roles":        identity.Roles.Names(),
	})
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	// Revoke the login event behind the presented cookie so the token
	// dies server-side, not just in the browser.
	if a.events != nil {
		if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" && c.Value != token.BearerSentinel {
			if claims, err := a.codec.Decode(c.Value); err == nil && claims.LoginEventID != 0 {
				if err := a.events.Revoke(ctx, claims.TenantID, claims.UserID, claims.LoginEventID); err != nil {
					obs.LogEvent("error", "login event revoke failed", map[string]any{"error": err.Error()})
				}
			}
		}
	}

	clearSessionCookie(w)
	audit.LogEvent(ctx, "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) Whoami(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      identity.Account.ID.String(),
		"kind":         identity.Account.Kind.String(),
		"tenant_id":    identity.Account.TenantID,
		"display_name": identity.Account.DisplayName,
		"roles":        identity.Roles.Names(),
	})
}

// RevokeSelf bumps the caller's own generation, invalidating every token
// previously minted for the account.
func (a *API) RevokeSelf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity.Account.Kind != auth.KindUser {
		respondError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	gen, err := a.generations.BumpUserGeneration(ctx, identity.Account.ID)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "revocation failed")
		return
	}
	clearSessionCookie(w)
	audit.LogEvent(ctx, "auth.sessions_revoked", map[string]any{"generation": gen})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked", "generation": gen})
}

// RevokeEvent invalidates one of the caller's login events, killing the
// tokens minted under it while other sessions survive.
func (a *API) RevokeEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if a.events == nil {
		respondError(w, r, http.StatusNotImplemented, "login event tracking disabled")
		return
	}
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity.Account.Kind != auth.KindUser {
		respondError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req struct {
		EventID int32 `json:"event_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EventID == 0 {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.events.Revoke(ctx, identity.Account.TenantID, identity.Account.ID, req.EventID); err != nil {
		respondError(w, r, http.StatusInternalServerError, "revocation failed")
		return
	}
	audit.LogEvent(ctx, "auth.login_event_revoked", map[string]any{"event_id": req.EventID})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked", "event_id": req.EventID})
}

func (a *API) userSubroute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.Split(rest, "/")
	if len(parts) == 2 && parts[1] == "revoke" {
		a.RevokeUser(w, r, parts[0])
		return
	}
	http.NotFound(w, r)
}

// RevokeUser bumps another user's generation. Requires user.revoke.
func (a *API) RevokeUser(w http.ResponseWriter, r *http.Request, rawID string) {
	if r.Method != http.MethodPost {
		respondError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	userID, err := ulid.ParseStrict(rawID)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := a.resolver.Demand(identity, []auth.Action{ActionUserRevoke}, nil, nil); err != nil {
		obs.PermissionDenials.Inc()
		respondError(w, r, http.StatusForbidden, err.Error())
		return
	}
	gen, err := a.generations.BumpUserGeneration(ctx, userID)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "revocation failed")
		return
	}
	audit.LogEvent(ctx, "auth.user_revoked", map[string]any{
		"target_user_id": userID.String(),
		"generation":     gen,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked", "generation": gen})
}

// RevokeTenant bumps the current tenant's generation, invalidating every
// outstanding token in the tenant. Requires tenant.revoke.
func (a *API) RevokeTenant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	tenantID, ok := auth.TenantFromContext(ctx)
	if !ok {
		respondError(w, r, http.StatusBadRequest, "tenant required")
		return
	}
	if err := a.resolver.Demand(identity, []auth.Action{ActionTenantRevoke}, nil, nil); err != nil {
		obs.PermissionDenials.Inc()
		respondError(w, r, http.StatusForbidden, err.Error())
		return
	}
	gen, err := a.generations.BumpTenantGeneration(ctx, tenantID)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "revocation failed")
		return
	}
	audit.LogEvent(ctx, "auth.tenant_revoked", map[string]any{
		"tenant_id":  tenantID,
		"generation": gen,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked", "generation": gen})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":      msg,
		"request_id": requestIDFrom(r.Context()),
	})
}

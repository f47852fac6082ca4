package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"sentra.org/internal/obs"
	"sentra.org/internal/token"
)

// SessionState tracks the authentication state machine. A session is
// terminal per request: once Authenticated or Rejected it only leaves
// that state through Logout.
type SessionState uint8

const (
	StateAnonymous SessionState = iota
	StateAuthenticating
	StateAuthenticated
	StateRejected
)

func (s SessionState) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	default:
		return "anonymous"
	}
}

// Authenticator holds the long-lived collaborators of the authentication
// core. It is safe for concurrent use; per-request state lives in the
// Session values it produces.
type Authenticator struct {
	codec       *token.Codec
	tenants     TenantSource
	registry    IdentityRegistry
	generations GenerationStore
	events      LoginEventStore
	sessionTTL  time.Duration
	now         func() time.Time
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithLoginEvents enables per-session revocation: credential logins
// register a login event and minted tokens carry its id.
func WithLoginEvents(store LoginEventStore) AuthenticatorOption {
	return func(a *Authenticator) { a.events = store }
}

// WithSessionTTL bounds the lifetime of minted tokens. Zero means tokens
// never expire on their own.
func WithSessionTTL(ttl time.Duration) AuthenticatorOption {
	return func(a *Authenticator) { a.sessionTTL = ttl }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		if fn != nil {
			a.now = fn
		}
	}
}

const defaultSessionTTL = 14 * 24 * time.Hour

// NewAuthenticator wires the core against its external collaborators.
func NewAuthenticator(codec *token.Codec, tenants TenantSource, registry IdentityRegistry, generations GenerationStore, opts ...AuthenticatorOption) (*Authenticator, error) {
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	if tenants == nil || registry == nil || generations == nil {
		return nil, errors.New("auth: tenant source, identity registry and generation store are required")
	}
	a := &Authenticator{
		codec:       codec,
		tenants:     tenants,
		registry:    registry,
		generations: generations,
		sessionTTL:  defaultSessionTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// SessionTTL returns the configured token lifetime; zero means tokens
// never expire on their own.
func (a *Authenticator) SessionTTL() time.Duration { return a.sessionTTL }

// NewSession returns a fresh anonymous session for one request.
func (a *Authenticator) NewSession() *Session {
	return &Session{a: a, identity: AnonymousIdentity(0)}
}

// Session is the per-request authentication state machine. It is not safe
// for concurrent use and must never outlive its request.
type Session struct {
	a        *Authenticator
	state    SessionState
	identity Identity
}

// State returns the current machine state.
func (s *Session) State() SessionState { return s.state }

// CurrentIdentity returns the identity established by this session.
func (s *Session) CurrentIdentity() Identity { return s.identity }

// IsAuthenticated reports whether the session reached Authenticated.
func (s *Session) IsAuthenticated() bool { return s.state == StateAuthenticated }

// Logout resets the session to anonymous.
func (s *Session) Logout() {
	s.identity = AnonymousIdentity(s.identity.Account.TenantID)
	s.state = StateAnonymous
}

// AuthenticateByToken validates a session token and, on success, installs
// the resolved identity. It returns false for every rejection; failures
// are logged, never propagated, so a hostile token cannot crash the
// request.
func (s *Session) AuthenticateByToken(ctx context.Context, raw string) bool {
	if raw == "" {
		return false
	}
	if raw == token.BearerSentinel {
		// Not a failure: the caller signalled header-based auth, which an
		// outer collaborator handles.
		obs.LogEvent("debug", "bearer sentinel cookie, deferring to header auth", nil)
		return false
	}
	s.state = StateAuthenticating

	claims, err := s.a.codec.Decode(raw)
	if err != nil {
		obs.LogEvent("warn", "session token rejected by codec", map[string]any{"error": err.Error()})
		obs.TokenDecodeFailures.Inc()
		return s.reject("decode")
	}

	tenantID, err := s.a.tenants.CurrentTenantID(ctx)
	if err != nil {
		return s.fail("resolve tenant", err)
	}
	if claims.TenantID != tenantID {
		return s.reject("tenant mismatch")
	}

	tenantGen, err := s.a.generations.TenantGeneration(ctx, tenantID)
	if err != nil {
		return s.fail("tenant generation", err)
	}
	if claims.TenantGen != tenantGen {
		return s.reject("tenant generation stale")
	}

	if claims.Expired(s.a.now()) {
		return s.reject("expired")
	}

	userGen, err := s.a.generations.UserGeneration(ctx, claims.UserID)
	if err != nil {
		return s.fail("user generation", err)
	}
	if claims.UserGen != userGen {
		return s.reject("user generation stale")
	}

	if claims.LoginEventID != 0 {
		if s.a.events == nil {
			return s.reject("login event untrackable")
		}
		valid, err := s.a.events.ValidEventIDs(ctx, tenantID, claims.UserID)
		if err != nil {
			return s.fail("login events", err)
		}
		if _, ok := valid[claims.LoginEventID]; !ok {
			return s.reject("login event revoked")
		}
	}

	account, err := s.a.registry.ResolveByID(ctx, tenantID, claims.UserID)
	if err != nil {
		return s.fail("resolve account", err)
	}
	identity, err := s.assignIdentity(ctx, account)
	if err != nil {
		return s.fail("assign identity", err)
	}

	s.identity = identity
	s.state = StateAuthenticated
	obs.AuthAttempts.WithLabelValues("token", "ok").Inc()
	return true
}

// AuthenticateByCredential validates a login/password pair and, on
// success, installs the identity and mints a fresh token. System and
// anonymous accounts never receive a token.
func (s *Session) AuthenticateByCredential(ctx context.Context, login, password string) (string, error) {
	s.state = StateAuthenticating

	tenantID, err := s.a.tenants.CurrentTenantID(ctx)
	if err != nil {
		s.state = StateRejected
		return "", err
	}
	account, err := s.a.registry.ResolveByCredential(ctx, tenantID, login, password)
	if err != nil {
		s.state = StateRejected
		obs.AuthAttempts.WithLabelValues("credential", "error").Inc()
		return "", fmt.Errorf("credential lookup: %w", err)
	}
	identity, err := s.assignIdentity(ctx, account)
	if err != nil {
		s.state = StateRejected
		obs.AuthAttempts.WithLabelValues("credential", "rejected").Inc()
		return "", err
	}
	s.identity = identity
	s.state = StateAuthenticated
	obs.AuthAttempts.WithLabelValues("credential", "ok").Inc()

	if identity.Account.Kind != KindUser {
		return "", nil
	}
	return s.mintToken(ctx, identity.Account)
}

// AuthenticateByUserID installs an identity for a known user id without
// credential or token checks. It backs explicit identity switching by
// already-trusted callers (system jobs, admin impersonation).
func (s *Session) AuthenticateByUserID(ctx context.Context, userID ulid.ULID) error {
	s.state = StateAuthenticating
	tenantID, err := s.a.tenants.CurrentTenantID(ctx)
	if err != nil {
		s.state = StateRejected
		return err
	}
	account, err := s.a.registry.ResolveByID(ctx, tenantID, userID)
	if err != nil {
		s.state = StateRejected
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredential
		}
		return err
	}
	identity, err := s.assignIdentity(ctx, account)
	if err != nil {
		s.state = StateRejected
		return err
	}
	s.identity = identity
	s.state = StateAuthenticated
	return nil
}

// MintToken issues a fresh token for the currently authenticated user
// account, registering a new login event when tracking is enabled.
func (s *Session) MintToken(ctx context.Context) (string, error) {
	if !s.IsAuthenticated() || s.identity.Account.Kind != KindUser {
		return "", ErrInvalidCredential
	}
	return s.mintToken(ctx, s.identity.Account)
}

func (s *Session) mintToken(ctx context.Context, account Account) (string, error) {
	tenantGen, err := s.a.generations.TenantGeneration(ctx, account.TenantID)
	if err != nil {
		return "", fmt.Errorf("tenant generation: %w", err)
	}
	userGen, err := s.a.generations.UserGeneration(ctx, account.ID)
	if err != nil {
		return "", fmt.Errorf("user generation: %w", err)
	}
	var eventID int32
	if s.a.events != nil {
		eventID, err = s.a.events.Register(ctx, account.TenantID, account.ID)
		if err != nil {
			return "", fmt.Errorf("register login event: %w", err)
		}
	}
	var expires time.Time
	if s.a.sessionTTL > 0 {
		expires = s.a.now().Add(s.a.sessionTTL).UTC()
	}
	return s.a.codec.Encode(token.Claims{
		TenantID:     account.TenantID,
		UserID:       account.ID,
		TenantGen:    tenantGen,
		UserGen:      userGen,
		ExpiresAt:    expires,
		LoginEventID: eventID,
	})
}

// assignIdentity is the shared role-computation routine behind the token,
// credential and user-id paths.
func (s *Session) assignIdentity(ctx context.Context, account Account) (Identity, error) {
	roles := RoleSet(RoleEveryone)

	switch account.Kind {
	case KindAnonymous:
		// The unknown-user sentinel lands here, unifying "no such user"
		// with "wrong password".
		return Identity{}, ErrInvalidCredential

	case KindSystem:
		if account.ID == SystemUserID {
			roles = roles.With(RoleSystem)
		}

	case KindUser:
		status, err := s.a.registry.UserStatus(ctx, account.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Identity{}, ErrInvalidCredential
			}
			return Identity{}, err
		}
		if status != StatusActive {
			return Identity{}, ErrAccountDisabled
		}
		directory, err := s.a.registry.IsDirectoryBound(ctx, account.ID)
		if err != nil {
			return Identity{}, err
		}
		if directory {
			tenant, err := s.a.registry.Tenant(ctx, account.TenantID)
			if err != nil {
				return Identity{}, err
			}
			if !tenant.PlanEntitlesDirectory() {
				return Identity{}, ErrFeatureNotLicensed
			}
		}
		admin, err := s.a.registry.IsInGroup(ctx, account.ID, GroupAdministrators)
		if err != nil {
			return Identity{}, err
		}
		if admin {
			roles = roles.With(RoleAdministrators)
		}
		roles = roles.With(RoleUsers)
	}

	account.Authenticated = true
	return Identity{Account: account, Roles: roles}, nil
}

func (s *Session) reject(reason string) bool {
	obs.LogEvent("debug", "session token rejected", map[string]any{"reason": reason})
	obs.AuthAttempts.WithLabelValues("token", "rejected").Inc()
	s.state = StateRejected
	return false
}

// fail converts an error during token validation into a rejection. The
// session fails closed: expected security rejections log at debug,
// infrastructure failures at error, and neither propagates.
func (s *Session) fail(op string, err error) bool {
	level := "error"
	if IsSecurityError(err) || errors.Is(err, ErrNotFound) {
		level = "debug"
	}
	obs.LogEvent(level, "token authentication failed", map[string]any{"op": op, "error": err.Error()})
	result := "rejected"
	if level == "error" {
		result = "error"
	}
	obs.AuthAttempts.WithLabelValues("token", result).Inc()
	s.state = StateRejected
	return false
}

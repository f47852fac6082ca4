package auth

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// IdentityRegistry resolves opaque identifiers into account records. It is
// an external collaborator: implementations may block on a backing store,
// so callers must not hold locks across these calls.
type IdentityRegistry interface {
	// ResolveByID returns the account for a user id within the tenant.
	ResolveByID(ctx context.Context, tenantID int32, userID ulid.ULID) (Account, error)

	// ResolveByCredential returns the account matching (login, password).
	// A miss or a password mismatch returns the anonymous sentinel, never
	// an error: the sentinel is rejected later by identity assignment,
	// which keeps "wrong password" and "no such user" uniform.
	ResolveByCredential(ctx context.Context, tenantID int32, login, password string) (Account, error)

	// UserStatus returns the lifecycle state of the stored user record.
	// ErrNotFound marks a lost user: an account whose record has vanished
	// between resolution and assignment.
	UserStatus(ctx context.Context, userID ulid.ULID) (UserStatus, error)

	// IsDirectoryBound reports whether the user is externally provisioned.
	IsDirectoryBound(ctx context.Context, userID ulid.ULID) (bool, error)

	// IsInGroup reports group membership for role derivation.
	IsInGroup(ctx context.Context, userID ulid.ULID, group string) (bool, error)

	// Tenant returns the tenant record, including its plan.
	Tenant(ctx context.Context, tenantID int32) (Tenant, error)
}

// GenerationStore reads and bumps the monotonic settings-generation
// counters. Bumping a counter invalidates every previously issued token
// for that scope in O(1). Reads must be read-your-writes consistent;
// implementations must not cache values across authentication checks.
type GenerationStore interface {
	TenantGeneration(ctx context.Context, tenantID int32) (int32, error)
	UserGeneration(ctx context.Context, userID ulid.ULID) (int32, error)
	BumpTenantGeneration(ctx context.Context, tenantID int32) (int32, error)
	BumpUserGeneration(ctx context.Context, userID ulid.ULID) (int32, error)
}

// LoginEventStore tracks the set of currently valid login events per user,
// enabling targeted single-session revocation.
type LoginEventStore interface {
	// Register records a new login event and returns its identifier.
	Register(ctx context.Context, tenantID int32, userID ulid.ULID) (int32, error)
	// Revoke removes one event; tokens minted with it become invalid.
	Revoke(ctx context.Context, tenantID int32, userID ulid.ULID, eventID int32) error
	// ValidEventIDs returns the surviving event set for the user.
	ValidEventIDs(ctx context.Context, tenantID int32, userID ulid.ULID) (map[int32]struct{}, error)
}

// PolicyStore supplies the role-grant rules consulted by the Resolver.
type PolicyStore interface {
	RoleGrants(ctx context.Context) ([]RoleGrant, error)
}

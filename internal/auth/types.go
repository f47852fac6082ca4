package auth

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// AccountKind discriminates the closed set of account variants.
type AccountKind uint8

const (
	KindAnonymous AccountKind = iota
	KindUser
	KindSystem
)

func (k AccountKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindSystem:
		return "system"
	default:
		return "anonymous"
	}
}

// SystemUserID is the well-known identity of the built-in system account.
var SystemUserID = ulid.MustParse("00000000000000000000000SYS")

// Account is an immutable identity value. Identity changes produce a new
// Account, never in-place mutation.
type Account struct {
	Kind          AccountKind
	ID            ulid.ULID
	TenantID      int32
	DisplayName   string
	Authenticated bool
}

// Anonymous returns the guest sentinel. It doubles as the "unknown user"
// result of credential lookups so that a wrong password and a nonexistent
// login are indistinguishable to the caller.
func Anonymous(tenantID int32) Account {
	return Account{Kind: KindAnonymous, TenantID: tenantID, DisplayName: "anonymous"}
}

// SystemAccount returns the built-in system identity for a tenant.
func SystemAccount(tenantID int32) Account {
	return Account{Kind: KindSystem, ID: SystemUserID, TenantID: tenantID, DisplayName: "system"}
}

// Role is a capability tag granted during identity assignment.
type Role uint8

const (
	RoleEveryone Role = 1 << iota
	RoleSystem
	RoleAdministrators
	RoleUsers
)

func (r Role) String() string {
	switch r {
	case RoleEveryone:
		return "everyone"
	case RoleSystem:
		return "system"
	case RoleAdministrators:
		return "administrators"
	case RoleUsers:
		return "users"
	default:
		return "unknown"
	}
}

// RoleSet is a union of roles.
type RoleSet uint8

// With returns the set extended by role.
func (s RoleSet) With(role Role) RoleSet { return s | RoleSet(role) }

// Has reports membership of a single role.
func (s RoleSet) Has(role Role) bool { return s&RoleSet(role) != 0 }

// Names returns the member role names in declaration order.
func (s RoleSet) Names() []string {
	var names []string
	for _, r := range []Role{RoleEveryone, RoleSystem, RoleAdministrators, RoleUsers} {
		if s.Has(r) {
			names = append(names, r.String())
		}
	}
	return names
}

// Identity is the request-scoped current identity: exactly one account
// plus its derived role set. The zero value is the anonymous identity.
type Identity struct {
	Account Account
	Roles   RoleSet
}

// AnonymousIdentity is what a request carries before authentication.
func AnonymousIdentity(tenantID int32) Identity {
	return Identity{Account: Anonymous(tenantID), Roles: RoleSet(RoleEveryone)}
}

// IsAuthenticated reports whether the identity belongs to a verified account.
func (id Identity) IsAuthenticated() bool { return id.Account.Authenticated }

// UserStatus is the lifecycle state of a stored user record.
type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

// GroupAdministrators is the well-known group granting RoleAdministrators.
const GroupAdministrators = "administrators"

// Tenant is an isolated customer scope. Plan gates licensed features such
// as directory-bound logins.
type Tenant struct {
	ID        int32
	Name      string
	Plan      string
	CreatedAt time.Time
}

// PlanEntitlesDirectory reports whether the plan includes directory-bound
// (externally provisioned) logins.
func (t Tenant) PlanEntitlesDirectory() bool {
	return t.Plan == PlanEnterprise
}

const (
	PlanStandard   = "standard"
	PlanEnterprise = "enterprise"
)

// User is the stored user record behind a user-capability account.
type User struct {
	ID           ulid.ULID
	TenantID     int32
	Login        string
	DisplayName  string
	PasswordHash string
	Status       UserStatus
	Directory    bool // externally provisioned (directory-bound)
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Account converts the stored record into an identity value.
func (u User) Account() Account {
	return Account{Kind: KindUser, ID: u.ID, TenantID: u.TenantID, DisplayName: u.DisplayName}
}

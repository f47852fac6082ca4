package auth

import (
	"errors"
	"testing"

	"github.com/oklog/ulid/v2"

	"sentra.org/internal/ids"
)

const (
	actionView   Action = "document.view"
	actionEdit   Action = "document.edit"
	actionDelete Action = "document.delete"
)

type document struct {
	owner ulid.ULID
	acl   map[ulid.ULID][]Action
}

func (d document) OwnerID() ulid.ULID { return d.owner }

type documentACL struct{}

func (documentACL) AllowedActions(identity Identity, resource Resource) []Action {
	doc, ok := resource.(document)
	if !ok {
		return nil
	}
	return doc.acl[identity.Account.ID]
}

func userIdentity(id ulid.ULID, roles ...Role) Identity {
	set := RoleSet(RoleEveryone)
	for _, r := range roles {
		set = set.With(r)
	}
	return Identity{
		Account: Account{Kind: KindUser, ID: id, TenantID: 1, Authenticated: true},
		Roles:   set.With(RoleUsers),
	}
}

func TestResolverRoleGrants(t *testing.T) {
	resolver := NewResolver([]RoleGrant{
		{Role: RoleUsers, Actions: []Action{actionView}},
		{Role: RoleAdministrators, Actions: []Action{ActionAny}},
	})

	user := userIdentity(ids.New())
	admin := userIdentity(ids.New(), RoleAdministrators)

	cases := []struct {
		name     string
		identity Identity
		actions  []Action
		want     bool
	}{
		{"user can view", user, []Action{actionView}, true},
		{"user cannot edit", user, []Action{actionEdit}, false},
		{"user cannot view-and-edit", user, []Action{actionView, actionEdit}, false},
		{"admin wildcard", admin, []Action{actionView, actionEdit, actionDelete}, true},
		{"empty action set denied", admin, nil, false},
		{"anonymous denied", AnonymousIdentity(1), []Action{actionView}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolver.Check(tc.identity, tc.actions, nil, nil); got != tc.want {
				t.Fatalf("Check = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolverOwnership(t *testing.T) {
	resolver := NewResolver(DefaultGrants())
	owner := userIdentity(ids.New())
	stranger := userIdentity(ids.New())
	doc := document{owner: owner.Account.ID}

	if !resolver.Check(owner, []Action{actionEdit}, doc, nil) {
		t.Fatal("owner must be able to edit its resource")
	}
	if resolver.Check(stranger, []Action{actionEdit}, doc, nil) {
		t.Fatal("non-owner without roles must be denied")
	}

	// RoleAdministrators overrides ownership via the wildcard grant.
	admin := userIdentity(ids.New(), RoleAdministrators)
	if !resolver.Check(admin, []Action{actionEdit}, doc, nil) {
		t.Fatal("administrator must pass regardless of ownership")
	}
}

func TestResolverACL(t *testing.T) {
	resolver := NewResolver(nil)
	reader := userIdentity(ids.New())
	doc := document{
		owner: ids.New(),
		acl:   map[ulid.ULID][]Action{reader.Account.ID: {actionView}},
	}

	if !resolver.Check(reader, []Action{actionView}, doc, documentACL{}) {
		t.Fatal("ACL-listed identity must be granted")
	}
	if resolver.Check(reader, []Action{actionView, actionEdit}, doc, documentACL{}) {
		t.Fatal("ACL grant must cover all requested actions")
	}
	if resolver.Check(reader, []Action{actionView}, doc, nil) {
		t.Fatal("without a security provider the ACL rule must not fire")
	}
}

func TestDemand(t *testing.T) {
	resolver := NewResolver(DefaultGrants())
	owner := userIdentity(ids.New())
	stranger := userIdentity(ids.New())
	doc := document{owner: owner.Account.ID}

	if err := resolver.Demand(owner, []Action{actionEdit}, doc, nil); err != nil {
		t.Fatalf("owner Demand failed: %v", err)
	}

	err := resolver.Demand(stranger, []Action{actionEdit}, doc, nil)
	var denied *AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected AccessDeniedError, got %v", err)
	}
	if denied.Actor != stranger.Account.ID.String() {
		t.Fatalf("denied actor = %q, want %q", denied.Actor, stranger.Account.ID)
	}
	if len(denied.Actions) != 1 || denied.Actions[0] != actionEdit {
		t.Fatalf("denied actions = %v", denied.Actions)
	}
}

func TestDemandDeterminism(t *testing.T) {
	resolver := NewResolver([]RoleGrant{{Role: RoleUsers, Actions: []Action{actionView}}})
	id := userIdentity(ids.New())
	for i := 0; i < 100; i++ {
		if !resolver.Check(id, []Action{actionView}, nil, nil) {
			t.Fatalf("decision flipped on iteration %d", i)
		}
		if resolver.Check(id, []Action{actionDelete}, nil, nil) {
			t.Fatalf("decision flipped on iteration %d", i)
		}
	}
}

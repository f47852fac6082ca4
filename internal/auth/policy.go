package auth

import (
	"github.com/oklog/ulid/v2"
)

// Action identifies a privileged operation by name.
type Action string

// ActionAny is the wildcard used in role grants that cover every action.
const ActionAny Action = "*"

// Resource scopes a permission check to a concrete object. Implementations
// supply the owner used by the ownership rule.
type Resource interface {
	OwnerID() ulid.ULID
}

// SecurityProvider exposes a resource's access-control list. It is
// optional: when absent, only role and ownership rules apply.
type SecurityProvider interface {
	AllowedActions(identity Identity, resource Resource) []Action
}

// Rule decides whether an identity is granted a set of actions. A request
// succeeds if ANY rule grants ALL requested actions. Rules must be pure:
// same inputs, same answer.
type Rule interface {
	Grants(identity Identity, actions []Action, resource Resource, security SecurityProvider) bool
}

// RoleGrant is policy data: a role granted a set of actions.
type RoleGrant struct {
	Role    Role
	Actions []Action
}

// Grants implements Rule. A grant containing ActionAny covers everything.
func (g RoleGrant) Grants(identity Identity, actions []Action, _ Resource, _ SecurityProvider) bool {
	if !identity.Roles.Has(g.Role) {
		return false
	}
	covered := make(map[Action]struct{}, len(g.Actions))
	for _, a := range g.Actions {
		covered[a] = struct{}{}
	}
	if _, any := covered[ActionAny]; any {
		return true
	}
	for _, a := range actions {
		if _, ok := covered[a]; !ok {
			return false
		}
	}
	return true
}

// OwnershipRule grants every action on a resource to its owner.
type OwnershipRule struct{}

func (OwnershipRule) Grants(identity Identity, actions []Action, resource Resource, _ SecurityProvider) bool {
	if resource == nil || !identity.IsAuthenticated() {
		return false
	}
	return identity.Account.ID == resource.OwnerID()
}

// ACLRule grants actions listed for the identity by the resource's
// security provider.
type ACLRule struct{}

func (ACLRule) Grants(identity Identity, actions []Action, resource Resource, security SecurityProvider) bool {
	if resource == nil || security == nil {
		return false
	}
	allowed := make(map[Action]struct{})
	for _, a := range security.AllowedActions(identity, resource) {
		allowed[a] = struct{}{}
	}
	for _, a := range actions {
		if _, ok := allowed[a]; !ok {
			return false
		}
	}
	return len(actions) > 0
}

// Resolver decides allow/deny for a current identity and requested
// actions. The rule set is fixed at construction; for a fixed (identity,
// resource, rules) input the decision is deterministic.
type Resolver struct {
	rules []Rule
}

// NewResolver builds a resolver from policy rules. Role grants loaded from
// a PolicyStore are appended to the builtin ownership and ACL rules.
func NewResolver(grants []RoleGrant, extra ...Rule) *Resolver {
	rules := make([]Rule, 0, len(grants)+len(extra)+2)
	for _, g := range grants {
		rules = append(rules, g)
	}
	rules = append(rules, OwnershipRule{}, ACLRule{})
	rules = append(rules, extra...)
	return &Resolver{rules: rules}
}

// DefaultGrants is the baseline policy: administrators and the system
// identity may do anything.
func DefaultGrants() []RoleGrant {
	return []RoleGrant{
		{Role: RoleAdministrators, Actions: []Action{ActionAny}},
		{Role: RoleSystem, Actions: []Action{ActionAny}},
	}
}

// Check reports whether identity is granted all requested actions,
// optionally scoped to a resource and its security provider.
func (r *Resolver) Check(identity Identity, actions []Action, resource Resource, security SecurityProvider) bool {
	if len(actions) == 0 {
		return false
	}
	for _, rule := range r.rules {
		if rule.Grants(identity, actions, resource, security) {
			return true
		}
	}
	return false
}

// Demand makes the same decision as Check but fails loudly, returning an
// *AccessDeniedError carrying the actor and denied actions.
func (r *Resolver) Demand(identity Identity, actions []Action, resource Resource, security SecurityProvider) error {
	if r.Check(identity, actions, resource, security) {
		return nil
	}
	return &AccessDeniedError{Actor: actorLabel(identity), Actions: actions}
}

func actorLabel(identity Identity) string {
	if identity.Account.Kind == KindAnonymous {
		return "anonymous"
	}
	return identity.Account.ID.String()
}

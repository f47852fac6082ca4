package auth

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemStore is an in-process implementation of the auth collaborators:
// IdentityRegistry, GenerationStore, LoginEventStore and PolicyStore. It
// backs dev mode and tests; production deployments use the Postgres and
// Redis stores.
type MemStore struct {
	mu       sync.RWMutex
	tenants  map[int32]Tenant
	users    map[ulid.ULID]User
	byLogin  map[loginKey]ulid.ULID
	groups   map[ulid.ULID]map[string]struct{}
	tenGens  map[int32]int32
	userGens map[ulid.ULID]int32
	events   map[eventKey]map[int32]struct{}
	eventSeq int32
	grants   []RoleGrant
}

type loginKey struct {
	tenantID int32
	login    string
}

type eventKey struct {
	tenantID int32
	userID   ulid.ULID
}

var (
	_ IdentityRegistry = (*MemStore)(nil)
	_ GenerationStore  = (*MemStore)(nil)
	_ LoginEventStore  = (*MemStore)(nil)
	_ PolicyStore      = (*MemStore)(nil)
)

// NewMemStore creates an empty store seeded with the default policy.
func NewMemStore() *MemStore {
	return &MemStore{
		tenants:  make(map[int32]Tenant),
		users:    make(map[ulid.ULID]User),
		byLogin:  make(map[loginKey]ulid.ULID),
		groups:   make(map[ulid.ULID]map[string]struct{}),
		tenGens:  make(map[int32]int32),
		userGens: make(map[ulid.ULID]int32),
		events:   make(map[eventKey]map[int32]struct{}),
		grants:   DefaultGrants(),
	}
}

// AddTenant registers a tenant and initializes its generation counter.
func (s *MemStore) AddTenant(t Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.tenants[t.ID] = t
	if _, ok := s.tenGens[t.ID]; !ok {
		s.tenGens[t.ID] = 1
	}
}

// AddUser registers a user record; PasswordHash must already be hashed.
func (s *MemStore) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	s.users[u.ID] = u
	s.byLogin[loginKey{u.TenantID, u.Login}] = u.ID
	if _, ok := s.userGens[u.ID]; !ok {
		s.userGens[u.ID] = 1
	}
}

// AddToGroup records group membership.
func (s *MemStore) AddToGroup(userID ulid.ULID, group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups[userID] == nil {
		s.groups[userID] = make(map[string]struct{})
	}
	s.groups[userID][group] = struct{}{}
}

// SetGrants replaces the policy data returned by RoleGrants.
func (s *MemStore) SetGrants(grants []RoleGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = grants
}

// RemoveUser drops the user record, turning it into a lost user for any
// account still holding its id.
func (s *MemStore) RemoveUser(userID ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		delete(s.byLogin, loginKey{u.TenantID, u.Login})
	}
	delete(s.users, userID)
}

// IdentityRegistry ---------------------------------------------------------

func (s *MemStore) ResolveByID(ctx context.Context, tenantID int32, userID ulid.ULID) (Account, error) {
	if userID == SystemUserID {
		return SystemAccount(tenantID), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok || u.TenantID != tenantID {
		return Account{}, ErrNotFound
	}
	return u.Account(), nil
}

func (s *MemStore) ResolveByCredential(ctx context.Context, tenantID int32, login, password string) (Account, error) {
	s.mu.RLock()
	id, ok := s.byLogin[loginKey{tenantID, login}]
	var u User
	if ok {
		u = s.users[id]
	}
	s.mu.RUnlock()
	if !ok {
		BurnVerification(password)
		return Anonymous(tenantID), nil
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return Anonymous(tenantID), nil
	}
	return u.Account(), nil
}

func (s *MemStore) UserStatus(ctx context.Context, userID ulid.ULID) (UserStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return "", ErrNotFound
	}
	return u.Status, nil
}

func (s *MemStore) IsDirectoryBound(ctx context.Context, userID ulid.ULID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	return u.Directory, nil
}

func (s *MemStore) IsInGroup(ctx context.Context, userID ulid.ULID, group string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[userID][group]
	return ok, nil
}

func (s *MemStore) Tenant(ctx context.Context, tenantID int32) (Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

// GenerationStore ----------------------------------------------------------

func (s *MemStore) TenantGeneration(ctx context.Context, tenantID int32) (int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gen, ok := s.tenGens[tenantID]
	if !ok {
		return 0, ErrNotFound
	}
	return gen, nil
}

func (s *MemStore) UserGeneration(ctx context.Context, userID ulid.ULID) (int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gen, ok := s.userGens[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return gen, nil
}

func (s *MemStore) BumpTenantGeneration(ctx context.Context, tenantID int32) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenGens[tenantID]++
	return s.tenGens[tenantID], nil
}

func (s *MemStore) BumpUserGeneration(ctx context.Context, userID ulid.ULID) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userGens[userID]++
	return s.userGens[userID], nil
}

// LoginEventStore ----------------------------------------------------------

func (s *MemStore) Register(ctx context.Context, tenantID int32, userID ulid.ULID) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventSeq++
	key := eventKey{tenantID, userID}
	if s.events[key] == nil {
		s.events[key] = make(map[int32]struct{})
	}
	s.events[key][s.eventSeq] = struct{}{}
	return s.eventSeq, nil
}

func (s *MemStore) Revoke(ctx context.Context, tenantID int32, userID ulid.ULID, eventID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events[eventKey{tenantID, userID}], eventID)
	return nil
}

func (s *MemStore) ValidEventIDs(ctx context.Context, tenantID int32, userID ulid.ULID) (map[int32]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[eventKey{tenantID, userID}]
	out := make(map[int32]struct{}, len(src))
	for id := range src {
		out[id] = struct{}{}
	}
	return out, nil
}

// PolicyStore --------------------------------------------------------------

func (s *MemStore) RoleGrants(ctx context.Context) ([]RoleGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RoleGrant, len(s.grants))
	copy(out, s.grants)
	return out, nil
}

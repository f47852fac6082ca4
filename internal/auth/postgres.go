package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/ulid/v2"
)

// PGStore implements IdentityRegistry, GenerationStore, LoginEventStore
// and PolicyStore on PostgreSQL. Generation counters and login events are
// read straight from the database on every call: revocation must be
// visible to the next authentication check from any replica, so nothing
// here is cached.
type PGStore struct {
	db *sql.DB
}

var (
	_ IdentityRegistry = (*PGStore)(nil)
	_ GenerationStore  = (*PGStore)(nil)
	_ LoginEventStore  = (*PGStore)(nil)
	_ PolicyStore      = (*PGStore)(nil)
)

// OpenPG connects to PostgreSQL with pool settings tuned for short
// authentication lookups.
func OpenPG(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

// NewPGStore wraps an existing connection pool (used by tests).
func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) DB() *sql.DB { return s.db }

// IdentityRegistry ---------------------------------------------------------

func (s *PGStore) ResolveByID(ctx context.Context, tenantID int32, userID ulid.ULID) (Account, error) {
	if userID == SystemUserID {
		return SystemAccount(tenantID), nil
	}
	row := s.db.QueryRowContext(ctx,
		`select id, tenant_id, display_name from users where id=$1 and tenant_id=$2`,
		userID.String(), tenantID,
	)
	var (
		rawID   string
		tid     int32
		display string
	)
	if err := row.Scan(&rawID, &tid, &display); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	id, err := ulid.ParseStrict(rawID)
	if err != nil {
		return Account{}, err
	}
	return Account{Kind: KindUser, ID: id, TenantID: tid, DisplayName: display}, nil
}

func (s *PGStore) ResolveByCredential(ctx context.Context, tenantID int32, login, password string) (Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, display_name, password_hash from users where tenant_id=$1 and login=$2`,
		tenantID, login,
	)
	var (
		rawID   string
		display string
		hash    string
	)
	if err := row.Scan(&rawID, &display, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Burn the same argon2 work a real verification would cost so
			// an unknown login is not distinguishable by latency.
			BurnVerification(password)
			return Anonymous(tenantID), nil
		}
		return Account{}, err
	}
	if err := VerifyPassword(hash, password); err != nil {
		return Anonymous(tenantID), nil
	}
	id, err := ulid.ParseStrict(rawID)
	if err != nil {
		return Account{}, err
	}
	return Account{Kind: KindUser, ID: id, TenantID: tenantID, DisplayName: display}, nil
}

func (s *PGStore) UserStatus(ctx context.Context, userID ulid.ULID) (UserStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`select status from users where id=$1`, userID.String(),
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return UserStatus(status), nil
}

func (s *PGStore) IsDirectoryBound(ctx context.Context, userID ulid.ULID) (bool, error) {
	var directory bool
	err := s.db.QueryRowContext(ctx,
		`select directory from users where id=$1`, userID.String(),
	).Scan(&directory)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	return directory, err
}

func (s *PGStore) IsInGroup(ctx context.Context, userID ulid.ULID, group string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from user_groups where user_id=$1 and group_name=$2)`,
		userID.String(), group,
	).Scan(&exists)
	return exists, err
}

func (s *PGStore) Tenant(ctx context.Context, tenantID int32) (Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, plan, created_at from tenants where id=$1`, tenantID,
	)
	var t Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.Plan, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}

// CreateUser inserts a user record with generation 1.
func (s *PGStore) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, tenant_id, login, display_name, password_hash, status, directory, generation)
		 values($1,$2,$3,$4,$5,$6,$7,1)`,
		u.ID.String(), u.TenantID, u.Login, u.DisplayName, u.PasswordHash, string(u.Status), u.Directory,
	)
	return err
}

// GenerationStore ----------------------------------------------------------

func (s *PGStore) TenantGeneration(ctx context.Context, tenantID int32) (int32, error) {
	var gen int32
	err := s.db.QueryRowContext(ctx,
		`select generation from tenants where id=$1`, tenantID,
	).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return gen, err
}

func (s *PGStore) UserGeneration(ctx context.Context, userID ulid.ULID) (int32, error) {
	var gen int32
	err := s.db.QueryRowContext(ctx,
		`select generation from users where id=$1`, userID.String(),
	).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return gen, err
}

func (s *PGStore) BumpTenantGeneration(ctx context.Context, tenantID int32) (int32, error) {
	var gen int32
	err := s.db.QueryRowContext(ctx,
		`update tenants set generation = generation + 1 where id=$1 returning generation`,
		tenantID,
	).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return gen, err
}

func (s *PGStore) BumpUserGeneration(ctx context.Context, userID ulid.ULID) (int32, error) {
	var gen int32
	err := s.db.QueryRowContext(ctx,
		`update users set generation = generation + 1 where id=$1 returning generation`,
		userID.String(),
	).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return gen, err
}

// LoginEventStore ----------------------------------------------------------

func (s *PGStore) Register(ctx context.Context, tenantID int32, userID ulid.ULID) (int32, error) {
	var id int32
	err := s.db.QueryRowContext(ctx,
		`insert into login_events(tenant_id, user_id) values($1,$2) returning id`,
		tenantID, userID.String(),
	).Scan(&id)
	return id, err
}

func (s *PGStore) Revoke(ctx context.Context, tenantID int32, userID ulid.ULID, eventID int32) error {
	_, err := s.db.ExecContext(ctx,
		`update login_events set revoked_at = now() where id=$1 and tenant_id=$2 and user_id=$3`,
		eventID, tenantID, userID.String(),
	)
	return err
}

func (s *PGStore) ValidEventIDs(ctx context.Context, tenantID int32, userID ulid.ULID) (map[int32]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id from login_events where tenant_id=$1 and user_id=$2 and revoked_at is null`,
		tenantID, userID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int32]struct{})
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// PolicyStore --------------------------------------------------------------

func (s *PGStore) RoleGrants(ctx context.Context) ([]RoleGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`select role, action from role_grants order by role`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byRole := make(map[string][]Action)
	var order []string
	for rows.Next() {
		var role, action string
		if err := rows.Scan(&role, &action); err != nil {
			return nil, err
		}
		if _, seen := byRole[role]; !seen {
			order = append(order, role)
		}
		byRole[role] = append(byRole[role], Action(action))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	grants := make([]RoleGrant, 0, len(order))
	for _, name := range order {
		role, ok := parseRole(name)
		if !ok {
			continue
		}
		grants = append(grants, RoleGrant{Role: role, Actions: byRole[name]})
	}
	return grants, nil
}

func parseRole(name string) (Role, bool) {
	switch name {
	case "everyone":
		return RoleEveryone, true
	case "system":
		return RoleSystem, true
	case "administrators":
		return RoleAdministrators, true
	case "users":
		return RoleUsers, true
	default:
		return 0, false
	}
}

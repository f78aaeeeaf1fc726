package core

import (
	"context"
	"fmt"
)

// Role is the principal's position in the tenancy hierarchy.
type Role string

const (
	// RoleSuper is the system-wide operator. It has no tenant of its own and
	// sees every tenant's data.
	RoleSuper Role = "super"
	// RoleOwner owns exactly one tenant; the tenant id is the owner's user id.
	RoleOwner Role = "owner"
	// RoleStaff belongs to an owner's tenant and inherits its scope.
	RoleStaff Role = "staff"
)

// Principal is the resolved identity every engine operation receives
// explicitly. Nothing in internal/core reads ambient request state.
type Principal struct {
	UserID  int64
	Role    Role
	AdminID *int64 // staff only: the owning tenant's owner user id
}

// ResolveTenant returns the tenant id that scopes the principal's data access.
// A super operator resolves to nil (no scope restriction).
func ResolveTenant(p Principal) (*int64, error) {
	switch p.Role {
	case RoleSuper:
		return nil, nil
	case RoleOwner:
		id := p.UserID
		return &id, nil
	case RoleStaff:
		if p.AdminID == nil {
			return nil, fmt.Errorf("staff user %d has no owning tenant", p.UserID)
		}
		id := *p.AdminID
		return &id, nil
	default:
		return nil, fmt.Errorf("unknown role %q for user %d", p.Role, p.UserID)
	}
}

// Scope is the tenant predicate every storage read/write must apply.
type Scope struct {
	all      bool
	none     bool
	tenantID int64
}

// ScopeAll matches every row; only a super operator ever receives it.
func ScopeAll() Scope { return Scope{all: true} }

// ScopeNone matches zero rows. Resolution failures fail closed onto it.
func ScopeNone() Scope { return Scope{none: true} }

// ScopeTenant restricts to a single tenant.
func ScopeTenant(id int64) Scope { return Scope{tenantID: id} }

// MatchesAll reports whether the scope places no restriction.
func (s Scope) MatchesAll() bool { return s.all }

// MatchesNone reports whether the scope can never match a row.
func (s Scope) MatchesNone() bool { return s.none }

// TenantID returns the scoping tenant id; valid only when the scope is
// neither all nor none.
func (s Scope) TenantID() int64 { return s.tenantID }

// AppendSQL appends the scope's predicate on column to a WHERE clause list,
// using positional placeholders numbered after the existing args.
func (s Scope) AppendSQL(column string, where []string, args []any) ([]string, []any) {
	switch {
	case s.all:
		return where, args
	case s.none:
		return append(where, "FALSE"), args
	default:
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)+1))
		return where, append(args, s.tenantID)
	}
}

// TenantFilter derives the scope for a principal. It never fails open: if the
// tenant cannot be resolved the returned scope matches zero rows.
func TenantFilter(p Principal) Scope {
	tenantID, err := ResolveTenant(p)
	if err != nil {
		return ScopeNone()
	}
	if tenantID == nil {
		return ScopeAll()
	}
	return ScopeTenant(*tenantID)
}

// CanAccess reports whether the principal may touch a record owned by
// recordTenantID.
func CanAccess(p Principal, recordTenantID int64) bool {
	tenantID, err := ResolveTenant(p)
	if err != nil {
		return false
	}
	if tenantID == nil {
		return true
	}
	return *tenantID == recordTenantID
}

// UserDirectory is the user lookup surface the engine depends on. The full
// user store lives with authentication at the edge; the engine only needs
// these reads.
type UserDirectory interface {
	// GetByUsername finds a user by username.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByID returns a user by primary key.
	GetByID(ctx context.Context, userID int64) (*User, error)

	// EarliestOwnerID returns the id of the earliest-created tenant owner,
	// or ErrNoTenantOwner if none exists.
	EarliestOwnerID(ctx context.Context) (int64, error)
}

// TenantIDForCreate returns the tenant id new records must carry. A super
// operator has no tenant of its own, so writes fall back to the
// earliest-created owner; an error is returned if no owner exists.
func TenantIDForCreate(ctx context.Context, p Principal, dir UserDirectory) (int64, error) {
	tenantID, err := ResolveTenant(p)
	if err != nil {
		return 0, err
	}
	if tenantID != nil {
		return *tenantID, nil
	}
	return dir.EarliestOwnerID(ctx)
}

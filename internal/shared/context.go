package shared

import (
	"context"
	"sort"
)

// Principal is the authenticated actor with its resolved roles and effective permissions.
type Principal struct {
	UserID      int64    `json:"user_id"`
	Email       string   `json:"email"`
	PrimaryRole string   `json:"primary_role"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`

	roleSet map[string]struct{}
	permSet map[string]struct{}
}

// NewPrincipal builds a Principal with normalized, sorted role and permission sets.
func NewPrincipal(userID int64, email, primaryRole string, roles, permissions []string) *Principal {
	p := &Principal{
		UserID:      userID,
		Email:       email,
		PrimaryRole: NormalizeName(primaryRole),
		Roles:       NormalizeNames(roles),
		Permissions: NormalizeNames(permissions),
	}
	sort.Strings(p.Roles)
	sort.Strings(p.Permissions)
	p.roleSet = toSet(p.Roles)
	p.permSet = toSet(p.Permissions)
	return p
}

// HasRole reports whether the role is among the assigned roles.
func (p *Principal) HasRole(name string) bool {
	if p == nil {
		return false
	}
	return contains(p.roleSet, p.Roles, name)
}

// HasPermission reports whether the permission is in the effective set.
func (p *Principal) HasPermission(name string) bool {
	if p == nil {
		return false
	}
	return contains(p.permSet, p.Permissions, name)
}

// contains falls back to a scan for principals built without NewPrincipal.
func contains(set map[string]struct{}, values []string, name string) bool {
	name = NormalizeName(name)
	if set != nil {
		_, ok := set[name]
		return ok
	}
	for _, v := range values {
		if NormalizeName(v) == name {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

// ActorID returns the principal's user id, or zero when unauthenticated.
func ActorID(ctx context.Context) int64 {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.UserID
	}
	return 0
}

package rbac

import (
	"github.com/chatdesk/chatdesk/internal/shared"
)

// IsAdmin is the single admin short-circuit predicate: the primary role or
// any assigned role is admin.
func IsAdmin(p *shared.Principal) bool {
	if p == nil {
		return false
	}
	return shared.NormalizeName(p.PrimaryRole) == shared.RoleAdmin || p.HasRole(shared.RoleAdmin)
}

// Decide checks a single permission.
func Decide(p *shared.Principal, perm string) Decision {
	return DecideAll(p, []string{perm})
}

// DecideAll allows only when every permission is held. It stops at the first missing one.
func DecideAll(p *shared.Principal, perms []string) Decision {
	if p == nil {
		return Unauthenticated
	}
	if IsAdmin(p) {
		return Allow
	}
	for _, perm := range shared.NormalizeNames(perms) {
		if !p.HasPermission(perm) {
			return Forbidden
		}
	}
	return Allow
}

// DecideAny allows as soon as one permission is held. An empty requirement denies.
func DecideAny(p *shared.Principal, perms []string) Decision {
	if p == nil {
		return Unauthenticated
	}
	if IsAdmin(p) {
		return Allow
	}
	for _, perm := range shared.NormalizeNames(perms) {
		if p.HasPermission(perm) {
			return Allow
		}
	}
	return Forbidden
}

// DecideRole compares the assigned role names against an allow-list. An empty
// list matches nobody but admins.
func DecideRole(p *shared.Principal, roles []string) Decision {
	if p == nil {
		return Unauthenticated
	}
	if IsAdmin(p) {
		return Allow
	}
	for _, role := range shared.NormalizeNames(roles) {
		if p.HasRole(role) {
			return Allow
		}
	}
	return Forbidden
}

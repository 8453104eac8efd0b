package shared

// Built-in role names. They cannot be renamed or deleted.
const (
	RoleAdmin     = "admin"
	RoleUser      = "user"
	RoleModerator = "moderator"
)

// BuiltInRoles lists the protected role names.
func BuiltInRoles() []string {
	return []string{RoleAdmin, RoleUser, RoleModerator}
}

// IsBuiltInRole reports whether name is one of the protected roles.
func IsBuiltInRole(name string) bool {
	switch NormalizeName(name) {
	case RoleAdmin, RoleUser, RoleModerator:
		return true
	}
	return false
}

// Core platform permissions.
const (
	PermUsersView   = "users.view"
	PermUsersCreate = "users.create"
	PermUsersEdit   = "users.edit"
	PermUsersDelete = "users.delete"

	PermRolesView   = "roles.view"
	PermRolesCreate = "roles.create"
	PermRolesEdit   = "roles.edit"
	PermRolesDelete = "roles.delete"

	PermPermissionsView   = "permissions.view"
	PermPermissionsCreate = "permissions.create"
	PermPermissionsEdit   = "permissions.edit"
	PermPermissionsDelete = "permissions.delete"

	PermTemplatesView         = "templates.view"
	PermTemplatesCreate       = "templates.create"
	PermTemplatesEdit         = "templates.edit"
	PermTemplatesDelete       = "templates.delete"
	PermTemplatesManageAccess = "templates.manage_access"

	PermFormatsView         = "formats.view"
	PermFormatsCreate       = "formats.create"
	PermFormatsEdit         = "formats.edit"
	PermFormatsDelete       = "formats.delete"
	PermFormatsManageAccess = "formats.manage_access"

	PermAuditView   = "audit.view"
	PermAuditExport = "audit.export"
)

// CatalogEntry describes a seeded permission.
type CatalogEntry struct {
	Name        string
	Description string
	Category    string
}

// CoreCatalog lists every permission the platform checks, grouped by category.
func CoreCatalog() []CatalogEntry {
	return []CatalogEntry{
		{PermUsersView, "View users", "Users"},
		{PermUsersCreate, "Create users", "Users"},
		{PermUsersEdit, "Edit users and their roles", "Users"},
		{PermUsersDelete, "Delete users", "Users"},
		{PermRolesView, "View roles", "Roles"},
		{PermRolesCreate, "Create roles", "Roles"},
		{PermRolesEdit, "Edit roles and their permissions", "Roles"},
		{PermRolesDelete, "Delete custom roles", "Roles"},
		{PermPermissionsView, "View permissions", "Permissions"},
		{PermPermissionsCreate, "Create permissions", "Permissions"},
		{PermPermissionsEdit, "Edit permissions", "Permissions"},
		{PermPermissionsDelete, "Delete unused permissions", "Permissions"},
		{PermTemplatesView, "View prompt templates", "Templates"},
		{PermTemplatesCreate, "Create prompt templates", "Templates"},
		{PermTemplatesEdit, "Edit prompt templates", "Templates"},
		{PermTemplatesDelete, "Delete prompt templates", "Templates"},
		{PermTemplatesManageAccess, "Manage per-role template access", "Templates"},
		{PermFormatsView, "View response formats", "Formats"},
		{PermFormatsCreate, "Create response formats", "Formats"},
		{PermFormatsEdit, "Edit response formats", "Formats"},
		{PermFormatsDelete, "Delete response formats", "Formats"},
		{PermFormatsManageAccess, "Manage per-role format access", "Formats"},
		{PermAuditView, "Browse the audit trail", "Audit"},
		{PermAuditExport, "Export the audit trail as CSV", "Audit"},
	}
}

// DefaultRoleGrants maps non-admin built-in roles to their seeded permissions.
// The admin role is bound to the whole catalog.
func DefaultRoleGrants() map[string][]string {
	return map[string][]string{
		RoleModerator: {
			PermUsersView,
			PermRolesView,
			PermPermissionsView,
			PermTemplatesView,
			PermTemplatesEdit,
			PermFormatsView,
			PermFormatsEdit,
			PermAuditView,
		},
		RoleUser: {
			PermTemplatesView,
			PermTemplatesCreate,
			PermFormatsView,
			PermFormatsCreate,
		},
	}
}

package rbac

// Built-in role names
const (
	RoleSuperAdmin     = "SUPER_ADMIN"
	RoleAdmin          = "ADMIN"
	RoleManager        = "MANAGER"
	RoleUser           = "USER"
	RoleViewer         = "VIEWER"
	RoleBillingManager = "BILLING_MANAGER"
	RoleMember         = "MEMBER"
)

// builtInRoleOrder fixes the seeding order so that logs and events are stable
var builtInRoleOrder = []string{
	RoleSuperAdmin,
	RoleAdmin,
	RoleManager,
	RoleUser,
	RoleViewer,
	RoleBillingManager,
	RoleMember,
}

var builtInRoleDescriptions = map[string]string{
	RoleSuperAdmin:     "Unrestricted access to every capability",
	RoleAdmin:          "Administers users, roles, teams and settings",
	RoleManager:        "Manages teams and projects",
	RoleUser:           "Works on projects",
	RoleViewer:         "Read-only access",
	RoleBillingManager: "Manages subscriptions and invoices",
	RoleMember:         "Basic team membership",
}

// DefaultRoleDefinitions maps every built-in role name to its permission set.
// SUPER_ADMIN is derived from AllPermissions on each call.
func DefaultRoleDefinitions() map[string][]Permission {
	return map[string][]Permission{
		RoleSuperAdmin: AllPermissions(),
		RoleAdmin: {
			PermissionAdminAccess,
			PermissionManageUsers,
			PermissionViewUsers,
			PermissionManageRoles,
			PermissionViewRoles,
			PermissionManageTeams,
			PermissionViewTeams,
			PermissionViewBilling,
			PermissionViewAnalytics,
			PermissionExportData,
			PermissionCreateProject,
			PermissionEditProject,
			PermissionDeleteProject,
			PermissionViewProject,
			PermissionManageSettings,
			PermissionViewAuditLogs,
			PermissionManageAPIKeys,
		},
		RoleManager: {
			PermissionViewUsers,
			PermissionViewRoles,
			PermissionManageTeams,
			PermissionViewTeams,
			PermissionViewAnalytics,
			PermissionCreateProject,
			PermissionEditProject,
			PermissionViewProject,
		},
		RoleUser: {
			PermissionViewTeams,
			PermissionCreateProject,
			PermissionEditProject,
			PermissionViewProject,
		},
		RoleViewer: {
			PermissionViewTeams,
			PermissionViewProject,
		},
		RoleBillingManager: {
			PermissionManageBilling,
			PermissionViewBilling,
			PermissionViewAnalytics,
		},
		RoleMember: {
			PermissionViewTeams,
			PermissionViewProject,
		},
	}
}

// DefaultRoles returns the built-in roles as system-role creation payloads
func DefaultRoles() []CreateRoleInput {
	defs := DefaultRoleDefinitions()
	roles := make([]CreateRoleInput, 0, len(builtInRoleOrder))
	for _, name := range builtInRoleOrder {
		roles = append(roles, CreateRoleInput{
			Name:         name,
			Description:  builtInRoleDescriptions[name],
			IsSystemRole: true,
			Permissions:  normalizePermissions(defs[name]),
		})
	}
	return roles
}

// IsBuiltInRole reports whether name is one of the default role names
func IsBuiltInRole(name string) bool {
	_, ok := builtInRoleDescriptions[name]
	return ok
}

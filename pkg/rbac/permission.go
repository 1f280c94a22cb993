package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Permission is a named capability. The set of permissions is closed: only the
// constants below are valid, and their string values are persisted.
type Permission string

const (
	PermissionAdminAccess    Permission = "ADMIN_ACCESS"
	PermissionManageUsers    Permission = "MANAGE_USERS"
	PermissionViewUsers      Permission = "VIEW_USERS"
	PermissionManageRoles    Permission = "MANAGE_ROLES"
	PermissionViewRoles      Permission = "VIEW_ROLES"
	PermissionManageTeams    Permission = "MANAGE_TEAMS"
	PermissionViewTeams      Permission = "VIEW_TEAMS"
	PermissionManageBilling  Permission = "MANAGE_BILLING"
	PermissionViewBilling    Permission = "VIEW_BILLING"
	PermissionViewAnalytics  Permission = "VIEW_ANALYTICS"
	PermissionExportData     Permission = "EXPORT_DATA"
	PermissionCreateProject  Permission = "CREATE_PROJECT"
	PermissionEditProject    Permission = "EDIT_PROJECT"
	PermissionDeleteProject  Permission = "DELETE_PROJECT"
	PermissionViewProject    Permission = "VIEW_PROJECT"
	PermissionManageSettings Permission = "MANAGE_SETTINGS"
	PermissionViewAuditLogs  Permission = "VIEW_AUDIT_LOGS"
	PermissionManageAPIKeys  Permission = "MANAGE_API_KEYS"
)

// allPermissions is the declaration-ordered enumeration. New permissions must be
// appended here; SUPER_ADMIN picks them up automatically.
var allPermissions = []Permission{
	PermissionAdminAccess,
	PermissionManageUsers,
	PermissionViewUsers,
	PermissionManageRoles,
	PermissionViewRoles,
	PermissionManageTeams,
	PermissionViewTeams,
	PermissionManageBilling,
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
}

var permissionIndex = func() map[Permission]struct{} {
	idx := make(map[Permission]struct{}, len(allPermissions))
	for _, p := range allPermissions {
		idx[p] = struct{}{}
	}
	return idx
}()

// AllPermissions returns a copy of every defined permission in declaration order
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

// String returns the persisted name of the permission
func (p Permission) String() string {
	return string(p)
}

// Valid reports whether p is a member of the enumeration
func (p Permission) Valid() bool {
	_, ok := permissionIndex[p]
	return ok
}

// ParsePermission converts a name into a Permission. Surrounding whitespace is
// ignored and the match is case-insensitive, so "edit_project" is accepted.
func ParsePermission(name string) (Permission, error) {
	p := Permission(strings.ToUpper(strings.TrimSpace(name)))
	if p == "" {
		return "", &ValidationError{Field: "permission", Message: "permission is required"}
	}
	if !p.Valid() {
		return "", &ValidationError{Field: "permission", Message: fmt.Sprintf("unknown permission %q", name)}
	}
	return p, nil
}

// ParsePermissions parses a list of names, dropping duplicates
func ParsePermissions(names []string) ([]Permission, error) {
	out := make([]Permission, 0, len(names))
	for _, n := range names {
		p, err := ParsePermission(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return normalizePermissions(out), nil
}

// normalizePermissions returns a sorted copy of perms without duplicates
func normalizePermissions(perms []Permission) []Permission {
	seen := make(map[Permission]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// validatePermissions returns a ValidationError for the first unknown permission
func validatePermissions(perms []Permission) error {
	for _, p := range perms {
		if !p.Valid() {
			return &ValidationError{Field: "permissions", Message: fmt.Sprintf("unknown permission %q", p)}
		}
	}
	return nil
}

// diffPermissions returns what must be added to and removed from current to reach desired
func diffPermissions(current, desired []Permission) (toAdd, toRemove []Permission) {
	have := make(map[Permission]struct{}, len(current))
	for _, p := range current {
		have[p] = struct{}{}
	}
	want := make(map[Permission]struct{}, len(desired))
	for _, p := range desired {
		want[p] = struct{}{}
		if _, ok := have[p]; !ok {
			toAdd = append(toAdd, p)
		}
	}
	for _, p := range current {
		if _, ok := want[p]; !ok {
			toRemove = append(toRemove, p)
		}
	}
	return normalizePermissions(toAdd), normalizePermissions(toRemove)
}

package rbac

import (
	"context"
	"time"
)

// Provider performs persistence-backed permission checks and mutations.
// Implementations emit events only after the underlying write has committed.
type Provider interface {
	HasPermission(ctx context.Context, userID string, perm Permission) (bool, error)
	HasRole(ctx context.Context, userID, roleID string) (bool, error)

	GetAllRoles(ctx context.Context) ([]RoleWithPermissions, error)
	GetRoleByID(ctx context.Context, roleID string) (*RoleWithPermissions, error)
	GetRoleByName(ctx context.Context, name string) (*RoleWithPermissions, error)
	CreateRole(ctx context.Context, input CreateRoleInput, meta AuditMeta) (*RoleWithPermissions, error)
	UpdateRole(ctx context.Context, roleID string, input UpdateRoleInput, meta AuditMeta) (*RoleWithPermissions, error)
	DeleteRole(ctx context.Context, roleID string, meta AuditMeta) (bool, error)

	GetUserRoles(ctx context.Context, userID string) ([]UserRole, error)
	GetUserPermissions(ctx context.Context, userID string) ([]Permission, error)
	GetUserPermissionSet(ctx context.Context, userID string) (*PermissionSet, error)
	AssignRoleToUser(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) (*UserRole, error)
	RemoveRoleFromUser(ctx context.Context, userID, roleID string) (bool, error)
	PurgeExpiredAssignments(ctx context.Context) (int64, error)

	RoleHasPermission(ctx context.Context, roleID string, perm Permission) (bool, error)
	AddPermissionToRole(ctx context.Context, roleID string, perm Permission) (*PermissionAssignment, error)
	RemovePermissionFromRole(ctx context.Context, roleID string, perm Permission) (bool, error)
	GetAllPermissions(ctx context.Context) ([]Permission, error)
	GetRolePermissions(ctx context.Context, roleID string) ([]Permission, error)

	AssignResourcePermission(ctx context.Context, userID string, perm Permission, resourceType, resourceID string, meta AuditMeta) (*ResourcePermission, error)
	RemoveResourcePermission(ctx context.Context, userID string, perm Permission, resourceType, resourceID string, meta AuditMeta) (bool, error)
	HasResourcePermission(ctx context.Context, userID string, perm Permission, resourceType, resourceID string) (bool, error)
	GetUserResourcePermissions(ctx context.Context, userID string) ([]ResourcePermission, error)
	GetPermissionsForResource(ctx context.Context, resourceType, resourceID string) ([]ResourcePermission, error)
	GetUsersWithResourcePermission(ctx context.Context, resourceType, resourceID string, perm Permission) ([]string, error)

	SyncRolePermissions(ctx context.Context) bool
}

var _ Provider = (*Store)(nil)

package rbac

import (
	"time"
)

// Role represents a named bundle of permissions
type Role struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	IsSystemRole bool      `json:"is_system_role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoleWithPermissions is a role together with the permissions currently attached to it
type RoleWithPermissions struct {
	Role
	Permissions []Permission `json:"permissions"`
}

// HasPermission reports whether the role carries p
func (r *RoleWithPermissions) HasPermission(p Permission) bool {
	for _, have := range r.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// clone returns a deep copy so callers cannot mutate cached or emitted values
func (r *RoleWithPermissions) clone() *RoleWithPermissions {
	if r == nil {
		return nil
	}
	c := *r
	c.Permissions = append([]Permission{}, r.Permissions...)
	return &c
}

// UserRole assigns a role to a user
type UserRole struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	AssignedBy string     `json:"assigned_by"`
	AssignedAt time.Time  `json:"assigned_at"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// IsActive reports whether the assignment is in force at the given time
func (ur *UserRole) IsActive(at time.Time) bool {
	return ur.ExpiresAt == nil || ur.ExpiresAt.After(at)
}

// ResourcePermission grants a permission on a single resource instance
type ResourcePermission struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Permission   Permission `json:"permission"`
	ResourceType string     `json:"resource_type"`
	ResourceID   string     `json:"resource_id"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PermissionAssignment records that a role grants a permission
type PermissionAssignment struct {
	ID         string     `json:"id"`
	RoleID     string     `json:"role_id"`
	Permission Permission `json:"permission"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CreateRoleInput is the payload for creating a role
type CreateRoleInput struct {
	Name         string       `json:"name" yaml:"name"`
	Description  string       `json:"description,omitempty" yaml:"description"`
	IsSystemRole bool         `json:"is_system_role,omitempty" yaml:"system"`
	Permissions  []Permission `json:"permissions,omitempty" yaml:"permissions"`
}

// UpdateRoleInput is a partial update. Nil fields are left unchanged; a non-nil
// Permissions replaces the role's permission set.
type UpdateRoleInput struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Permissions *[]Permission `json:"permissions,omitempty"`
}

// AuditMeta is optional metadata describing who performed a mutation and why.
// The provider records it on emitted events without interpreting it.
type AuditMeta struct {
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
	Ticket string `json:"ticket,omitempty"`
}

// IsZero reports whether no metadata was supplied
func (m AuditMeta) IsZero() bool {
	return m.Actor == "" && m.Reason == "" && m.Ticket == ""
}

// PermissionSet is a user's role-derived permissions as of one read.
// ValidUntil is the earliest expiry among the assignments it was built from,
// nil when none of them expire.
type PermissionSet struct {
	Permissions []Permission `json:"permissions"`
	ValidUntil  *time.Time   `json:"valid_until,omitempty"`
}

// Expired reports whether an assignment behind the set has lapsed at now
func (s *PermissionSet) Expired(now time.Time) bool {
	return s.ValidUntil != nil && !now.Before(*s.ValidUntil)
}

func (s *PermissionSet) clone() *PermissionSet {
	c := &PermissionSet{Permissions: append([]Permission{}, s.Permissions...)}
	if s.ValidUntil != nil {
		until := *s.ValidUntil
		c.ValidUntil = &until
	}
	return c
}

// PermissionCheckResult is the outcome of a check performed through the Checker
type PermissionCheckResult struct {
	Allowed   bool      `json:"allowed"`
	Channel   string    `json:"channel,omitempty"`
	Cached    bool      `json:"cached"`
	CheckedAt time.Time `json:"checked_at"`
}

// Check channels
const (
	ChannelRole     = "role"
	ChannelResource = "resource"
)

// Package rbac provides role-based access control for Gatekeeper.
//
// # Overview
//
// Access is expressed with a closed catalog of permissions (VIEW_ROLES,
// MANAGE_BILLING, ...). Permissions reach a user through two independent
// channels:
//
//  1. Roles: named permission sets assigned to users, optionally with an expiry
//  2. Resource grants: a single permission on one (resource type, resource id)
//
// A role grant never implies a resource grant and a resource grant never
// implies a role permission. Callers that accept either use Service.Can.
//
// # Built-In Roles
//
// Seven system roles are created by Seed:
//
//	SUPER_ADMIN      - every permission in the catalog
//	ADMIN            - everything except billing management
//	MANAGER          - teams and projects
//	USER             - project work
//	VIEWER           - read-only
//	BILLING_MANAGER  - subscriptions and invoices
//	MEMBER           - basic team membership
//
// System roles cannot be deleted or renamed. Seeding only adds what is
// missing, so it is safe to run on every start.
//
// # Components
//
// Store is the SQL implementation of Provider and runs unchanged on
// PostgreSQL and SQLite. Every mutation commits first and then publishes an
// Event on the EventBus. Service validates input, opens a trace span per
// operation and delegates to the provider. It subscribes handlers to the
// bus the store publishes on:
//
//	store := rbac.NewStore(db, nil)
//	svc := rbac.NewService(store, nil)
//
//	role, err := svc.CreateRole(ctx, rbac.CreateRoleInput{
//		Name:        "editor",
//		Permissions: []rbac.Permission{rbac.PermissionEditProject},
//	}, rbac.AuditMeta{Actor: "admin1"})
//
//	_, err = svc.AssignRoleToUser(ctx, "u1", role.ID, "admin1", nil)
//	ok, err := svc.HasPermission(ctx, "u1", rbac.PermissionEditProject)
//
// # Permission Checking
//
// Checker serves hot-path checks from a PermissionCache (LRU, redis or
// both through TieredCache). It subscribes to the bus and drops a user's
// entry on ROLE_ASSIGNED/ROLE_REMOVED, and every entry on any role
// definition change.
//
// # HTTP
//
// Handlers exposes the management API under /rbac and PermissionMiddleware
// protects other routes:
//
//	router.Handle("/projects", pm.RequirePermission(rbac.PermissionViewProject)(h))
//	router.Handle("/projects/{id}", pm.RequireResourcePermission(rbac.PermissionEditProject, "project", "id")(h))
//
// The caller identity comes from the X-User-ID header.
//
// # Manifests
//
// Roles can be declared in YAML and reconciled with ApplyManifest:
//
//	roles:
//	  - name: editor
//	    description: Edits projects
//	    permissions: [VIEW_PROJECT, EDIT_PROJECT]
//
// Manager wires all of the above from a *sql.DB and a Config.
package rbac

package rbac

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// Handlers provides the HTTP admin API over a Service
type Handlers struct {
	service *Service
	checker *Checker
	log     logrus.FieldLogger
}

// NewHandlers creates new RBAC handlers. A nil checker answers checks
// straight from the provider without caching.
func NewHandlers(service *Service, checker *Checker, log logrus.FieldLogger) *Handlers {
	if checker == nil {
		checker = NewChecker(service.Provider(), nil)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Handlers{service: service, checker: checker, log: log}
}

// RegisterRoutes registers all RBAC routes. When pm is non-nil, reads require
// VIEW_ROLES and writes require MANAGE_ROLES.
func (h *Handlers) RegisterRoutes(router *mux.Router, pm *PermissionMiddleware) {
	r := router.PathPrefix("/rbac").Subrouter()
	r.Use(IdentityFromHeaders)

	read := func(path string, fn http.HandlerFunc) {
		r.Handle(path, pm.guard(PermissionViewRoles, fn)).Methods(http.MethodGet)
	}
	write := func(method, path string, fn http.HandlerFunc) {
		r.Handle(path, pm.guard(PermissionManageRoles, fn)).Methods(method)
	}

	// Permission catalog
	read("/permissions", h.ListPermissions)
	write(http.MethodPost, "/permissions/sync", h.SyncPermissions)

	// Roles
	read("/roles", h.ListRoles)
	write(http.MethodPost, "/roles", h.CreateRole)
	read("/roles/{id}", h.GetRole)
	write(http.MethodPatch, "/roles/{id}", h.UpdateRole)
	write(http.MethodDelete, "/roles/{id}", h.DeleteRole)
	read("/roles/{id}/permissions", h.GetRolePermissions)
	write(http.MethodPut, "/roles/{id}/permissions/{permission}", h.AddPermissionToRole)
	write(http.MethodDelete, "/roles/{id}/permissions/{permission}", h.RemovePermissionFromRole)

	// User assignments
	read("/users/{user_id}/roles", h.GetUserRoles)
	write(http.MethodPost, "/users/{user_id}/roles", h.AssignRoleToUser)
	write(http.MethodDelete, "/users/{user_id}/roles/{role_id}", h.RemoveRoleFromUser)
	read("/users/{user_id}/permissions", h.GetUserPermissions)
	read("/users/{user_id}/check", h.CheckPermission)
	read("/users/{user_id}/resource-permissions", h.GetUserResourcePermissions)

	// Resource grants
	write(http.MethodPost, "/resource-permissions", h.GrantResourcePermission)
	write(http.MethodDelete, "/resource-permissions", h.RevokeResourcePermission)
	read("/resources/{type}/{id}/permissions", h.GetPermissionsForResource)
	read("/resources/{type}/{id}/users", h.GetUsersWithResourcePermission)
}

type createRoleRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
}

type updateRoleRequest struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Permissions *[]Permission `json:"permissions,omitempty"`
}

type assignRoleRequest struct {
	RoleID    string     `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type resourcePermissionRequest struct {
	UserID       string     `json:"user_id"`
	Permission   Permission `json:"permission"`
	ResourceType string     `json:"resource_type"`
	ResourceID   string     `json:"resource_id"`
}

// ListPermissions returns the permission enumeration
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.GetAllPermissions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, perms)
}

// SyncPermissions reconciles the stored permission catalog
func (h *Handlers) SyncPermissions(w http.ResponseWriter, r *http.Request) {
	if !h.service.SyncRolePermissions(r.Context()) {
		httputil.WriteError(w, http.StatusInternalServerError, "permission sync failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"synced": true})
}

// ListRoles lists all roles with their permissions
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.GetAllRoles(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, roles)
}

// CreateRole creates a custom role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.CreateRole(r.Context(), CreateRoleInput{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	}, auditMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, role)
}

// GetRole returns one role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathParam(r, "id")
	role, err := h.service.GetRoleByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if role == nil {
		httputil.WriteNotFound(w, "role not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, role)
}

// UpdateRole applies a partial update to a role
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.UpdateRole(r.Context(), httputil.PathParam(r, "id"), UpdateRoleInput{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	}, auditMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, role)
}

// DeleteRole deletes a custom role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.service.DeleteRole(r.Context(), httputil.PathParam(r, "id"), auditMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !deleted {
		httputil.WriteNotFound(w, "role not found")
		return
	}
	httputil.WriteNoContent(w)
}

// GetRolePermissions lists the permissions attached to a role
func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.GetRolePermissions(r.Context(), httputil.PathParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, perms)
}

// AddPermissionToRole attaches a permission to a role
func (h *Handlers) AddPermissionToRole(w http.ResponseWriter, r *http.Request) {
	pa, err := h.service.AddPermissionToRole(r.Context(),
		httputil.PathParam(r, "id"), Permission(httputil.PathParam(r, "permission")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pa)
}

// RemovePermissionFromRole detaches a permission from a role
func (h *Handlers) RemovePermissionFromRole(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.RemovePermissionFromRole(r.Context(),
		httputil.PathParam(r, "id"), Permission(httputil.PathParam(r, "permission")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !removed {
		httputil.WriteNotFound(w, "permission not attached to role")
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserRoles lists a user's active assignments
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.GetUserRoles(r.Context(), httputil.PathParam(r, "user_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, roles)
}

// AssignRoleToUser assigns a role to a user. The caller is recorded as assigner.
func (h *Handlers) AssignRoleToUser(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ur, err := h.service.AssignRoleToUser(r.Context(),
		httputil.PathParam(r, "user_id"), req.RoleID, auditMeta(r).Actor, req.ExpiresAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ur)
}

// RemoveRoleFromUser removes an assignment
func (h *Handlers) RemoveRoleFromUser(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.RemoveRoleFromUser(r.Context(),
		httputil.PathParam(r, "user_id"), httputil.PathParam(r, "role_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !removed {
		httputil.WriteNotFound(w, "assignment not found")
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserPermissions returns the role-derived permissions of a user
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID := httputil.PathParam(r, "user_id")
	perms, cached, err := h.checker.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"permissions": perms,
		"cached":      cached,
	})
}

// CheckPermission answers a permission check. The role channel is consulted
// first; the resource channel only when resource_type and resource_id are given.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := httputil.PathParam(r, "user_id")
	perm, err := ParsePermission(httputil.QueryParam(r, "permission"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.checker.CheckPermission(ctx, userID, perm)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rt, rid := httputil.QueryParam(r, "resource_type"), httputil.QueryParam(r, "resource_id")
	if !result.Allowed && (rt != "" || rid != "") {
		if rt, rid, err = normalizeResource(rt, rid); err != nil {
			h.writeError(w, r, err)
			return
		}
		if result, err = h.checker.CheckResourcePermission(ctx, userID, perm, rt, rid); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// GetUserResourcePermissions lists a user's resource grants
func (h *Handlers) GetUserResourcePermissions(w http.ResponseWriter, r *http.Request) {
	grants, err := h.service.GetUserResourcePermissions(r.Context(), httputil.PathParam(r, "user_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, grants)
}

// GrantResourcePermission grants a permission on one resource
func (h *Handlers) GrantResourcePermission(w http.ResponseWriter, r *http.Request) {
	var req resourcePermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	grant, err := h.service.AssignResourcePermission(r.Context(),
		req.UserID, req.Permission, req.ResourceType, req.ResourceID, auditMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, grant)
}

// RevokeResourcePermission revokes a resource grant
func (h *Handlers) RevokeResourcePermission(w http.ResponseWriter, r *http.Request) {
	var req resourcePermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	removed, err := h.service.RemoveResourcePermission(r.Context(),
		req.UserID, req.Permission, req.ResourceType, req.ResourceID, auditMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !removed {
		httputil.WriteNotFound(w, "grant not found")
		return
	}
	httputil.WriteNoContent(w)
}

// GetPermissionsForResource lists every grant on a resource
func (h *Handlers) GetPermissionsForResource(w http.ResponseWriter, r *http.Request) {
	grants, err := h.service.GetPermissionsForResource(r.Context(),
		httputil.PathParam(r, "type"), httputil.PathParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, grants)
}

// GetUsersWithResourcePermission lists users holding ?permission= on a resource
func (h *Handlers) GetUsersWithResourcePermission(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.GetUsersWithResourcePermission(r.Context(),
		httputil.PathParam(r, "type"), httputil.PathParam(r, "id"),
		Permission(httputil.QueryParam(r, "permission")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, users)
}

// writeError maps error kinds to status codes. Provider failures are logged
// and reported without detail.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case IsValidation(err):
		httputil.WriteBadRequest(w, err.Error())
	case IsNotFound(err):
		httputil.WriteNotFound(w, err.Error())
	case IsConflict(err):
		httputil.WriteErrorKind(w, http.StatusConflict, "conflict", err.Error())
	default:
		h.log.WithError(err).WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": contextkeys.GetRequestID(r.Context()),
		}).Error("rbac request failed")
		httputil.WriteErrorKind(w, http.StatusInternalServerError, "provider", "internal server error")
	}
}

// auditMeta builds audit metadata from the request identity
func auditMeta(r *http.Request) AuditMeta {
	ctx := r.Context()
	meta := AuditMeta{Actor: contextkeys.GetUserID(ctx)}
	meta.Reason, meta.Ticket = contextkeys.GetAudit(ctx)
	if meta.Actor == "" {
		meta.Actor = r.Header.Get(HeaderUserID)
	}
	if meta.Reason == "" {
		meta.Reason = r.Header.Get(HeaderAuditReason)
	}
	if meta.Ticket == "" {
		meta.Ticket = r.Header.Get(HeaderAuditTicket)
	}
	return meta
}

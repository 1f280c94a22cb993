package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/platinummonkey/gatekeeper/pkg/rbac"

// OperationObserver is notified after every service operation
type OperationObserver func(op string, duration time.Duration, err error)

// Service is the entry point the rest of the application uses. It validates
// and normalizes input, delegates to a Provider and exposes the provider's
// event bus for subscriptions.
type Service struct {
	provider Provider
	bus      *EventBus
	log      logrus.FieldLogger
	tracer   trace.Tracer
	observe  OperationObserver
	now      func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithServiceLogger sets the service logger
func WithServiceLogger(log logrus.FieldLogger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTracer sets the tracer used for operation spans
func WithTracer(tracer trace.Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithOperationObserver registers a callback for operation timing and outcome
func WithOperationObserver(fn OperationObserver) ServiceOption {
	return func(s *Service) {
		s.observe = fn
	}
}

// WithServiceClock overrides the time source used for expiry validation
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// busSource is implemented by providers that publish their own events
type busSource interface {
	Bus() *EventBus
}

// NewService composes a provider and the bus its events arrive on. A provider
// that owns a bus (such as *Store) always supplies it; a different bus
// argument is ignored with a warning. Otherwise bus is used, or a new one
// when nil.
func NewService(provider Provider, bus *EventBus, opts ...ServiceOption) *Service {
	s := &Service{
		provider: provider,
		log:      logrus.New(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if src, ok := provider.(busSource); ok && src.Bus() != nil {
		if bus != nil && bus != src.Bus() {
			s.log.Warn("ignoring event bus that differs from the provider's")
		}
		bus = src.Bus()
	}
	if bus == nil {
		bus = NewEventBus(WithBusLogger(s.log))
	}
	s.bus = bus
	return s
}

// Provider returns the underlying data provider
func (s *Service) Provider() Provider {
	return s.provider
}

// Bus returns the event bus
func (s *Service) Bus() *EventBus {
	return s.bus
}

// OnPermissionEvent subscribes handler to permission events and returns the
// function that cancels the subscription
func (s *Service) OnPermissionEvent(handler EventHandler) func() {
	return s.bus.Subscribe(handler)
}

func (s *Service) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	began := time.Now()
	ctx, span := s.tracer.Start(ctx, "rbac."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if s.observe != nil {
			s.observe(op, time.Since(began), err)
		}
	}
}

func required(field, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", &ValidationError{Field: field, Message: field + " is required"}
	}
	return v, nil
}

func normalizeResource(resourceType, resourceID string) (string, string, error) {
	rt, err := required("resource_type", resourceType)
	if err != nil {
		return "", "", err
	}
	rid, err := required("resource_id", resourceID)
	if err != nil {
		return "", "", err
	}
	return strings.ToLower(rt), rid, nil
}

// HasPermission checks the role channel only
func (s *Service) HasPermission(ctx context.Context, userID string, perm Permission) (ok bool, err error) {
	ctx, end := s.start(ctx, "HasPermission", attribute.String("permission", string(perm)))
	defer end(&err)

	if userID, err = required("user_id", userID); err != nil {
		return false, err
	}
	if perm, err = ParsePermission(string(perm)); err != nil {
		return false, err
	}
	return s.provider.HasPermission(ctx, userID, perm)
}

// HasRole reports whether the user holds an active assignment of roleID
func (s *Service) HasRole(ctx context.Context, userID, roleID string) (ok bool, err error) {
	ctx, end := s.start(ctx, "HasRole")
	defer end(&err)

	if userID, err = required("user_id", userID); err != nil {
		return false, err
	}
	if roleID, err = required("role_id", roleID); err != nil {
		return false, err
	}
	return s.provider.HasRole(ctx, userID, roleID)
}

// Can reports whether the user holds perm through a role or through a grant
// on the given resource. Pass empty resource arguments to check roles only.
func (s *Service) Can(ctx context.Context, userID string, perm Permission, resourceType, resourceID string) (ok bool, err error) {
	ctx, end := s.start(ctx, "Can", attribute.String("permission", string(perm)))
	defer end(&err)

	if userID, err = required("user_id", userID); err != nil {
		return false, err
	}
	if perm, err = ParsePermission(string(perm)); err != nil {
		return false, err
	}

	ok, err = s.provider.HasPermission(ctx, userID, perm)
	if err != nil || ok || (resourceType == "" && resourceID == "") {
		return ok, err
	}

	rt, rid, err := normalizeResource(resourceType, resourceID)
	if err != nil {
		return false, err
	}
	return s.provider.HasResourcePermission(ctx, userID, perm, rt, rid)
}

// GetAllRoles returns the role catalog
func (s *Service) GetAllRoles(ctx context.Context) (roles []RoleWithPermissions, err error) {
	ctx, end := s.start(ctx, "GetAllRoles")
	defer end(&err)
	return s.provider.GetAllRoles(ctx)
}

// GetRoleByID returns the role or nil when it does not exist
func (s *Service) GetRoleByID(ctx context.Context, roleID string) (role *RoleWithPermissions, err error) {
	ctx, end := s.start(ctx, "GetRoleByID")
	defer end(&err)

	if roleID, err = required("role_id", roleID); err != nil {
		return nil, err
	}
	return s.provider.GetRoleByID(ctx, roleID)
}

// GetRoleByName returns the role or nil when it does not exist
func (s *Service) GetRoleByName(ctx context.Context, name string) (role *RoleWithPermissions, err error) {
	ctx, end := s.start(ctx, "GetRoleByName")
	defer end(&err)

	if name, err = required("name", name); err != nil {
		return nil, err
	}
	return s.provider.GetRoleByName(ctx, name)
}

// CreateRole validates the payload and creates the role
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput, meta AuditMeta) (role *RoleWithPermissions, err error) {
	ctx, end := s.start(ctx, "CreateRole", attribute.String("role.name", input.Name))
	defer end(&err)

	if input.Name, err = required("name", input.Name); err != nil {
		return nil, err
	}
	input.Description = strings.TrimSpace(input.Description)
	if input.Permissions, err = normalizeInputPermissions(input.Permissions); err != nil {
		return nil, err
	}

	role, err = s.provider.CreateRole(ctx, input, meta)
	if err != nil {
		return nil, fmt.Errorf("create role %q: %w", input.Name, err)
	}
	s.log.WithFields(logrus.Fields{"role_id": role.ID, "role": role.Name, "actor": meta.Actor}).Info("role created")
	return role, nil
}

// UpdateRole applies a partial update. System roles cannot be renamed.
func (s *Service) UpdateRole(ctx context.Context, roleID string, input UpdateRoleInput, meta AuditMeta) (role *RoleWithPermissions, err error) {
	ctx, end := s.start(ctx, "UpdateRole")
	defer end(&err)

	if roleID, err = required("role_id", roleID); err != nil {
		return nil, err
	}
	if input.Name != nil {
		name, err := required("name", *input.Name)
		if err != nil {
			return nil, err
		}
		input.Name = &name
	}
	if input.Description != nil {
		desc := strings.TrimSpace(*input.Description)
		input.Description = &desc
	}
	if input.Permissions != nil {
		perms, err := normalizeInputPermissions(*input.Permissions)
		if err != nil {
			return nil, err
		}
		input.Permissions = &perms
	}

	role, err = s.provider.UpdateRole(ctx, roleID, input, meta)
	if err != nil {
		return nil, fmt.Errorf("update role %s: %w", roleID, err)
	}
	return role, nil
}

// DeleteRole deletes a non-system role. It returns false when the role does
// not exist.
func (s *Service) DeleteRole(ctx context.Context, roleID string, meta AuditMeta) (deleted bool, err error) {
	ctx, end := s.start(ctx, "DeleteRole")
	defer end(&err)

	if roleID, err = required("role_id", roleID); err != nil {
		return false, err
	}

	deleted, err = s.provider.DeleteRole(ctx, roleID, meta)
	if err != nil {
		return false, fmt.Errorf("delete role %s: %w", roleID, err)
	}
	if deleted {
		s.log.WithFields(logrus.Fields{"role_id": roleID, "actor": meta.Actor}).Info("role deleted")
	}
	return deleted, nil
}

// GetUserRoles returns the user's active assignments
func (s *Service) GetUserRoles(ctx context.Context, userID string) (roles []UserRole, err error) {
	ctx, end := s.start(ctx, "GetUserRoles")
	defer end(&err)

	if userID, err = required("user_id", userID); err != nil {
		return nil, err
	}
	return s.provider.GetUserRoles(ctx, userID)
}

// GetUserPermissions returns the permissions the user holds through roles
func (s *Service) GetUserPermissions(ctx context.Context, userID string) (perms []Permission, err error) {
	ctx, end := s.start(ctx, "GetUserPermissions")
	defer end(&err)

	if userID, err = required("user_id", userID); err != nil {
		return nil, err
	}
	return s.provider.GetUserPermissions(ctx, userID)
}

// AssignRoleToUser assigns a role. A blank assignedBy is recorded as "system";
// an expiry must lie in the future.
func (s *Service) AssignRoleToUser(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) (ur *UserRole, err error) {
	ctx, end := s.start(ctx, "AssignRoleToUser")
	defer end(&err)

	if userID, err = required("user_id", userID); err != nil {
		return nil, err
	}
	if roleID, err = required("role_id", roleID); err != nil {
		return nil, err
	}
	assignedBy = strings.TrimSpace(assignedBy)
	if assignedBy == "" {
		assignedBy = "system"
	}
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return nil, &ValidationError{Field: "expires_at", Message: "expiry must be in the future"}
	}

	ur, err = s.provider.AssignRoleToUser(ctx, userID, roleID, assignedBy, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("assign role %s to user %s: %w", roleID, userID, err)
	}
	return ur, nil
}

// RemoveRoleFromUser removes an assignment, reporting whether one existed
func (s *Service) RemoveRoleFromUser(ctx context.Context, userID, roleID string) (removed bool, err error) {
	ctx, end := s.start(ctx, "RemoveRoleFromUser")
	defer end(&err)

	if userID, err = required("user_id", userID); err != nil {
		return false, err
	}
	if roleID, err = required("role_id", roleID); err != nil {
		return false, err
	}
	return s.provider.RemoveRoleFromUser(ctx, userID, roleID)
}

// PurgeExpiredAssignments removes assignments past their expiry
func (s *Service) PurgeExpiredAssignments(ctx context.Context) (n int64, err error) {
	ctx, end := s.start(ctx, "PurgeExpiredAssignments")
	defer end(&err)
	return s.provider.PurgeExpiredAssignments(ctx)
}

// RoleHasPermission reports whether the role carries perm
func (s *Service) RoleHasPermission(ctx context.Context, roleID string, perm Permission) (ok bool, err error) {
	ctx, end := s.start(ctx, "RoleHasPermission")
	defer end(&err)

	if roleID, err = required("role_id", roleID); err != nil {
		return false, err
	}
	if perm, err = ParsePermission(string(perm)); err != nil {
		return false, err
	}
	return s.provider.RoleHasPermission(ctx, roleID, perm)
}

// AddPermissionToRole attaches a permission; repeated calls are no-ops
func (s *Service) AddPermissionToRole(ctx context.Context, roleID string, perm Permission) (pa *PermissionAssignment, err error) {
	ctx, end := s.start(ctx, "AddPermissionToRole", attribute.String("permission", string(perm)))
	defer end(&err)

	if roleID, err = required("role_id", roleID); err != nil {
		return nil, err
	}
	if perm, err = ParsePermission(string(perm)); err != nil {
		return nil, err
	}

	pa, err = s.provider.AddPermissionToRole(ctx, roleID, perm)
	if err != nil {
		return nil, fmt.Errorf("add permission %s to role %s: %w", perm, roleID, err)
	}
	return pa, nil
}

// RemovePermissionFromRole detaches a permission, reporting whether it was attached
func (s *Service) RemovePermissionFromRole(ctx context.Context, roleID string, perm Permission) (removed bool, err error) {
	ctx, end := s.start(ctx, "RemovePermissionFromRole", attribute.String("permission", string(perm)))
	defer end(&err)

	if roleID, err = required("role_id", roleID); err != nil {
		return false, err
	}
	if perm, err = ParsePermission(string(perm)); err != nil {
		return false, err
	}
	return s.provider.RemovePermissionFromRole(ctx, roleID, perm)
}

// GetAllPermissions returns every defined permission
func (s *Service) GetAllPermissions(ctx context.Context) (perms []Permission, err error) {
	ctx, end := s.start(ctx, "GetAllPermissions")
	defer end(&err)
	return s.provider.GetAllPermissions(ctx)
}

// GetRolePermissions returns the permissions attached to a role
func (s *Service) GetRolePermissions(ctx context.Context, roleID string) (perms []Permission, err error) {
	ctx, end := s.start(ctx, "GetRolePermissions")
	defer end(&err)

	if roleID, err = required("role_id", roleID); err != nil {
		return nil, err
	}
	return s.provider.GetRolePermissions(ctx, roleID)
}

// AssignResourcePermission grants perm on a single resource
func (s *Service) AssignResourcePermission(ctx context.Context, userID string, perm Permission, resourceType, resourceID string, meta AuditMeta) (grant *ResourcePermission, err error) {
	ctx, end := s.start(ctx, "AssignResourcePermission",
		attribute.String("permission", string(perm)),
		attribute.String("resource.type", resourceType))
	defer end(&err)

	if userID, err = required("user_id", userID); err != nil {
		return nil, err
	}
	if perm, err = ParsePermission(string(perm)); err != nil {
		return nil, err
	}
	if resourceType, resourceID, err = normalizeResource(resourceType, resourceID); err != nil {
		return nil, err
	}

	grant, err = s.provider.AssignResourcePermission(ctx, userID, perm, resourceType, resourceID, meta)
	if err != nil {
		return nil, fmt.Errorf("grant %s on %s/%s to %s: %w", perm, resourceType, resourceID, userID, err)
	}
	return grant, nil
}

// RemoveResourcePermission revokes a resource grant
func (s *Service) RemoveResourcePermission(ctx context.Context, userID string, perm Permission, resourceType, resourceID string, meta AuditMeta) (removed bool, err error) {
	ctx, end := s.start(ctx, "RemoveResourcePermission",
		attribute.String("permission", string(perm)),
		attribute.String("resource.type", resourceType))
	defer end(&err)

	if userID, err = required("user_id", userID); err != nil {
		return false, err
	}
	if perm, err = ParsePermission(string(perm)); err != nil {
		return false, err
	}
	if resourceType, resourceID, err = normalizeResource(resourceType, resourceID); err != nil {
		return false, err
	}
	return s.provider.RemoveResourcePermission(ctx, userID, perm, resourceType, resourceID, meta)
}

// HasResourcePermission checks the resource channel only
func (s *Service) HasResourcePermission(ctx context.Context, userID string, perm Permission, resourceType, resourceID string) (ok bool, err error) {
	ctx, end := s.start(ctx, "HasResourcePermission", attribute.String("permission", string(perm)))
	defer end(&err)

	if userID, err = required("user_id", userID); err != nil {
		return false, err
	}
	if perm, err = ParsePermission(string(perm)); err != nil {
		return false, err
	}
	if resourceType, resourceID, err = normalizeResource(resourceType, resourceID); err != nil {
		return false, err
	}
	return s.provider.HasResourcePermission(ctx, userID, perm, resourceType, resourceID)
}

// GetUserResourcePermissions lists the user's resource grants
func (s *Service) GetUserResourcePermissions(ctx context.Context, userID string) (grants []ResourcePermission, err error) {
	ctx, end := s.start(ctx, "GetUserResourcePermissions")
	defer end(&err)

	if userID, err = required("user_id", userID); err != nil {
		return nil, err
	}
	return s.provider.GetUserResourcePermissions(ctx, userID)
}

// GetPermissionsForResource lists all grants on a resource
func (s *Service) GetPermissionsForResource(ctx context.Context, resourceType, resourceID string) (grants []ResourcePermission, err error) {
	ctx, end := s.start(ctx, "GetPermissionsForResource")
	defer end(&err)

	if resourceType, resourceID, err = normalizeResource(resourceType, resourceID); err != nil {
		return nil, err
	}
	return s.provider.GetPermissionsForResource(ctx, resourceType, resourceID)
}

// GetUsersWithResourcePermission lists users holding perm on a resource
func (s *Service) GetUsersWithResourcePermission(ctx context.Context, resourceType, resourceID string, perm Permission) (users []string, err error) {
	ctx, end := s.start(ctx, "GetUsersWithResourcePermission")
	defer end(&err)

	if resourceType, resourceID, err = normalizeResource(resourceType, resourceID); err != nil {
		return nil, err
	}
	if perm, err = ParsePermission(string(perm)); err != nil {
		return nil, err
	}
	return s.provider.GetUsersWithResourcePermission(ctx, resourceType, resourceID, perm)
}

// SyncRolePermissions reconciles the permission catalog. False means the sync
// failed; the failure has already been logged by the provider.
func (s *Service) SyncRolePermissions(ctx context.Context) bool {
	ctx, end := s.start(ctx, "SyncRolePermissions")
	ok := s.provider.SyncRolePermissions(ctx)
	var err error
	if !ok {
		err = fmt.Errorf("permission catalog sync failed")
	}
	end(&err)
	return ok
}

func normalizeInputPermissions(perms []Permission) ([]Permission, error) {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return ParsePermissions(names)
}

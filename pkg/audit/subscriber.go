package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// Subscriber turns permission events into audit entries
type Subscriber struct {
	logger Logger
	log    logrus.FieldLogger
}

// NewSubscriber creates a subscriber writing to logger
func NewSubscriber(logger Logger, log logrus.FieldLogger) *Subscriber {
	if log == nil {
		log = logrus.New()
	}
	return &Subscriber{logger: logger, log: log}
}

// Attach subscribes to bus and returns the unsubscribe function
func (s *Subscriber) Attach(bus *rbac.EventBus) func() {
	return bus.Subscribe(s.Handle)
}

// Handle records event. Sink failures are logged, never returned to the
// emitter.
func (s *Subscriber) Handle(ctx context.Context, event rbac.Event) {
	entry := FromRBACEvent(event)
	if entry == nil {
		return
	}
	if err := s.logger.Log(ctx, entry); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type,
			"audit_id":   entry.ID,
		}).Warn("failed to write audit event")
	}
}

// FromRBACEvent maps a permission event to an audit entry. Unknown event
// types yield nil.
func FromRBACEvent(event rbac.Event) *AuditEvent {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	e := &AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Status:    EventStatusSuccess,
		Actor:     event.Meta.Actor,
		Reason:    event.Meta.Reason,
		Ticket:    event.Meta.Ticket,
	}

	switch event.Type {
	case rbac.EventRoleCreated:
		e.EventType = EventTypeRoleCreate
		e.ResourceType = ResourceTypeRole
		if event.Role != nil {
			e.ResourceID = event.Role.ID
			e.ResourceName = event.Role.Name
			e.Metadata = map[string]interface{}{
				"permissions":    permissionStrings(event.Role.Permissions),
				"is_system_role": event.Role.IsSystemRole,
			}
		}
		e.Message = fmt.Sprintf("role %q created", e.ResourceName)

	case rbac.EventRoleUpdated:
		e.EventType = EventTypeRoleUpdate
		e.ResourceType = ResourceTypeRole
		if event.Role != nil {
			e.ResourceID = event.Role.ID
			e.ResourceName = event.Role.Name
		}
		if event.PreviousRole != nil || event.Role != nil {
			e.Changes = &ChangeDetails{
				Before: roleSnapshot(event.PreviousRole),
				After:  roleSnapshot(event.Role),
			}
		}
		e.Message = fmt.Sprintf("role %q updated", e.ResourceName)

	case rbac.EventRoleDeleted:
		e.EventType = EventTypeRoleDelete
		e.ResourceType = ResourceTypeRole
		e.ResourceID = event.RoleID
		if event.Role != nil {
			e.ResourceName = event.Role.Name
			e.Changes = &ChangeDetails{Before: roleSnapshot(event.Role)}
		}
		e.Message = fmt.Sprintf("role %s deleted", event.RoleID)

	case rbac.EventPermissionAdded, rbac.EventPermissionRemoved:
		e.EventType = EventTypePermissionGrant
		verb := "granted to"
		if event.Type == rbac.EventPermissionRemoved {
			e.EventType = EventTypePermissionRevoke
			verb = "revoked from"
		}
		e.ResourceType = ResourceTypeRole
		e.ResourceID = event.RoleID
		e.Metadata = map[string]interface{}{"permission": string(event.Permission)}
		e.Message = fmt.Sprintf("permission %s %s role %s", event.Permission, verb, event.RoleID)

	case rbac.EventRoleAssigned:
		e.EventType = EventTypeRoleAssign
		e.ResourceType = ResourceTypeUser
		e.ResourceID = event.UserID
		e.Subject = event.UserID
		e.Metadata = map[string]interface{}{"role_id": event.RoleID}
		if ur := event.UserRole; ur != nil {
			if e.Actor == "" {
				e.Actor = ur.AssignedBy
			}
			if ur.ExpiresAt != nil {
				e.Metadata["expires_at"] = ur.ExpiresAt.UTC().Format(time.RFC3339)
			}
		}
		e.Message = fmt.Sprintf("role %s assigned to user %s", event.RoleID, event.UserID)

	case rbac.EventRoleRemoved:
		e.EventType = EventTypeRoleUnassign
		e.ResourceType = ResourceTypeUser
		e.ResourceID = event.UserID
		e.Subject = event.UserID
		e.Metadata = map[string]interface{}{"role_id": event.RoleID}
		e.Message = fmt.Sprintf("role %s removed from user %s", event.RoleID, event.UserID)

	case rbac.EventResourcePermissionGranted, rbac.EventResourcePermissionRevoked:
		e.EventType = EventTypeResourceGrant
		verb := "granted"
		if event.Type == rbac.EventResourcePermissionRevoked {
			e.EventType = EventTypeResourceRevoke
			verb = "revoked"
		}
		e.ResourceType = ResourceTypeResource
		e.Subject = event.UserID
		e.Metadata = map[string]interface{}{"permission": string(event.Permission)}
		if rp := event.ResourcePermission; rp != nil {
			e.ResourceID = rp.ResourceType + "/" + rp.ResourceID
			e.Metadata["resource_type"] = rp.ResourceType
			e.Metadata["resource_id"] = rp.ResourceID
		}
		e.Message = fmt.Sprintf("permission %s on %s %s for user %s", event.Permission, e.ResourceID, verb, event.UserID)

	case rbac.EventRolePermissionsSynced:
		e.EventType = EventTypeCatalogSync
		e.ResourceType = ResourceTypePermission
		e.Metadata = map[string]interface{}{"added": permissionStrings(event.Permissions)}
		e.Message = fmt.Sprintf("%d permissions added to catalog", len(event.Permissions))

	default:
		return nil
	}

	if e.Actor == "" {
		e.Actor = "system"
	}
	return e
}

func roleSnapshot(r *rbac.RoleWithPermissions) map[string]interface{} {
	if r == nil {
		return nil
	}
	return map[string]interface{}{
		"name":        r.Name,
		"description": r.Description,
		"permissions": permissionStrings(r.Permissions),
	}
}

func permissionStrings(perms []rbac.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

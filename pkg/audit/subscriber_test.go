package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

func TestFromRBACEvent(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC()
	role := &rbac.RoleWithPermissions{
		Role:        rbac.Role{ID: "r1", Name: "editor"},
		Permissions: []rbac.Permission{rbac.PermissionViewRoles},
	}

	tests := []struct {
		name      string
		event     rbac.Event
		eventType EventType
		actor     string
		subject   string
		resource  string
	}{
		{
			name:      "role created",
			event:     rbac.Event{Type: rbac.EventRoleCreated, Role: role, Meta: rbac.AuditMeta{Actor: "admin1"}},
			eventType: EventTypeRoleCreate,
			actor:     "admin1",
			resource:  "r1",
		},
		{
			name:      "role deleted",
			event:     rbac.Event{Type: rbac.EventRoleDeleted, RoleID: "r1", Role: role},
			eventType: EventTypeRoleDelete,
			actor:     "system",
			resource:  "r1",
		},
		{
			name:      "permission removed",
			event:     rbac.Event{Type: rbac.EventPermissionRemoved, RoleID: "r1", Permission: rbac.PermissionViewRoles},
			eventType: EventTypePermissionRevoke,
			actor:     "system",
			resource:  "r1",
		},
		{
			name: "role assigned",
			event: rbac.Event{
				Type:     rbac.EventRoleAssigned,
				UserID:   "u1",
				RoleID:   "r1",
				UserRole: &rbac.UserRole{UserID: "u1", RoleID: "r1", AssignedBy: "admin1", ExpiresAt: &expires},
			},
			eventType: EventTypeRoleAssign,
			actor:     "admin1",
			subject:   "u1",
			resource:  "u1",
		},
		{
			name: "resource grant",
			event: rbac.Event{
				Type:       rbac.EventResourcePermissionGranted,
				UserID:     "u1",
				Permission: rbac.PermissionViewRoles,
				ResourcePermission: &rbac.ResourcePermission{
					UserID: "u1", Permission: rbac.PermissionViewRoles, ResourceType: "module", ResourceID: "m1",
				},
				Meta: rbac.AuditMeta{Actor: "admin1", Ticket: "SEC-1"},
			},
			eventType: EventTypeResourceGrant,
			actor:     "admin1",
			subject:   "u1",
			resource:  "module/m1",
		},
		{
			name:      "catalog sync",
			event:     rbac.Event{Type: rbac.EventRolePermissionsSynced, Permissions: []rbac.Permission{rbac.PermissionViewRoles}},
			eventType: EventTypeCatalogSync,
			actor:     "system",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := FromRBACEvent(tt.event)
			require.NotNil(t, e)
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.Timestamp.IsZero())
			assert.Equal(t, tt.eventType, e.EventType)
			assert.Equal(t, EventStatusSuccess, e.Status)
			assert.Equal(t, tt.actor, e.Actor)
			assert.Equal(t, tt.subject, e.Subject)
			assert.Equal(t, tt.resource, e.ResourceID)
			assert.NotEmpty(t, e.Message)
		})
	}
}

func TestFromRBACEventRoleUpdateChanges(t *testing.T) {
	before := &rbac.RoleWithPermissions{Role: rbac.Role{ID: "r1", Name: "editor"}}
	after := &rbac.RoleWithPermissions{
		Role:        rbac.Role{ID: "r1", Name: "writer"},
		Permissions: []rbac.Permission{rbac.PermissionViewRoles},
	}

	e := FromRBACEvent(rbac.Event{Type: rbac.EventRoleUpdated, Role: after, PreviousRole: before})
	require.NotNil(t, e)
	require.NotNil(t, e.Changes)
	assert.Equal(t, "editor", e.Changes.Before["name"])
	assert.Equal(t, "writer", e.Changes.After["name"])
	assert.Equal(t, []string{"VIEW_ROLES"}, e.Changes.After["permissions"])
}

func TestFromRBACEventUnknown(t *testing.T) {
	assert.Nil(t, FromRBACEvent(rbac.Event{Type: "SOMETHING_ELSE"}))
}

func TestSubscriberAttach(t *testing.T) {
	log, hook := test.NewNullLogger()
	sink := &recordingLogger{}
	bus := rbac.NewEventBus()

	unsubscribe := NewSubscriber(sink, log).Attach(bus)
	bus.Emit(context.Background(), rbac.Event{Type: rbac.EventRoleRemoved, UserID: "u1", RoleID: "r1"})
	require.Equal(t, 1, sink.count())
	assert.Equal(t, EventTypeRoleUnassign, sink.events[0].EventType)

	unsubscribe()
	bus.Emit(context.Background(), rbac.Event{Type: rbac.EventRoleRemoved, UserID: "u1", RoleID: "r1"})
	assert.Equal(t, 1, sink.count())
	assert.Empty(t, hook.Entries)
}

func TestSubscriberSwallowsSinkErrors(t *testing.T) {
	log, hook := test.NewNullLogger()
	sink := &recordingLogger{err: errors.New("sink down")}

	s := NewSubscriber(sink, log)
	s.Handle(context.Background(), rbac.Event{Type: rbac.EventRoleAssigned, UserID: "u1", RoleID: "r1"})

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "failed to write audit event", hook.LastEntry().Message)
}

package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeRoleCreate       EventType = "authz.role_create"
	EventTypeRoleUpdate       EventType = "authz.role_update"
	EventTypeRoleDelete       EventType = "authz.role_delete"
	EventTypePermissionGrant  EventType = "authz.permission_grant"
	EventTypePermissionRevoke EventType = "authz.permission_revoke"
	EventTypeRoleAssign       EventType = "authz.role_assign"
	EventTypeRoleUnassign     EventType = "authz.role_unassign"
	EventTypeResourceGrant    EventType = "authz.resource_grant"
	EventTypeResourceRevoke   EventType = "authz.resource_revoke"
	EventTypeCatalogSync      EventType = "authz.catalog_sync"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of object an event is about
type ResourceType string

const (
	ResourceTypeRole       ResourceType = "role"
	ResourceTypeUser       ResourceType = "user"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeResource   ResourceType = "resource"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Who and why
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
	Ticket string `json:"ticket,omitempty"`

	// What was changed
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	ResourceName string       `json:"resource_name,omitempty"`

	// Subject is the user whose access changed, when there is one
	Subject string `json:"subject,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Changes  *ChangeDetails         `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

package rbac

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType identifies a permission event
type EventType string

const (
	EventRoleCreated           EventType = "ROLE_CREATED"
	EventRoleUpdated           EventType = "ROLE_UPDATED"
	EventRoleDeleted           EventType = "ROLE_DELETED"
	EventPermissionAdded       EventType = "PERMISSION_ADDED"
	EventPermissionRemoved     EventType = "PERMISSION_REMOVED"
	EventRoleAssigned          EventType = "ROLE_ASSIGNED"
	EventRoleRemoved           EventType = "ROLE_REMOVED"
	EventRolePermissionsSynced EventType = "ROLE_PERMISSIONS_SYNCED"

	// Resource grant events are published alongside the role events so that
	// caches and the audit trail see every mutation.
	EventResourcePermissionGranted EventType = "RESOURCE_PERMISSION_GRANTED"
	EventResourcePermissionRevoked EventType = "RESOURCE_PERMISSION_REVOKED"
)

// Event is a notification about a committed mutation. Which payload fields are
// set depends on Type:
//
//	ROLE_CREATED              Role
//	ROLE_UPDATED              Role, PreviousRole
//	ROLE_DELETED              RoleID, Role (state before deletion)
//	PERMISSION_ADDED/REMOVED  RoleID, Permission
//	ROLE_ASSIGNED             UserID, RoleID, UserRole
//	ROLE_REMOVED              UserID, RoleID
//	ROLE_PERMISSIONS_SYNCED   Permissions (catalog rows added)
//	RESOURCE_PERMISSION_*     UserID, Permission, ResourcePermission
type Event struct {
	Type               EventType            `json:"type"`
	Timestamp          time.Time            `json:"timestamp"`
	Role               *RoleWithPermissions `json:"role,omitempty"`
	PreviousRole       *RoleWithPermissions `json:"previous_role,omitempty"`
	RoleID             string               `json:"role_id,omitempty"`
	UserID             string               `json:"user_id,omitempty"`
	Permission         Permission           `json:"permission,omitempty"`
	Permissions        []Permission         `json:"permissions,omitempty"`
	UserRole           *UserRole            `json:"user_role,omitempty"`
	ResourcePermission *ResourcePermission  `json:"resource_permission,omitempty"`
	Meta               AuditMeta            `json:"meta,omitempty"`
}

// EventHandler receives events. Handlers run on the emitting goroutine.
type EventHandler func(ctx context.Context, event Event)

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus delivers events to subscribers synchronously, in subscription order
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	log    logrus.FieldLogger

	onPanic func(EventType)
}

// EventBusOption configures an EventBus
type EventBusOption func(*EventBus)

// WithBusLogger sets the logger used to report handler panics
func WithBusLogger(log logrus.FieldLogger) EventBusOption {
	return func(b *EventBus) {
		if log != nil {
			b.log = log
		}
	}
}

// WithPanicHook registers a callback invoked after a handler panic is recovered
func WithPanicHook(fn func(EventType)) EventBusOption {
	return func(b *EventBus) {
		b.onPanic = fn
	}
}

// NewEventBus creates an empty event bus
func NewEventBus(opts ...EventBusOption) *EventBus {
	b := &EventBus{log: logrus.New()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *EventBus) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *EventBus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			subs := make([]subscription, 0, len(b.subs)-1)
			subs = append(subs, b.subs[:i]...)
			b.subs = append(subs, b.subs[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of registered handlers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit delivers event to every handler registered at the time of the call.
// A zero Timestamp is filled in. A panicking handler is logged and skipped.
func (b *EventBus) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s, event)
	}
}

func (b *EventBus) deliver(ctx context.Context, s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithFields(logrus.Fields{
				"event_type":    event.Type,
				"subscriber_id": s.id,
				"panic":         fmt.Sprint(r),
				"stack":         string(debug.Stack()),
			}).Error("permission event handler panicked")
			if b.onPanic != nil {
				b.onPanic(event.Type)
			}
		}
	}()
	s.handler(ctx, event)
}

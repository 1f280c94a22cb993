package rbac

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// newTestDB opens a migrated in-memory SQLite database. A single connection
// keeps every query on the same in-memory database.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	log, _ := test.NewNullLogger()
	require.NoError(t, RunMigrations(context.Background(), db, log))
	return db
}

// eventRecorder collects every event emitted on a bus
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(bus *EventBus) *eventRecorder {
	r := &eventRecorder{}
	bus.Subscribe(func(_ context.Context, e Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
	return r
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) types() []EventType {
	var out []EventType
	for _, e := range r.all() {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// newTestStore returns a store over a fresh database and a recorder of its events
func newTestStore(t *testing.T, opts ...StoreOption) (*Store, *eventRecorder) {
	t.Helper()
	log, _ := test.NewNullLogger()
	bus := NewEventBus(WithBusLogger(log))
	rec := recordEvents(bus)
	return NewStore(newTestDB(t), bus, append([]StoreOption{WithStoreLogger(log)}, opts...)...), rec
}

// testClock is a settable time source shared by stores and checkers
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestService returns a service over a fresh store
func newTestService(t *testing.T) (*Service, *Store, *eventRecorder) {
	t.Helper()
	store, rec := newTestStore(t)
	log, _ := test.NewNullLogger()
	return NewService(store, store.Bus(), WithServiceLogger(log)), store, rec
}

func createRole(t *testing.T, p Provider, name string, perms ...Permission) *RoleWithPermissions {
	t.Helper()
	role, err := p.CreateRole(context.Background(), CreateRoleInput{Name: name, Permissions: perms}, AuditMeta{Actor: "admin1"})
	require.NoError(t, err)
	return role
}

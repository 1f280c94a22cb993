package rbac

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := NewEventBus()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(func(context.Context, Event) { order = append(order, i) })
	}

	bus.Emit(context.Background(), Event{Type: EventRoleCreated})
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestEventBus_FillsTimestamp(t *testing.T) {
	bus := NewEventBus()
	var got Event
	bus.Subscribe(func(_ context.Context, e Event) { got = e })

	bus.Emit(context.Background(), Event{Type: EventRoleCreated})
	assert.False(t, got.Timestamp.IsZero())
}

func TestEventBus_PanicIsolation(t *testing.T) {
	log, hook := test.NewNullLogger()
	var panicked []EventType
	bus := NewEventBus(WithBusLogger(log), WithPanicHook(func(et EventType) { panicked = append(panicked, et) }))

	delivered := 0
	bus.Subscribe(func(context.Context, Event) { panic("boom") })
	bus.Subscribe(func(context.Context, Event) { delivered++ })

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), Event{Type: EventRoleDeleted})
	})
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []EventType{EventRoleDeleted}, panicked)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "permission event handler panicked", hook.LastEntry().Message)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	unsubscribe := bus.Subscribe(func(context.Context, Event) { calls++ })
	other := bus.Subscribe(func(context.Context, Event) {})
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Emit(context.Background(), Event{Type: EventRoleCreated})
	unsubscribe()
	unsubscribe()
	bus.Emit(context.Background(), Event{Type: EventRoleCreated})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, bus.SubscriberCount())
	other()
	assert.Zero(t, bus.SubscriberCount())
}

func TestEventBus_UnsubscribeDuringEmit(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	var unsubscribe func()
	unsubscribe = bus.Subscribe(func(context.Context, Event) {
		calls++
		unsubscribe()
	})

	bus.Emit(context.Background(), Event{Type: EventRoleCreated})
	bus.Emit(context.Background(), Event{Type: EventRoleCreated})
	assert.Equal(t, 1, calls)
}

func TestEventBus_NilHandler(t *testing.T) {
	bus := NewEventBus()
	unsubscribe := bus.Subscribe(nil)
	assert.Zero(t, bus.SubscriberCount())
	unsubscribe()
}

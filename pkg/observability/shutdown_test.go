package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	log, _ := test.NewNullLogger()
	sm := NewShutdownManager(log, nil, time.Second)

	var order []string
	sm.Register("db", func(context.Context) error { order = append(order, "db"); return nil })
	sm.Register("cron", func(context.Context) error { order = append(order, "cron"); return nil })

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"cron", "db"}, order)
}

func TestShutdownCollectsErrors(t *testing.T) {
	log, _ := test.NewNullLogger()
	sm := NewShutdownManager(log, nil, 0)

	ran := false
	sm.Register("first", func(context.Context) error { ran = true; return nil })
	sm.Register("second", func(context.Context) error { return errors.New("boom") })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second: boom")
	assert.True(t, ran)
}

func TestWaitReturnsOnCancel(t *testing.T) {
	log, _ := test.NewNullLogger()
	sm := NewShutdownManager(log, nil, time.Second)

	called := make(chan struct{})
	sm.Register("x", func(context.Context) error { close(called); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.Wait(ctx))
	<-called
}

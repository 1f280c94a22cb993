package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsAllTasks(t *testing.T) {
	log, _ := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), log, 3, "test", time.Second)

	var count atomic.Int32
	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			count.Add(1)
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(5*time.Second))
	assert.Equal(t, int32(50), count.Load())
}

func TestWorkerPoolCollectsErrorsAndPanics(t *testing.T) {
	log, hook := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), log, 1, "test", time.Second)

	require.NoError(t, pool.Submit(func(ctx context.Context) error { return errors.New("boom") }))
	require.NoError(t, pool.Submit(func(ctx context.Context) error { panic("kaboom") }))
	require.NoError(t, pool.Shutdown(5*time.Second))

	var errs []error
	for len(errs) < 2 {
		errs = append(errs, <-pool.Errors())
	}
	assert.EqualError(t, errs[0], "boom")
	assert.EqualError(t, errs[1], "panic: kaboom")
	assert.Equal(t, "PANIC in worker", hook.LastEntry().Message)
}

func TestWorkerPoolSubmitAfterShutdown(t *testing.T) {
	log, _ := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), log, 1, "test", time.Second)
	require.NoError(t, pool.Shutdown(time.Second))
	require.NoError(t, pool.Shutdown(time.Second))

	assert.ErrorIs(t, pool.Submit(func(ctx context.Context) error { return nil }), ErrPoolClosed)
}

func TestWorkerPoolTaskTimeout(t *testing.T) {
	log, _ := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), log, 1, "test", 10*time.Millisecond)

	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, pool.Shutdown(time.Second))
	assert.ErrorIs(t, <-pool.Errors(), context.DeadlineExceeded)
}

func TestSafeGoRecoversPanic(t *testing.T) {
	log, hook := test.NewNullLogger()
	done := make(chan struct{})

	SafeGo(context.Background(), log, time.Second, "panicky", func(ctx context.Context) error {
		defer close(done)
		panic("boom")
	})
	<-done

	assert.Eventually(t, func() bool {
		e := hook.LastEntry()
		return e != nil && e.Data["task"] == "panicky"
	}, time.Second, 5*time.Millisecond)
}

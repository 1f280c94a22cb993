package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []*AuditEvent
	err    error
	closed bool
}

func (r *recordingLogger) Log(_ context.Context, e *AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingLogger) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingLogger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestMultiLoggerSync(t *testing.T) {
	log, _ := test.NewNullLogger()
	failing := &recordingLogger{err: errors.New("sink down")}
	ok := &recordingLogger{}

	m := NewMultiLogger(log, failing, ok)
	err := m.Log(context.Background(), newTestEvent("1"))
	assert.EqualError(t, err, "sink down")
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, ok.count(), "later sinks still receive the event")

	require.NoError(t, m.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}

func TestMultiLoggerAsync(t *testing.T) {
	log, _ := test.NewNullLogger()
	failing := &recordingLogger{err: errors.New("sink down")}
	ok := &recordingLogger{}

	m := NewMultiLogger(log, failing, ok)
	m.SetAsync(context.Background(), 2)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Log(context.Background(), newTestEvent("e")))
	}
	require.NoError(t, m.Close())

	assert.Equal(t, 10, failing.count())
	assert.Equal(t, 10, ok.count())
	assert.Len(t, m.GetErrors(), 10)
}

func TestLogrusLogger(t *testing.T) {
	log, hook := test.NewNullLogger()
	l := NewLogrusLogger(log)

	e := newTestEvent("1")
	e.Subject = "u1"
	e.Reason = "onboarding"
	require.NoError(t, l.Log(context.Background(), e))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "role created", entry.Message)
	assert.Equal(t, "u1", entry.Data["subject"])
	assert.Equal(t, "onboarding", entry.Data["reason"])
	assert.Equal(t, "admin1", entry.Data["actor"])
}

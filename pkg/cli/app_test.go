package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	setupEnv(t)
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	a, err := newApp(context.Background(), cfg, log, appOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestScheduleJobs(t *testing.T) {
	a := newTestApp(t)

	c, err := scheduleJobs(context.Background(), a)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 3)

	a.cfg.Jobs.SyncSchedule = ""
	c, err = scheduleJobs(context.Background(), a)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2, "empty schedules are skipped")

	a.cfg.Jobs.PurgeSchedule = "not a schedule"
	_, err = scheduleJobs(context.Background(), a)
	assert.Error(t, err)
}

func TestApplyManifestFile(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	path := writeManifest(t)

	require.NoError(t, applyManifestFile(ctx, a, path))
	role, err := a.manager.Service().GetRoleByName(ctx, "editor")
	require.NoError(t, err)
	require.NotNil(t, role)
	assert.ElementsMatch(t, []rbac.Permission{rbac.PermissionViewProject, rbac.PermissionEditProject}, role.Permissions)

	require.NoError(t, applyManifestFile(ctx, a, path), "reapplying is a no-op")
	assert.Error(t, applyManifestFile(ctx, a, filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestBuildAuditLoggerRequiresWritableDirectory(t *testing.T) {
	a := newTestApp(t)
	log, _ := test.NewNullLogger()

	_, err := buildAuditLogger(context.Background(), config.AuditConfig{
		FilePath: filepath.Join(writeManifest(t), "audit"),
	}, a.db, log)
	assert.Error(t, err)
}

func TestRunJob(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	assert.ErrorIs(t, runJob(ctx, time.Second, func(context.Context) error { return boom }), boom)

	err := runJob(ctx, time.Second, func(context.Context) error { panic("job exploded") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job exploded")

	err = runJob(ctx, time.Minute, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
		return nil
	})
	assert.NoError(t, err)
}

func TestWatchManifestReloadsOnChange(t *testing.T) {
	a := newTestApp(t)
	path := writeManifest(t)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		watchManifest(ctx, a, config.ManifestConfig{Path: path, Watch: true, Debounce: 20 * time.Millisecond})
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	// let the watcher register before writing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o644))

	assert.Eventually(t, func() bool {
		role, err := a.manager.Service().GetRoleByName(context.Background(), "editor")
		return err == nil && role != nil
	}, 2*time.Second, 20*time.Millisecond)
}

package rbac

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `
roles:
  - name: editor
    description: Edits projects
    permissions: [view_project, EDIT_PROJECT]
  - name: auditor
    permissions:
      - VIEW_AUDIT_LOGS
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(testManifest))
	require.NoError(t, err)
	require.Len(t, m.Roles, 2)
	assert.Equal(t, "editor", m.Roles[0].Name)
	assert.Equal(t, []Permission{PermissionEditProject, PermissionViewProject}, m.Roles[0].Permissions)
	assert.Equal(t, []Permission{PermissionViewAuditLogs}, m.Roles[1].Permissions)

	empty, err := ParseManifest(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Roles)
}

func TestParseManifestErrors(t *testing.T) {
	tests := map[string]string{
		"unknown key":        "roles:\n  - name: a\n    colour: red\n",
		"unknown permission": "roles:\n  - name: a\n    permissions: [FLY]\n",
		"missing name":       "roles:\n  - description: nameless\n",
		"duplicate name":     "roles:\n  - name: a\n  - name: a\n",
		"not yaml":           "roles: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestApplyManifest(t *testing.T) {
	svc, store, rec := newTestService(t)
	ctx := context.Background()
	createRole(t, store, "editor", PermissionViewProject)

	m, err := ParseManifest([]byte(testManifest))
	require.NoError(t, err)

	result, err := ApplyManifest(ctx, svc, m, AuditMeta{Actor: "manifest"})
	require.NoError(t, err)
	assert.Equal(t, []string{"auditor"}, result.Created)
	assert.Equal(t, []string{"editor"}, result.Updated)
	assert.Empty(t, result.Unchanged)

	editor, err := svc.GetRoleByName(ctx, "editor")
	require.NoError(t, err)
	assert.Equal(t, "Edits projects", editor.Description)
	assert.Equal(t, []Permission{PermissionEditProject, PermissionViewProject}, editor.Permissions)

	rec.reset()
	again, err := ApplyManifest(ctx, svc, m, AuditMeta{Actor: "manifest"})
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Empty(t, again.Updated)
	assert.Equal(t, []string{"editor", "auditor"}, again.Unchanged)
	assert.Empty(t, rec.all(), "re-applying an unchanged manifest emits nothing")
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Len(t, m.Roles, 2)

	_, err = LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatchManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o644))

	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changes atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- WatchManifest(ctx, path, 20*time.Millisecond, log, func() { changes.Add(1) })
	}()

	// let the watcher register before writing
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o644))
	}

	assert.Eventually(t, func() bool { return changes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), changes.Load(), "bursts collapse into one reload")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

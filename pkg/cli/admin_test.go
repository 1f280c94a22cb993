package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

const testManifest = `
roles:
  - name: editor
    description: Edits projects
    permissions: [VIEW_PROJECT, EDIT_PROJECT]
`

// setupEnv points the configuration at a fresh sqlite database and audit
// directory and returns the audit directory
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	auditDir := filepath.Join(dir, "audit")

	t.Setenv("GATEKEEPER_DB_DRIVER", "sqlite3")
	t.Setenv("GATEKEEPER_DB_DSN", "file:"+filepath.Join(dir, "gatekeeper.db")+"?_foreign_keys=on")
	t.Setenv("GATEKEEPER_LOG_LEVEL", "error")
	t.Setenv("GATEKEEPER_AUDIT_FILE", auditDir)
	t.Setenv("GATEKEEPER_AUDIT_DB", "true")
	t.Setenv("GATEKEEPER_AUDIT_ASYNC", "false")
	return auditDir
}

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o644))
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	out := captureOutput(t)
	require.NoError(t, NewRootCommand().ExecuteArgs(args))
	return out.String()
}

func TestAdminCommands(t *testing.T) {
	auditDir := setupEnv(t)

	assert.Contains(t, run(t, "migrate"), "Migrations applied")
	assert.Contains(t, run(t, "sync"), "Permission catalog synced")

	var seeded rbac.SeedResult
	require.NoError(t, json.Unmarshal([]byte(run(t, "seed")), &seeded))
	assert.Len(t, seeded.RolesCreated, 7)

	require.NoError(t, json.Unmarshal([]byte(run(t, "seed")), &seeded))
	assert.Empty(t, seeded.RolesCreated)
	assert.Len(t, seeded.RolesAlreadyExists, 7)

	var applied rbac.ManifestResult
	require.NoError(t, json.Unmarshal([]byte(run(t, "apply", "-f", writeManifest(t), "-actor", "alice")), &applied))
	assert.Equal(t, []string{"editor"}, applied.Created)

	var stats rbac.Stats
	require.NoError(t, json.Unmarshal([]byte(run(t, "stats")), &stats))
	assert.Equal(t, 8, stats.Roles)
	assert.Equal(t, 7, stats.SystemRoles)

	var check map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(run(t, "check", "-user", "u1", "-permission", "view_project")), &check))
	assert.Equal(t, false, check["allowed"])

	assert.Contains(t, run(t, "purge"), "Purged 0 expired assignments")

	fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: auditDir})
	require.NoError(t, err)
	defer fileLogger.Close()
	events, err := fileLogger.ReadLogs(0)
	require.NoError(t, err)

	var created []string
	for _, e := range events {
		if e.EventType == audit.EventTypeRoleCreate {
			created = append(created, e.ResourceName)
			if e.ResourceName == "editor" {
				assert.Equal(t, "alice", e.Actor)
			}
		}
	}
	assert.Len(t, created, 8)
	assert.Contains(t, created, "editor")
}

func TestApplyDryRun(t *testing.T) {
	t.Setenv("GATEKEEPER_DB_DSN", "")
	assert.Contains(t, run(t, "apply", "-f", writeManifest(t), "-dry-run"), "Manifest is valid: 1 roles")
}

func TestApplyRequiresManifest(t *testing.T) {
	setupEnv(t)
	err := NewRootCommand().ExecuteArgs([]string{"apply"})
	assert.EqualError(t, err, "manifest path is required (-f)")
}

func TestCheckValidatesInput(t *testing.T) {
	setupEnv(t)
	root := NewRootCommand()

	assert.EqualError(t, root.ExecuteArgs([]string{"check", "-permission", "VIEW_PROJECT"}), "user is required")

	err := root.ExecuteArgs([]string{"check", "-user", "u1", "-permission", "FLY"})
	assert.True(t, rbac.IsValidation(err))
}

func TestInvalidConfiguration(t *testing.T) {
	t.Setenv("GATEKEEPER_DB_DRIVER", "oracle")
	err := NewRootCommand().ExecuteArgs([]string{"stats"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid database driver")
}

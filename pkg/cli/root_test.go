package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects command output for the duration of a test
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })
	return &buf
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "gatekeeper", root.Name)
	assert.NotNil(t, root.Flags)

	expected := []string{"serve", "migrate", "sync", "seed", "apply", "stats", "purge", "check"}
	for _, name := range expected {
		assert.Contains(t, root.Subcommands, name)
		assert.Equal(t, name, root.Subcommands[name].Name)
		assert.NotNil(t, root.Subcommands[name].Run)
	}
	assert.Len(t, root.Subcommands, len(expected))
}

func TestCommandUsage(t *testing.T) {
	out := captureOutput(t)

	require.NoError(t, NewRootCommand().ExecuteArgs(nil))
	assert.Contains(t, out.String(), "Usage: gatekeeper <command> [args]")
	assert.Contains(t, out.String(), "apply")
	assert.Contains(t, out.String(), "GATEKEEPER_")
}

func TestCommandExecute_HelpFlag(t *testing.T) {
	for _, flag := range []string{"-h", "--help", "--HELP", "help"} {
		t.Run(flag, func(t *testing.T) {
			out := captureOutput(t)
			require.NoError(t, NewRootCommand().ExecuteArgs([]string{flag}))
			assert.Contains(t, out.String(), "Usage: gatekeeper")
		})
	}
}

func TestCommandExecute_Subcommand(t *testing.T) {
	root := NewRootCommand()

	var received []string
	root.Subcommands["test"] = &Command{
		Name: "test",
		Run: func(args []string) error {
			received = args
			return nil
		},
	}

	require.NoError(t, root.ExecuteArgs([]string{"test", "-x", "y"}))
	assert.Equal(t, []string{"-x", "y"}, received)
}

func TestCommandExecute_SubcommandError(t *testing.T) {
	root := NewRootCommand()
	root.Subcommands["fail"] = &Command{
		Name: "fail",
		Run:  func([]string) error { return errors.New("boom") },
	}

	assert.EqualError(t, root.ExecuteArgs([]string{"fail"}), "boom")
}

func TestCommandExecute_UnknownCommand(t *testing.T) {
	err := NewRootCommand().ExecuteArgs([]string{"nonexistent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: nonexistent")
}

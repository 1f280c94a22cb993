package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// stdout receives command output
var stdout io.Writer = os.Stdout

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "gatekeeper",
		Description: "Gatekeeper - role-based permission service",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("gatekeeper", flag.ExitOnError),
	}

	root.Subcommands["serve"] = newServeCommand()
	root.Subcommands["migrate"] = newMigrateCommand()
	root.Subcommands["sync"] = newSyncCommand()
	root.Subcommands["seed"] = newSeedCommand()
	root.Subcommands["apply"] = newApplyCommand()
	root.Subcommands["stats"] = newStatsCommand()
	root.Subcommands["purge"] = newPurgeCommand()
	root.Subcommands["check"] = newCheckCommand()

	return root
}

// Execute runs the command named by os.Args
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs runs the subcommand named by args[0] with the remaining args
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(stdout, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(stdout, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(stdout, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	fmt.Fprintf(stdout, "\nConfiguration is read from GATEKEEPER_* environment variables.\n")
	return nil
}

package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

func newMigrateCommand() *Command {
	return &Command{
		Name:        "migrate",
		Description: "Apply pending schema migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ExitOnError),
		Run:         runMigrate,
	}
}

func runMigrate(args []string) error {
	cmd := newMigrateCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := rbac.RunMigrations(ctx, a.db, a.log); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintln(stdout, "Migrations applied")
	return nil
}

func newSyncCommand() *Command {
	return &Command{
		Name:        "sync",
		Description: "Add missing permissions to the permission catalog",
		Flags:       flag.NewFlagSet("sync", flag.ExitOnError),
		Run:         runSync,
	}
}

func runSync(args []string) error {
	cmd := newSyncCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.manager.Service().SyncRolePermissions(ctx) {
		return fmt.Errorf("permission catalog sync failed")
	}
	fmt.Fprintln(stdout, "Permission catalog synced")
	return nil
}

func newSeedCommand() *Command {
	return &Command{
		Name:        "seed",
		Description: "Create the built-in roles and fill in their default permissions",
		Flags:       flag.NewFlagSet("seed", flag.ExitOnError),
		Run:         runSeed,
	}
}

func runSeed(args []string) error {
	cmd := newSeedCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.manager.Service().SyncRolePermissions(ctx) {
		return fmt.Errorf("permission catalog sync failed")
	}
	result, err := rbac.Seed(ctx, a.manager.Service().Provider())
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}
	return printJSON(result)
}

func newApplyCommand() *Command {
	cmd := &Command{
		Name:        "apply",
		Description: "Reconcile roles with a YAML manifest",
		Flags:       flag.NewFlagSet("apply", flag.ExitOnError),
		Run:         runApply,
	}

	cmd.Flags.String("f", "", "Path to the role manifest")
	cmd.Flags.String("actor", "", "Actor recorded in the audit trail")
	cmd.Flags.String("reason", "", "Reason recorded in the audit trail")
	cmd.Flags.Bool("dry-run", false, "Validate the manifest without applying it")

	return cmd
}

func runApply(args []string) error {
	cmd := newApplyCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	path := cmd.Flags.Lookup("f").Value.String()
	actor := cmd.Flags.Lookup("actor").Value.String()
	reason := cmd.Flags.Lookup("reason").Value.String()
	dryRun := cmd.Flags.Lookup("dry-run").Value.String() == "true"

	if path == "" {
		return fmt.Errorf("manifest path is required (-f)")
	}

	manifest, err := rbac.LoadManifest(path)
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintf(stdout, "Manifest is valid: %d roles\n", len(manifest.Roles))
		return nil
	}

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if actor == "" {
		actor = "cli"
	}
	result, err := rbac.ApplyManifest(ctx, a.manager.Service(), manifest, rbac.AuditMeta{Actor: actor, Reason: reason})
	if err != nil {
		return fmt.Errorf("failed to apply manifest: %w", err)
	}
	return printJSON(result)
}

func newStatsCommand() *Command {
	return &Command{
		Name:        "stats",
		Description: "Print role, assignment and grant counts",
		Flags:       flag.NewFlagSet("stats", flag.ExitOnError),
		Run:         runStats,
	}
}

func runStats(args []string) error {
	cmd := newStatsCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.manager.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func newPurgeCommand() *Command {
	return &Command{
		Name:        "purge",
		Description: "Delete expired role assignments",
		Flags:       flag.NewFlagSet("purge", flag.ExitOnError),
		Run:         runPurge,
	}
}

func runPurge(args []string) error {
	cmd := newPurgeCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.manager.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Purged %d expired assignments\n", n)
	return nil
}

func newCheckCommand() *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Check whether a user holds a permission",
		Flags:       flag.NewFlagSet("check", flag.ExitOnError),
		Run:         runCheck,
	}

	cmd.Flags.String("user", "", "User ID")
	cmd.Flags.String("permission", "", "Permission name")
	cmd.Flags.String("resource-type", "", "Resource type for a resource-scoped check")
	cmd.Flags.String("resource-id", "", "Resource ID for a resource-scoped check")

	return cmd
}

func runCheck(args []string) error {
	cmd := newCheckCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	userID := strings.TrimSpace(cmd.Flags.Lookup("user").Value.String())
	resourceType := cmd.Flags.Lookup("resource-type").Value.String()
	resourceID := cmd.Flags.Lookup("resource-id").Value.String()

	if userID == "" {
		return fmt.Errorf("user is required")
	}
	perm, err := rbac.ParsePermission(cmd.Flags.Lookup("permission").Value.String())
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var allowed bool
	if resourceType != "" || resourceID != "" {
		allowed, err = a.manager.Service().Can(ctx, userID, perm, resourceType, resourceID)
	} else {
		allowed, err = a.manager.Service().HasPermission(ctx, userID, perm)
	}
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"user_id":    userID,
		"permission": perm,
		"allowed":    allowed,
	})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Package cli implements the gatekeeper command-line interface.
//
// # Commands
//
// serve: Run the permission API, the health and metrics server, and the
// background jobs (catalog sync, expired assignment purge)
//
//	gatekeeper serve --port 8080 --manifest ./roles.yaml
//
// migrate: Apply pending schema migrations
//
//	gatekeeper migrate
//
// sync: Add permissions known to the binary but missing from the database
//
//	gatekeeper sync
//
// seed: Create the built-in roles and fill in their default permissions
//
//	gatekeeper seed
//
// apply: Reconcile roles with a YAML manifest
//
//	gatekeeper apply -f ./roles.yaml -actor alice -reason "quarterly review"
//	gatekeeper apply -f ./roles.yaml -dry-run
//
// stats, purge, check: Inspect and maintain the permission data
//
//	gatekeeper stats
//	gatekeeper purge
//	gatekeeper check -user u1 -permission VIEW_PROJECT
//	gatekeeper check -user u1 -permission EDIT_PROJECT -resource-type project -resource-id p1
//
// # Configuration
//
// Every command reads its settings from GATEKEEPER_* environment variables
// (see the config package). Logs go to stderr for the admin commands so that
// their JSON output can be piped.
package cli

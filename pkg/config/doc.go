// Package config loads gatekeeper configuration from GATEKEEPER_* environment
// variables.
//
// Every setting has a default suitable for local development against SQLite:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Commonly set variables:
//
//	GATEKEEPER_DB_DRIVER       postgres | sqlite3
//	GATEKEEPER_DB_DSN          driver-specific connection string
//	GATEKEEPER_REDIS_URL       enables the shared permission cache when set
//	GATEKEEPER_MANIFEST_PATH   YAML role manifest applied at startup
//	GATEKEEPER_SYNC_SCHEDULE   cron spec for the permission catalog sync
//	GATEKEEPER_PURGE_SCHEDULE  cron spec for removing expired assignments
//
// LoadConfig validates the result, including the cron specs.
package config

package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration.
// The DDL is restricted to the subset shared by PostgreSQL and SQLite.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all permission engine migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					is_system_role BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_name ON roles(name);
			`,
		},
		{
			Version:     2,
			Description: "Create permissions catalog table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					name VARCHAR(128) PRIMARY KEY,
					created_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     3,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					id VARCHAR(64) PRIMARY KEY,
					role_id VARCHAR(64) NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission VARCHAR(128) NOT NULL,
					created_at TIMESTAMP NOT NULL
				);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_role_permissions_role_perm ON role_permissions(role_id, permission);
				CREATE INDEX IF NOT EXISTS idx_role_permissions_permission ON role_permissions(permission);
			`,
		},
		{
			Version:     4,
			Description: "Create user_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					id VARCHAR(64) PRIMARY KEY,
					user_id VARCHAR(255) NOT NULL,
					role_id VARCHAR(64) NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					assigned_by VARCHAR(255) NOT NULL DEFAULT '',
					assigned_at TIMESTAMP NOT NULL,
					created_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP
				);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_user_roles_user_role ON user_roles(user_id, role_id);
				CREATE INDEX IF NOT EXISTS idx_user_roles_role ON user_roles(role_id);
				CREATE INDEX IF NOT EXISTS idx_user_roles_expires ON user_roles(expires_at);
			`,
		},
		{
			Version:     5,
			Description: "Create resource_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS resource_permissions (
					id VARCHAR(64) PRIMARY KEY,
					user_id VARCHAR(255) NOT NULL,
					permission VARCHAR(128) NOT NULL,
					resource_type VARCHAR(128) NOT NULL,
					resource_id VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL
				);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_resource_permissions_grant
					ON resource_permissions(user_id, permission, resource_type, resource_id);
				CREATE INDEX IF NOT EXISTS idx_resource_permissions_resource
					ON resource_permissions(resource_type, resource_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.New()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		log.WithField("version", migration.Version).Infof("running migration: %s", migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
			migration.Version, migration.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// SeedResult reports what Seed changed
type SeedResult struct {
	RolesCreated       []string `json:"roles_created"`
	PermissionsAdded   int      `json:"permissions_added"`
	RolesAlreadyExists []string `json:"roles_already_exist"`
}

// Seed creates missing built-in roles and adds any default permission a
// built-in role lacks. It never removes permissions from existing roles.
func Seed(ctx context.Context, p Provider) (*SeedResult, error) {
	result := &SeedResult{}
	meta := AuditMeta{Actor: "system", Reason: "seed default roles"}

	for _, def := range DefaultRoles() {
		existing, err := p.GetRoleByName(ctx, def.Name)
		if err != nil {
			return result, fmt.Errorf("failed to look up built-in role %s: %w", def.Name, err)
		}

		if existing == nil {
			if _, err := p.CreateRole(ctx, def, meta); err != nil {
				return result, fmt.Errorf("failed to create built-in role %s: %w", def.Name, err)
			}
			result.RolesCreated = append(result.RolesCreated, def.Name)
			continue
		}

		result.RolesAlreadyExists = append(result.RolesAlreadyExists, def.Name)
		missing, _ := diffPermissions(existing.Permissions, def.Permissions)
		for _, perm := range missing {
			if _, err := p.AddPermissionToRole(ctx, existing.ID, perm); err != nil {
				return result, fmt.Errorf("failed to add %s to built-in role %s: %w", perm, def.Name, err)
			}
			result.PermissionsAdded++
		}
	}

	return result, nil
}

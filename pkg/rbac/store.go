package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is the SQL-backed Provider. Queries use $n placeholders in ascending
// order so the same text runs on PostgreSQL (lib/pq) and SQLite (go-sqlite3).
type Store struct {
	db    *sql.DB
	bus   *EventBus
	log   logrus.FieldLogger
	now   func() time.Time
	newID func() string
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithStoreLogger sets the store logger
func WithStoreLogger(log logrus.FieldLogger) StoreOption {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides how row ids are generated
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewStore creates a new SQL store that publishes committed mutations on bus
func NewStore(db *sql.DB, bus *EventBus, opts ...StoreOption) *Store {
	if bus == nil {
		bus = NewEventBus()
	}
	s := &Store{
		db:    db,
		bus:   bus,
		log:   logrus.New(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bus returns the event bus the store publishes to
func (s *Store) Bus() *EventBus {
	return s.bus
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Store) emit(ctx context.Context, event Event) {
	event.Timestamp = s.timestamp()
	s.bus.Emit(ctx, event)
}

// withTx runs fn in a transaction. fn's error triggers a rollback and is
// returned unchanged; commit failures are classified by wrapStoreError.
func (s *Store) withTx(ctx context.Context, op, resource string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &ProviderError{Op: op, Err: fmt.Errorf("failed to start transaction: %w", err)}
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		if errors.Is(err, errSkipCommit) {
			return err
		}
		return wrapStoreError(op, resource, err)
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreError(op, resource, fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// errSkipCommit aborts a transaction that turned out to have nothing to do
var errSkipCommit = errors.New("nothing to commit")

func countRows(ctx context.Context, q querier, query string, args ...interface{}) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// HasPermission reports whether any active role of the user carries perm
func (s *Store) HasPermission(ctx context.Context, userID string, perm Permission) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		WHERE ur.user_id = $1
		  AND rp.permission = $2
		  AND (ur.expires_at IS NULL OR ur.expires_at > $3)
	`
	n, err := countRows(ctx, s.db, query, userID, string(perm), s.timestamp())
	if err != nil {
		return false, &ProviderError{Op: "check permission", Err: err}
	}
	return n > 0, nil
}

// HasRole reports whether the user holds an active assignment of roleID
func (s *Store) HasRole(ctx context.Context, userID, roleID string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM user_roles
		WHERE user_id = $1
		  AND role_id = $2
		  AND (expires_at IS NULL OR expires_at > $3)
	`
	n, err := countRows(ctx, s.db, query, userID, roleID, s.timestamp())
	if err != nil {
		return false, &ProviderError{Op: "check role", Err: err}
	}
	return n > 0, nil
}

const roleColumns = `id, name, description, is_system_role, created_at, updated_at`

func scanRole(scanner interface{ Scan(...interface{}) error }) (*RoleWithPermissions, error) {
	var role RoleWithPermissions
	err := scanner.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.IsSystemRole,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	role.Permissions = []Permission{}
	return &role, nil
}

// getRole loads a role and its permissions, returning nil when no row matches
func (s *Store) getRole(ctx context.Context, q querier, column, value string) (*RoleWithPermissions, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE ` + column + ` = $1`

	role, err := scanRole(q.QueryRowContext(ctx, query, value))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	perms, err := s.loadRolePermissions(ctx, q, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return role, nil
}

func (s *Store) loadRolePermissions(ctx context.Context, q querier, roleID string) ([]Permission, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT permission FROM role_permissions WHERE role_id = $1 ORDER BY permission`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role permissions: %w", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		perms = append(perms, Permission(p))
	}
	return perms, rows.Err()
}

// GetAllRoles returns every role with its permissions, ordered by name
func (s *Store) GetAllRoles(ctx context.Context) ([]RoleWithPermissions, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, &ProviderError{Op: "list roles", Err: err}
	}

	roles := []RoleWithPermissions{}
	index := make(map[string]int)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, &ProviderError{Op: "list roles", Err: err}
		}
		index[role.ID] = len(roles)
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &ProviderError{Op: "list roles", Err: err}
	}
	rows.Close()

	permRows, err := s.db.QueryContext(ctx,
		`SELECT role_id, permission FROM role_permissions ORDER BY role_id, permission`)
	if err != nil {
		return nil, &ProviderError{Op: "list role permissions", Err: err}
	}
	defer permRows.Close()

	for permRows.Next() {
		var roleID, perm string
		if err := permRows.Scan(&roleID, &perm); err != nil {
			return nil, &ProviderError{Op: "list role permissions", Err: err}
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, Permission(perm))
		}
	}
	if err := permRows.Err(); err != nil {
		return nil, &ProviderError{Op: "list role permissions", Err: err}
	}

	return roles, nil
}

// GetRoleByID returns the role or nil when it does not exist
func (s *Store) GetRoleByID(ctx context.Context, roleID string) (*RoleWithPermissions, error) {
	role, err := s.getRole(ctx, s.db, "id", roleID)
	if err != nil {
		return nil, &ProviderError{Op: "get role", Err: err}
	}
	return role, nil
}

// GetRoleByName returns the role or nil when it does not exist
func (s *Store) GetRoleByName(ctx context.Context, name string) (*RoleWithPermissions, error) {
	role, err := s.getRole(ctx, s.db, "name", name)
	if err != nil {
		return nil, &ProviderError{Op: "get role by name", Err: err}
	}
	return role, nil
}

func (s *Store) insertRolePermission(ctx context.Context, tx *sql.Tx, roleID string, perm Permission, at time.Time) (*PermissionAssignment, bool, error) {
	pa := &PermissionAssignment{
		ID:         s.newID(),
		RoleID:     roleID,
		Permission: perm,
		CreatedAt:  at,
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO role_permissions (id, role_id, permission, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role_id, permission) DO NOTHING
	`, pa.ID, pa.RoleID, string(pa.Permission), pa.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to add permission %s: %w", perm, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	return pa, n > 0, nil
}

// CreateRole persists a role and its initial permissions, then emits ROLE_CREATED
func (s *Store) CreateRole(ctx context.Context, input CreateRoleInput, meta AuditMeta) (*RoleWithPermissions, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "role name is required"}
	}
	if err := validatePermissions(input.Permissions); err != nil {
		return nil, err
	}

	now := s.timestamp()
	role := &RoleWithPermissions{
		Role: Role{
			ID:           s.newID(),
			Name:         name,
			Description:  input.Description,
			IsSystemRole: input.IsSystemRole,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		Permissions: normalizePermissions(input.Permissions),
	}

	err := s.withTx(ctx, "create role", "role", func(tx *sql.Tx) error {
		taken, err := countRows(ctx, tx, `SELECT COUNT(*) FROM roles WHERE name = $1`, name)
		if err != nil {
			return fmt.Errorf("failed to check role name: %w", err)
		}
		if taken > 0 {
			return &ValidationError{Field: "name", Message: fmt.Sprintf("role name %q is already in use", name)}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO roles (id, name, description, is_system_role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, role.ID, role.Name, role.Description, role.IsSystemRole, role.CreatedAt, role.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}

		for _, perm := range role.Permissions {
			if _, _, err := s.insertRolePermission(ctx, tx, role.ID, perm, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, Event{Type: EventRoleCreated, Role: role.clone(), RoleID: role.ID, Meta: meta})
	return role, nil
}

// UpdateRole applies a partial update. A non-nil permission list is reconciled
// by set difference so unchanged assignments keep their ids and timestamps.
// System roles cannot be renamed.
func (s *Store) UpdateRole(ctx context.Context, roleID string, input UpdateRoleInput, meta AuditMeta) (*RoleWithPermissions, error) {
	var desired []Permission
	if input.Permissions != nil {
		if err := validatePermissions(*input.Permissions); err != nil {
			return nil, err
		}
		desired = normalizePermissions(*input.Permissions)
	}

	var previous, updated *RoleWithPermissions
	err := s.withTx(ctx, "update role", "role", func(tx *sql.Tx) error {
		var err error
		previous, err = s.getRole(ctx, tx, "id", roleID)
		if err != nil {
			return err
		}
		if previous == nil {
			return &NotFoundError{Resource: "role", ID: roleID}
		}

		name := previous.Name
		if input.Name != nil {
			name = strings.TrimSpace(*input.Name)
			if name == "" {
				return &ValidationError{Field: "name", Message: "role name is required"}
			}
			if previous.IsSystemRole && name != previous.Name {
				return &ValidationError{Field: "name", Message: fmt.Sprintf("system role %q cannot be renamed", previous.Name)}
			}
			if name != previous.Name {
				taken, err := countRows(ctx, tx, `SELECT COUNT(*) FROM roles WHERE name = $1 AND id <> $2`, name, roleID)
				if err != nil {
					return fmt.Errorf("failed to check role name: %w", err)
				}
				if taken > 0 {
					return &ValidationError{Field: "name", Message: fmt.Sprintf("role name %q is already in use", name)}
				}
			}
		}
		description := previous.Description
		if input.Description != nil {
			description = *input.Description
		}

		now := s.timestamp()
		_, err = tx.ExecContext(ctx, `
			UPDATE roles SET name = $1, description = $2, updated_at = $3 WHERE id = $4
		`, name, description, now, roleID)
		if err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}

		if input.Permissions != nil {
			toAdd, toRemove := diffPermissions(previous.Permissions, desired)
			for _, perm := range toRemove {
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM role_permissions WHERE role_id = $1 AND permission = $2`,
					roleID, string(perm),
				); err != nil {
					return fmt.Errorf("failed to remove permission %s: %w", perm, err)
				}
			}
			for _, perm := range toAdd {
				if _, _, err := s.insertRolePermission(ctx, tx, roleID, perm, now); err != nil {
					return err
				}
			}
		}

		updated, err = s.getRole(ctx, tx, "id", roleID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, Event{
		Type:         EventRoleUpdated,
		Role:         updated.clone(),
		PreviousRole: previous,
		RoleID:       roleID,
		Meta:         meta,
	})
	return updated, nil
}

// DeleteRole removes a non-system role with its permission assignments and
// user assignments. It returns false when the role does not exist.
func (s *Store) DeleteRole(ctx context.Context, roleID string, meta AuditMeta) (bool, error) {
	var previous *RoleWithPermissions
	err := s.withTx(ctx, "delete role", "role", func(tx *sql.Tx) error {
		var err error
		previous, err = s.getRole(ctx, tx, "id", roleID)
		if err != nil {
			return err
		}
		if previous == nil {
			return errSkipCommit
		}
		if previous.IsSystemRole {
			return &ValidationError{Field: "role_id", Message: fmt.Sprintf("system role %q cannot be deleted", previous.Name)}
		}

		for _, stmt := range []string{
			`DELETE FROM user_roles WHERE role_id = $1`,
			`DELETE FROM role_permissions WHERE role_id = $1`,
			`DELETE FROM roles WHERE id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, roleID); err != nil {
				return fmt.Errorf("failed to delete role: %w", err)
			}
		}
		return nil
	})
	if errors.Is(err, errSkipCommit) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.emit(ctx, Event{Type: EventRoleDeleted, RoleID: roleID, Role: previous, Meta: meta})
	return true, nil
}

const userRoleColumns = `id, user_id, role_id, assigned_by, assigned_at, created_at, expires_at`

func scanUserRole(scanner interface{ Scan(...interface{}) error }) (*UserRole, error) {
	var ur UserRole
	var expiresAt sql.NullTime
	err := scanner.Scan(
		&ur.ID,
		&ur.UserID,
		&ur.RoleID,
		&ur.AssignedBy,
		&ur.AssignedAt,
		&ur.CreatedAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		ur.ExpiresAt = &t
	}
	return &ur, nil
}

// GetUserRoles returns the user's active role assignments
func (s *Store) GetUserRoles(ctx context.Context, userID string) ([]UserRole, error) {
	query := `
		SELECT ` + userRoleColumns + `
		FROM user_roles
		WHERE user_id = $1
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY assigned_at, role_id
	`
	rows, err := s.db.QueryContext(ctx, query, userID, s.timestamp())
	if err != nil {
		return nil, &ProviderError{Op: "get user roles", Err: err}
	}
	defer rows.Close()

	roles := []UserRole{}
	for rows.Next() {
		ur, err := scanUserRole(rows)
		if err != nil {
			return nil, &ProviderError{Op: "get user roles", Err: err}
		}
		roles = append(roles, *ur)
	}
	if err := rows.Err(); err != nil {
		return nil, &ProviderError{Op: "get user roles", Err: err}
	}
	return roles, nil
}

// GetUserPermissions returns the union of permissions over the user's active roles
func (s *Store) GetUserPermissions(ctx context.Context, userID string) ([]Permission, error) {
	query := `
		SELECT DISTINCT rp.permission
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		WHERE ur.user_id = $1
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)
		ORDER BY rp.permission
	`
	perms, err := s.queryPermissions(ctx, query, userID, s.timestamp())
	if err != nil {
		return nil, &ProviderError{Op: "get user permissions", Err: err}
	}
	return perms, nil
}

// GetUserPermissionSet returns the user's permissions together with the
// earliest expiry among the active assignments, read at a single instant
func (s *Store) GetUserPermissionSet(ctx context.Context, userID string) (*PermissionSet, error) {
	now := s.timestamp()
	perms, err := s.queryPermissions(ctx, `
		SELECT DISTINCT rp.permission
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		WHERE ur.user_id = $1
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)
		ORDER BY rp.permission
	`, userID, now)
	if err != nil {
		return nil, &ProviderError{Op: "get user permissions", Err: err}
	}

	set := &PermissionSet{Permissions: perms}
	var next sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT expires_at FROM user_roles
		WHERE user_id = $1 AND expires_at IS NOT NULL AND expires_at > $2
		ORDER BY expires_at
		LIMIT 1
	`, userID, now).Scan(&next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, &ProviderError{Op: "get user permissions", Err: err}
	case next.Valid:
		until := next.Time.UTC()
		set.ValidUntil = &until
	}
	return set, nil
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...interface{}) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, Permission(p))
	}
	return perms, rows.Err()
}

// AssignRoleToUser assigns roleID to userID. An existing assignment for the
// same pair is replaced in place: assigned_by, assigned_at and expires_at are
// refreshed while id and created_at are kept.
func (s *Store) AssignRoleToUser(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) (*UserRole, error) {
	var assigned *UserRole
	err := s.withTx(ctx, "assign role", "user role", func(tx *sql.Tx) error {
		exists, err := countRows(ctx, tx, `SELECT COUNT(*) FROM roles WHERE id = $1`, roleID)
		if err != nil {
			return fmt.Errorf("failed to check role: %w", err)
		}
		if exists == 0 {
			return &NotFoundError{Resource: "role", ID: roleID}
		}

		now := s.timestamp()
		var expires interface{}
		if expiresAt != nil {
			expires = expiresAt.UTC().Truncate(time.Microsecond)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_roles (id, user_id, role_id, assigned_by, assigned_at, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, role_id) DO UPDATE SET
				assigned_by = excluded.assigned_by,
				assigned_at = excluded.assigned_at,
				expires_at = excluded.expires_at
		`, s.newID(), userID, roleID, assignedBy, now, now, expires)
		if err != nil {
			return fmt.Errorf("failed to assign role: %w", err)
		}

		assigned, err = scanUserRole(tx.QueryRowContext(ctx,
			`SELECT `+userRoleColumns+` FROM user_roles WHERE user_id = $1 AND role_id = $2`,
			userID, roleID,
		))
		if err != nil {
			return fmt.Errorf("failed to load assignment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	copied := *assigned
	s.emit(ctx, Event{Type: EventRoleAssigned, UserID: userID, RoleID: roleID, UserRole: &copied})
	return assigned, nil
}

// RemoveRoleFromUser deletes the assignment, reporting whether one existed
func (s *Store) RemoveRoleFromUser(ctx context.Context, userID, roleID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, &ProviderError{Op: "remove role from user", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &ProviderError{Op: "remove role from user", Err: err}
	}
	if n == 0 {
		return false, nil
	}

	s.emit(ctx, Event{Type: EventRoleRemoved, UserID: userID, RoleID: roleID})
	return true, nil
}

// PurgeExpiredAssignments deletes assignments whose expiry has passed and
// emits ROLE_REMOVED for each of them
func (s *Store) PurgeExpiredAssignments(ctx context.Context) (int64, error) {
	var expired []UserRole
	err := s.withTx(ctx, "purge expired assignments", "user role", func(tx *sql.Tx) error {
		now := s.timestamp()
		rows, err := tx.QueryContext(ctx,
			`SELECT `+userRoleColumns+` FROM user_roles WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
		if err != nil {
			return fmt.Errorf("failed to query expired assignments: %w", err)
		}
		for rows.Next() {
			ur, err := scanUserRole(rows)
			if err != nil {
				rows.Close()
				return err
			}
			expired = append(expired, *ur)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, ur := range expired {
			if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE id = $1`, ur.ID); err != nil {
				return fmt.Errorf("failed to delete expired assignment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	meta := AuditMeta{Actor: "system", Reason: "assignment expired"}
	for i := range expired {
		ur := expired[i]
		s.emit(ctx, Event{Type: EventRoleRemoved, UserID: ur.UserID, RoleID: ur.RoleID, UserRole: &ur, Meta: meta})
	}
	return int64(len(expired)), nil
}

// RoleHasPermission reports whether roleID carries perm
func (s *Store) RoleHasPermission(ctx context.Context, roleID string, perm Permission) (bool, error) {
	n, err := countRows(ctx, s.db,
		`SELECT COUNT(*) FROM role_permissions WHERE role_id = $1 AND permission = $2`,
		roleID, string(perm))
	if err != nil {
		return false, &ProviderError{Op: "check role permission", Err: err}
	}
	return n > 0, nil
}

func (s *Store) getAssignment(ctx context.Context, q querier, roleID string, perm Permission) (*PermissionAssignment, error) {
	var pa PermissionAssignment
	var p string
	err := q.QueryRowContext(ctx, `
		SELECT id, role_id, permission, created_at
		FROM role_permissions
		WHERE role_id = $1 AND permission = $2
	`, roleID, string(perm)).Scan(&pa.ID, &pa.RoleID, &p, &pa.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission assignment: %w", err)
	}
	pa.Permission = Permission(p)
	return &pa, nil
}

// AddPermissionToRole attaches perm to the role. Adding a permission the role
// already has returns the existing assignment and emits nothing.
func (s *Store) AddPermissionToRole(ctx context.Context, roleID string, perm Permission) (*PermissionAssignment, error) {
	if !perm.Valid() {
		return nil, &ValidationError{Field: "permission", Message: fmt.Sprintf("unknown permission %q", perm)}
	}

	var assignment *PermissionAssignment
	created := false
	err := s.withTx(ctx, "add permission to role", "role permission", func(tx *sql.Tx) error {
		exists, err := countRows(ctx, tx, `SELECT COUNT(*) FROM roles WHERE id = $1`, roleID)
		if err != nil {
			return fmt.Errorf("failed to check role: %w", err)
		}
		if exists == 0 {
			return &NotFoundError{Resource: "role", ID: roleID}
		}

		assignment, err = s.getAssignment(ctx, tx, roleID, perm)
		if err != nil || assignment != nil {
			return err
		}

		now := s.timestamp()
		assignment, created, err = s.insertRolePermission(ctx, tx, roleID, perm, now)
		if err != nil {
			return err
		}
		if !created {
			assignment, err = s.getAssignment(ctx, tx, roleID, perm)
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE roles SET updated_at = $1 WHERE id = $2`, now, roleID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.emit(ctx, Event{Type: EventPermissionAdded, RoleID: roleID, Permission: perm})
	}
	return assignment, nil
}

// RemovePermissionFromRole detaches perm, reporting whether it was attached
func (s *Store) RemovePermissionFromRole(ctx context.Context, roleID string, perm Permission) (bool, error) {
	removed := false
	err := s.withTx(ctx, "remove permission from role", "role permission", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM role_permissions WHERE role_id = $1 AND permission = $2`, roleID, string(perm))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errSkipCommit
		}
		removed = true
		_, err = tx.ExecContext(ctx, `UPDATE roles SET updated_at = $1 WHERE id = $2`, s.timestamp(), roleID)
		return err
	})
	if errors.Is(err, errSkipCommit) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if removed {
		s.emit(ctx, Event{Type: EventPermissionRemoved, RoleID: roleID, Permission: perm})
	}
	return removed, nil
}

// GetAllPermissions returns the permission enumeration
func (s *Store) GetAllPermissions(ctx context.Context) ([]Permission, error) {
	return AllPermissions(), nil
}

// GetRolePermissions returns the permissions attached to roleID
func (s *Store) GetRolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	exists, err := countRows(ctx, s.db, `SELECT COUNT(*) FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return nil, &ProviderError{Op: "get role permissions", Err: err}
	}
	if exists == 0 {
		return nil, &NotFoundError{Resource: "role", ID: roleID}
	}

	perms, err := s.loadRolePermissions(ctx, s.db, roleID)
	if err != nil {
		return nil, &ProviderError{Op: "get role permissions", Err: err}
	}
	return perms, nil
}

const resourcePermissionColumns = `id, user_id, permission, resource_type, resource_id, created_at`

func scanResourcePermission(scanner interface{ Scan(...interface{}) error }) (*ResourcePermission, error) {
	var rp ResourcePermission
	var p string
	err := scanner.Scan(&rp.ID, &rp.UserID, &p, &rp.ResourceType, &rp.ResourceID, &rp.CreatedAt)
	if err != nil {
		return nil, err
	}
	rp.Permission = Permission(p)
	return &rp, nil
}

func (s *Store) queryResourcePermissions(ctx context.Context, op, where string, args ...interface{}) ([]ResourcePermission, error) {
	query := `SELECT ` + resourcePermissionColumns + ` FROM resource_permissions WHERE ` + where +
		` ORDER BY resource_type, resource_id, user_id, permission`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ProviderError{Op: op, Err: err}
	}
	defer rows.Close()

	grants := []ResourcePermission{}
	for rows.Next() {
		rp, err := scanResourcePermission(rows)
		if err != nil {
			return nil, &ProviderError{Op: op, Err: err}
		}
		grants = append(grants, *rp)
	}
	if err := rows.Err(); err != nil {
		return nil, &ProviderError{Op: op, Err: err}
	}
	return grants, nil
}

// AssignResourcePermission grants perm on one resource. Repeating the grant
// returns the existing row and emits nothing.
func (s *Store) AssignResourcePermission(ctx context.Context, userID string, perm Permission, resourceType, resourceID string, meta AuditMeta) (*ResourcePermission, error) {
	if !perm.Valid() {
		return nil, &ValidationError{Field: "permission", Message: fmt.Sprintf("unknown permission %q", perm)}
	}

	var grant *ResourcePermission
	created := false
	err := s.withTx(ctx, "assign resource permission", "resource permission", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO resource_permissions (id, user_id, permission, resource_type, resource_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, permission, resource_type, resource_id) DO NOTHING
		`, s.newID(), userID, string(perm), resourceType, resourceID, s.timestamp())
		if err != nil {
			return fmt.Errorf("failed to grant resource permission: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0

		grant, err = scanResourcePermission(tx.QueryRowContext(ctx, `
			SELECT `+resourcePermissionColumns+`
			FROM resource_permissions
			WHERE user_id = $1 AND permission = $2 AND resource_type = $3 AND resource_id = $4
		`, userID, string(perm), resourceType, resourceID))
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		copied := *grant
		s.emit(ctx, Event{
			Type:               EventResourcePermissionGranted,
			UserID:             userID,
			Permission:         perm,
			ResourcePermission: &copied,
			Meta:               meta,
		})
	}
	return grant, nil
}

// RemoveResourcePermission revokes a resource grant, reporting whether it existed
func (s *Store) RemoveResourcePermission(ctx context.Context, userID string, perm Permission, resourceType, resourceID string, meta AuditMeta) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM resource_permissions
		WHERE user_id = $1 AND permission = $2 AND resource_type = $3 AND resource_id = $4
	`, userID, string(perm), resourceType, resourceID)
	if err != nil {
		return false, &ProviderError{Op: "remove resource permission", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &ProviderError{Op: "remove resource permission", Err: err}
	}
	if n == 0 {
		return false, nil
	}

	s.emit(ctx, Event{
		Type:       EventResourcePermissionRevoked,
		UserID:     userID,
		Permission: perm,
		ResourcePermission: &ResourcePermission{
			UserID:       userID,
			Permission:   perm,
			ResourceType: resourceType,
			ResourceID:   resourceID,
		},
		Meta: meta,
	})
	return true, nil
}

// HasResourcePermission consults resource grants only; role permissions are ignored
func (s *Store) HasResourcePermission(ctx context.Context, userID string, perm Permission, resourceType, resourceID string) (bool, error) {
	n, err := countRows(ctx, s.db, `
		SELECT COUNT(*)
		FROM resource_permissions
		WHERE user_id = $1 AND permission = $2 AND resource_type = $3 AND resource_id = $4
	`, userID, string(perm), resourceType, resourceID)
	if err != nil {
		return false, &ProviderError{Op: "check resource permission", Err: err}
	}
	return n > 0, nil
}

// GetUserResourcePermissions lists every resource grant held by userID
func (s *Store) GetUserResourcePermissions(ctx context.Context, userID string) ([]ResourcePermission, error) {
	return s.queryResourcePermissions(ctx, "get user resource permissions", `user_id = $1`, userID)
}

// GetPermissionsForResource lists every grant on one resource
func (s *Store) GetPermissionsForResource(ctx context.Context, resourceType, resourceID string) ([]ResourcePermission, error) {
	return s.queryResourcePermissions(ctx, "get permissions for resource",
		`resource_type = $1 AND resource_id = $2`, resourceType, resourceID)
}

// GetUsersWithResourcePermission lists the users holding perm on one resource
func (s *Store) GetUsersWithResourcePermission(ctx context.Context, resourceType, resourceID string, perm Permission) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id
		FROM resource_permissions
		WHERE resource_type = $1 AND resource_id = $2 AND permission = $3
		ORDER BY user_id
	`, resourceType, resourceID, string(perm))
	if err != nil {
		return nil, &ProviderError{Op: "get users with resource permission", Err: err}
	}
	defer rows.Close()

	users := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, &ProviderError{Op: "get users with resource permission", Err: err}
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, &ProviderError{Op: "get users with resource permission", Err: err}
	}
	return users, nil
}

// SyncRolePermissions inserts enumeration members missing from the permissions
// catalog. Rows unknown to the enumeration are left alone. Failures are logged
// and reported as false.
func (s *Store) SyncRolePermissions(ctx context.Context) bool {
	var added []Permission
	err := s.withTx(ctx, "sync permission catalog", "permission", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT name FROM permissions`)
		if err != nil {
			return fmt.Errorf("failed to read permission catalog: %w", err)
		}
		existing := make(map[string]bool)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return err
			}
			existing[name] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		now := s.timestamp()
		for _, perm := range AllPermissions() {
			if existing[string(perm)] {
				continue
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO permissions (name, created_at) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
				string(perm), now)
			if err != nil {
				return fmt.Errorf("failed to insert permission %s: %w", perm, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added = append(added, perm)
			}
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).Warn("permission catalog sync failed")
		return false
	}

	if len(added) > 0 {
		sort.Slice(added, func(i, j int) bool { return added[i] < added[j] })
		s.log.WithField("added", len(added)).Info("permission catalog synced")
		s.emit(ctx, Event{Type: EventRolePermissionsSynced, Permissions: added})
	}
	return true
}

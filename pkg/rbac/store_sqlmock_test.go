package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *eventRecorder) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log, _ := test.NewNullLogger()
	bus := NewEventBus(WithBusLogger(log))
	return NewStore(db, bus, WithStoreLogger(log)), mock, recordEvents(bus)
}

func TestStore_QueryFailureIsProviderError(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("connection reset"))

	_, err := store.HasPermission(context.Background(), "u1", PermissionViewProject)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateRoleRollsBackOnFailure(t *testing.T) {
	store, mock, rec := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO roles").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO role_permissions").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.CreateRole(context.Background(),
		CreateRoleInput{Name: "editor", Permissions: []Permission{PermissionEditProject}}, AuditMeta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Empty(t, rec.all(), "no event for a rolled back mutation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UniqueViolationIsConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"postgres", &pq.Error{Code: "23505", Message: "duplicate key value"}},
		{"sqlite", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock, rec := newMockStore(t)

			mock.ExpectBegin()
			mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
			mock.ExpectExec("INSERT INTO roles").WillReturnError(tt.err)
			mock.ExpectRollback()

			_, err := store.CreateRole(context.Background(), CreateRoleInput{Name: "editor"}, AuditMeta{})
			require.Error(t, err)
			assert.True(t, IsConflict(err))
			assert.Empty(t, rec.all())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_CommitFailure(t *testing.T) {
	store, mock, rec := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO resource_permissions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, user_id").WillReturnRows(
		sqlmock.NewRows([]string{"id", "user_id", "permission", "resource_type", "resource_id", "created_at"}).
			AddRow("g1", "u1", "EDIT_PROJECT", "project", "p1", store.timestamp()))
	mock.ExpectCommit().WillReturnError(errors.New("commit lost"))

	_, err := store.AssignResourcePermission(context.Background(), "u1", PermissionEditProject, "project", "p1", AuditMeta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Empty(t, rec.all())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SyncFailureReturnsFalse(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	log, hook := test.NewNullLogger()
	store := NewStore(db, nil, WithStoreLogger(log))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT name FROM permissions").WillReturnError(errors.New("no such table"))
	mock.ExpectRollback()

	assert.False(t, store.SyncRolePermissions(context.Background()))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "permission catalog sync failed", hook.LastEntry().Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllPermissions(t *testing.T) {
	perms := AllPermissions()
	assert.Len(t, perms, 18)
	assert.Equal(t, PermissionAdminAccess, perms[0])
	assert.Equal(t, PermissionManageAPIKeys, perms[len(perms)-1])

	perms[0] = "MUTATED"
	assert.Equal(t, PermissionAdminAccess, AllPermissions()[0], "callers get a copy")
}

func TestParsePermission(t *testing.T) {
	tests := []struct {
		input   string
		want    Permission
		wantErr bool
	}{
		{"EDIT_PROJECT", PermissionEditProject, false},
		{"edit_project", PermissionEditProject, false},
		{"  View_Roles ", PermissionViewRoles, false},
		{"", "", true},
		{"   ", "", true},
		{"FLY", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePermission(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePermissions(t *testing.T) {
	perms, err := ParsePermissions([]string{"view_project", "EDIT_PROJECT", "VIEW_PROJECT"})
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermissionEditProject, PermissionViewProject}, perms)

	_, err = ParsePermissions([]string{"VIEW_PROJECT", "nope"})
	assert.True(t, IsValidation(err))
}

func TestDiffPermissions(t *testing.T) {
	toAdd, toRemove := diffPermissions(
		[]Permission{PermissionViewProject, PermissionEditProject},
		[]Permission{PermissionViewProject, PermissionDeleteProject},
	)
	assert.Equal(t, []Permission{PermissionDeleteProject}, toAdd)
	assert.Equal(t, []Permission{PermissionEditProject}, toRemove)

	toAdd, toRemove = diffPermissions(nil, nil)
	assert.Empty(t, toAdd)
	assert.Empty(t, toRemove)
}

func TestErrorKinds(t *testing.T) {
	assert.ErrorIs(t, &NotFoundError{Resource: "role", ID: "r1"}, ErrNotFound)
	assert.ErrorIs(t, &ValidationError{Field: "name", Message: "required"}, ErrValidation)
	assert.ErrorIs(t, &ConflictError{Resource: "role", Message: "exists"}, ErrConflict)
	assert.ErrorIs(t, &ProviderError{Op: "get role", Err: assert.AnError}, ErrProvider)
	assert.ErrorIs(t, &ProviderError{Op: "get role", Err: assert.AnError}, assert.AnError)

	assert.Equal(t, "role not found: r1", (&NotFoundError{Resource: "role", ID: "r1"}).Error())
	assert.Equal(t, "invalid name: required", (&ValidationError{Field: "name", Message: "required"}).Error())
}

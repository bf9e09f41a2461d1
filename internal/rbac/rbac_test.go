package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authority/internal/domain/repository"
	"github.com/dropDatabas3/authority/internal/session"
)

func TestHasAnyRole(t *testing.T) {
	s := &session.Session{Roles: []string{"Admin", "member"}}

	require.True(t, HasAnyRole(s, "admin"))
	require.True(t, HasAnyRole(s, "owner", "MEMBER"))
	require.False(t, HasAnyRole(s, "owner"))
	require.True(t, HasAnyRole(s))
	require.False(t, HasAnyRole(nil, "admin"))
	require.False(t, HasAnyRole(&session.Session{}, "admin"))
}

func TestAnyRole(t *testing.T) {
	require.True(t, AnyRole([]string{" owner "}, "admin", "OWNER"))
	require.False(t, AnyRole(nil, "admin"))
	require.False(t, AnyRole([]string{"member"}, "admin", "owner"))
}

func TestHasPermission(t *testing.T) {
	s := &session.Session{Permissions: []repository.Permission{
		{Resource: repository.ResourceUsers, Action: repository.ActionManage},
		{Resource: repository.ResourceBilling, Action: repository.ActionRead},
	}}

	require.True(t, HasPermission(s, "users", "delete"), "manage implies delete")
	require.True(t, HasPermission(s, "USERS", "Read"))
	require.True(t, HasPermission(s, "billing", "read"))
	require.False(t, HasPermission(s, "billing", "update"))
	require.False(t, HasPermission(s, "roles", "read"))
	require.False(t, HasPermission(s, "users", "impersonate"), "action outside catalog")
	require.False(t, HasPermission(nil, "users", "read"))
}

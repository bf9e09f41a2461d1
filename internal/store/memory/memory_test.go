package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authority/internal/domain/repository"
)

func TestCreateWithProfile_UniqueProvider(t *testing.T) {
	ctx := context.Background()
	s := New()

	u, p, err := s.CreateWithProfile(ctx, repository.CreateUserInput{
		Email: "alice@example.com", Provider: "google", ProviderUserID: "g-1", DisplayName: "alice",
	})
	require.NoError(t, err)
	require.Equal(t, repository.TierFree, u.Tier)
	require.True(t, u.Active)
	require.Equal(t, u.ID, p.UserID)

	_, _, err = s.CreateWithProfile(ctx, repository.CreateUserInput{
		Email: "other@example.com", Provider: "google", ProviderUserID: "g-1",
	})
	require.ErrorIs(t, err, repository.ErrConflict)

	got, err := s.GetByProvider(ctx, "google", "g-1")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
}

func TestRoles(t *testing.T) {
	ctx := context.Background()
	s := New()
	u, _, err := s.CreateWithProfile(ctx, repository.CreateUserInput{Provider: "github", ProviderUserID: "7"})
	require.NoError(t, err)

	require.ErrorIs(t, s.AssignRole(ctx, u.ID, "wizard"), repository.ErrNotFound)
	require.NoError(t, s.AssignRole(ctx, u.ID, "Admin"))
	require.NoError(t, s.AssignRole(ctx, u.ID, "admin"))

	roles, err := s.GetUserRoles(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"admin"}, roles)

	perms, err := s.GetUserPermissions(ctx, u.ID)
	require.NoError(t, err)
	require.Contains(t, perms, repository.Permission{Resource: repository.ResourceUsers, Action: repository.ActionManage})

	require.NoError(t, s.RemoveRole(ctx, u.ID, "ADMIN"))
	roles, err = s.GetUserRoles(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, roles)
}

func TestGetUserPermissions_DropsRowsOutsideCatalog(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutRole(repository.Role{Name: "legacy", Permissions: []repository.Permission{
		{Resource: "users", Action: "read"},
		{Resource: "*", Action: "*"},
	}})
	u, _, err := s.CreateWithProfile(ctx, repository.CreateUserInput{Provider: "github", ProviderUserID: "8"})
	require.NoError(t, err)
	require.NoError(t, s.AssignRole(ctx, u.ID, "legacy"))

	perms, err := s.GetUserPermissions(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []repository.Permission{{Resource: "users", Action: "read"}}, perms)
}

func TestSwapBackupCodes(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.PutMFA(ctx, repository.MFARecord{UserID: "u1", BackupCodesSealed: []byte("v1")}))

	require.ErrorIs(t, s.SwapBackupCodes(ctx, "u1", []byte("v0"), []byte("v2")), repository.ErrStaleWrite)
	require.NoError(t, s.SwapBackupCodes(ctx, "u1", []byte("v1"), []byte("v2")))

	m, err := s.GetMFA(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), m.BackupCodesSealed)

	now := time.Now()
	require.NoError(t, s.SetMFAEnabled(ctx, "u1", true, now))
	m, err = s.GetMFA(ctx, "u1")
	require.NoError(t, err)
	require.True(t, m.Enabled)
	require.NotNil(t, m.ConfirmedAt)

	require.ErrorIs(t, s.SetMFAEnabled(ctx, "nobody", true, now), repository.ErrNotFound)
}

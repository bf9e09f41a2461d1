package pg_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authority/internal/domain/repository"
	"github.com/dropDatabas3/authority/internal/migrate"
	"github.com/dropDatabas3/authority/internal/store/pg"
	migrations "github.com/dropDatabas3/authority/migrations/postgres"
)

// Corre solo con AUTHORITY_TEST_DSN apuntando a una base descartable.
func openStore(t *testing.T) *pg.Store {
	t.Helper()
	dsn := os.Getenv("AUTHORITY_TEST_DSN")
	if dsn == "" {
		t.Skip("AUTHORITY_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := pg.New(ctx, dsn, pg.Config{MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Ping(ctx))

	db := s.SQLDB()
	t.Cleanup(func() { _ = db.Close() })
	r := migrate.New(db, migrations.FS, migrate.Options{Driver: "postgres", LockKey: "authority-test"})
	_, err = r.Run(ctx)
	require.NoError(t, err)

	// segunda corrida: nada pendiente
	applied, err := r.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, applied)
	return s
}

func newUser(t *testing.T, s *pg.Store) *repository.User {
	t.Helper()
	sub := uuid.NewString()
	u, p, err := s.CreateWithProfile(context.Background(), repository.CreateUserInput{
		Email:          sub + "@example.com",
		Provider:       "google",
		ProviderUserID: sub,
		DisplayName:    "Test",
	})
	require.NoError(t, err)
	require.Equal(t, u.ID, p.UserID)
	return u
}

func TestPG_Users(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	u := newUser(t, s)

	got, err := s.GetByProvider(ctx, "google", u.ProviderUserID)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, repository.TierFree, got.Tier)
	require.True(t, got.Active)

	_, _, err = s.CreateWithProfile(ctx, repository.CreateUserInput{
		Email: "dup@example.com", Provider: "google", ProviderUserID: u.ProviderUserID,
	})
	require.True(t, repository.IsConflict(err))

	_, err = s.GetByID(ctx, "not-a-uuid")
	require.True(t, repository.IsNotFound(err))

	require.NoError(t, s.TouchLastActive(ctx, u.ID, time.Now().UTC()))
	require.NoError(t, s.SetActive(ctx, u.ID, false))
	got, err = s.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, got.Active)
	require.NotNil(t, got.LastActiveAt)
}

func TestPG_RBAC(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	u := newUser(t, s)

	require.NoError(t, s.AssignRole(ctx, u.ID, repository.RoleAdmin))
	require.NoError(t, s.AssignRole(ctx, u.ID, repository.RoleAdmin))
	require.True(t, repository.IsNotFound(s.AssignRole(ctx, u.ID, "wizard")))

	roles, err := s.GetUserRoles(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{repository.RoleAdmin}, roles)

	perms, err := s.GetUserPermissions(ctx, u.ID)
	require.NoError(t, err)
	require.Contains(t, perms, repository.Permission{Resource: repository.ResourceUsers, Action: repository.ActionManage})

	require.NoError(t, s.RemoveRole(ctx, u.ID, repository.RoleAdmin))
	roles, err = s.GetUserRoles(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, roles)
}

func TestPG_MFA(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	u := newUser(t, s)

	_, err := s.GetMFA(ctx, u.ID)
	require.True(t, repository.IsNotFound(err))

	require.NoError(t, s.PutMFA(ctx, repository.MFARecord{UserID: u.ID, SecretSealed: []byte("s1"), BackupCodesSealed: []byte("c1")}))
	now := time.Now().UTC()
	require.NoError(t, s.SetMFAEnabled(ctx, u.ID, true, now))

	rec, err := s.GetMFA(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, rec.Enabled)
	require.NotNil(t, rec.ConfirmedAt)

	require.True(t, repository.IsStaleWrite(s.SwapBackupCodes(ctx, u.ID, []byte("other"), []byte("c2"))))
	require.NoError(t, s.SwapBackupCodes(ctx, u.ID, []byte("c1"), []byte("c2")))
	rec, err = s.GetMFA(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("c2"), rec.BackupCodesSealed)
}

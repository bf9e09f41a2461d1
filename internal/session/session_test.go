package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authority/internal/apperr"
	"github.com/dropDatabas3/authority/internal/domain/repository"
	jwtx "github.com/dropDatabas3/authority/internal/jwt"
	"github.com/dropDatabas3/authority/internal/store/memory"
)

type fixture struct {
	v      *Validator
	store  *memory.Store
	issuer *jwtx.Issuer
	user   *repository.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ks, err := jwtx.NewEd25519("test")
	require.NoError(t, err)
	iss := jwtx.NewIssuer("https://auth.test", ks)

	st := memory.New()
	u, _, err := st.CreateWithProfile(context.Background(), repository.CreateUserInput{
		Email: "alice@example.com", Provider: "google", ProviderUserID: "g-1",
	})
	require.NoError(t, err)
	require.NoError(t, st.AssignRole(context.Background(), u.ID, "admin"))

	return &fixture{v: NewValidator(iss, st, nil), store: st, issuer: iss, user: u}
}

func (f *fixture) access(t *testing.T, roles []string, ttl time.Duration) string {
	t.Helper()
	signed, err := f.issuer.Sign(jwtx.AccessClaims{
		Email:            f.user.Email,
		Roles:            roles,
		SID:              "s1",
		RegisteredClaims: f.issuer.Registered(f.user.ID, "j1", ttl),
	})
	require.NoError(t, err)
	return signed
}

func TestValidate(t *testing.T) {
	f := newFixture(t)

	s, err := f.v.Validate(context.Background(), f.access(t, []string{"admin"}, time.Hour))
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, f.user.ID, s.UserID)
	require.Equal(t, []string{"admin"}, s.Roles)
	require.Equal(t, "s1", s.SessionID)
	require.Contains(t, s.Permissions, repository.Permission{Resource: repository.ResourceUsers, Action: repository.ActionManage})
}

func TestValidate_RolesAreReReadNotTrusted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.access(t, []string{"admin"}, time.Hour)

	require.NoError(t, f.store.RemoveRole(ctx, f.user.ID, "admin"))

	s, err := f.v.Validate(ctx, tok)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Empty(t, s.Roles)
	require.Empty(t, s.Permissions)
}

func TestValidate_RoutineNegatives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]string{
		"empty":   "",
		"garbage": "abc.def.ghi",
		"expired": f.access(t, nil, -time.Hour),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := f.v.Validate(ctx, tok)
			require.NoError(t, err)
			require.Nil(t, s)
		})
	}

	refresh, err := f.issuer.Sign(jwtx.RefreshClaims{
		SID: "s1", TokenUse: jwtx.TokenUseRefresh,
		RegisteredClaims: f.issuer.Registered(f.user.ID, "j2", time.Hour),
	})
	require.NoError(t, err)
	s, err := f.v.Validate(ctx, refresh)
	require.NoError(t, err)
	require.Nil(t, s, "refresh token must not authenticate a request")

	require.NoError(t, f.store.SetActive(ctx, f.user.ID, false))
	s, err = f.v.Validate(ctx, f.access(t, nil, time.Hour))
	require.NoError(t, err)
	require.Nil(t, s)
}

type faultyStore struct{ *memory.Store }

func (faultyStore) GetUserPermissions(context.Context, string) ([]repository.Permission, error) {
	return nil, errors.New("i/o timeout")
}

func TestValidate_StorageFault(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.issuer, faultyStore{f.store}, nil)

	s, err := v.Validate(context.Background(), f.access(t, nil, time.Hour))
	require.Nil(t, s)
	require.True(t, apperr.Is(err, apperr.KindStorageUnavailable))
}

func TestContextRoundTrip(t *testing.T) {
	require.Nil(t, FromContext(context.Background()))
	s := &Session{UserID: "u1"}
	require.Same(t, s, FromContext(ToContext(context.Background(), s)))
}

package authority

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authority/internal/apperr"
	"github.com/dropDatabas3/authority/internal/cache"
	"github.com/dropDatabas3/authority/internal/domain/repository"
	"github.com/dropDatabas3/authority/internal/identity"
	jwtx "github.com/dropDatabas3/authority/internal/jwt"
	"github.com/dropDatabas3/authority/internal/security/secretbox"
	"github.com/dropDatabas3/authority/internal/security/totp"
	"github.com/dropDatabas3/authority/internal/store/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newAuthority(t *testing.T) (*Authority, *memory.Store, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ks, err := jwtx.NewEd25519("k1")
	require.NoError(t, err)
	box, err := secretbox.New(make([]byte, 32))
	require.NoError(t, err)

	st := memory.New()
	clk := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	a := New(Deps{
		Store:  st,
		Cache:  cache.NewRedisFromClient(rdb, "authority"),
		Issuer: jwtx.NewIssuer("https://auth.test", ks),
		Box:    box,
		Now:    clk.Now,
	})
	return a, st, clk
}

var aliceProfile = identity.RawProfile{Provider: "google", SubjectID: "g-1", Email: "alice@example.com"}

func TestAliceScenario(t *testing.T) {
	a, st, clk := newAuthority(t)
	ctx := context.Background()

	first, err := a.Federate(ctx, aliceProfile)
	require.NoError(t, err)
	require.True(t, first.IsNewUser)

	again, err := a.Federate(ctx, aliceProfile)
	require.NoError(t, err)
	require.False(t, again.IsNewUser)
	require.Equal(t, first.User.ID, again.User.ID)
	alice := first.User.ID

	require.NoError(t, st.AssignRole(ctx, alice, repository.RoleAdmin))

	en, err := a.MFA().Provision(ctx, alice)
	require.NoError(t, err)
	require.Len(t, en.BackupCodes, 10)

	raw, err := totp.DecodeSecret(en.Secret)
	require.NoError(t, err)
	code := totp.Code(raw, clk.Now())
	require.NoError(t, a.MFA().Enable(ctx, alice, code))

	ok, err := a.MFA().Verify(ctx, alice, code)
	require.NoError(t, err)
	require.False(t, ok, "consumed by enable")

	clk.Advance(totp.DefaultPeriod)
	next := totp.Code(raw, clk.Now())
	ok, err = a.MFA().Verify(ctx, alice, next)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = a.MFA().Verify(ctx, alice, next)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFederate_Rejected(t *testing.T) {
	a, _, _ := newAuthority(t)
	_, err := a.Federate(context.Background(), identity.RawProfile{Provider: "myspace", SubjectID: "x", Email: "x@example.com"})
	require.ErrorIs(t, err, apperr.ErrAuthenticationFailed)

	_, err = a.Federate(context.Background(), identity.RawProfile{Provider: "google", SubjectID: "g-2", Email: "nope"})
	require.ErrorIs(t, err, apperr.ErrAuthenticationFailed)
}

func TestValidate_RoleFreshness(t *testing.T) {
	a, st, _ := newAuthority(t)
	ctx := context.Background()

	res, err := a.Federate(ctx, aliceProfile)
	require.NoError(t, err)

	s, err := a.Validate(ctx, res.Pair.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.False(t, a.RequireRole(s, repository.RoleAdmin))

	// el rol asignado después de emitir el token aparece en la próxima validación
	require.NoError(t, st.AssignRole(ctx, res.User.ID, repository.RoleAdmin))
	s, err = a.Validate(ctx, res.Pair.AccessToken)
	require.NoError(t, err)
	require.True(t, a.RequireRole(s, "ADMIN"))
	require.True(t, a.RequirePermission(s, "users", "read"))
}

func TestRefreshAndRevoke(t *testing.T) {
	a, _, _ := newAuthority(t)
	ctx := context.Background()

	res, err := a.Federate(ctx, aliceProfile)
	require.NoError(t, err)

	pair, err := a.Refresh(ctx, res.Pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, res.Pair.SessionID, pair.SessionID)

	_, err = a.Refresh(ctx, res.Pair.RefreshToken)
	require.ErrorIs(t, err, apperr.ErrInvalidCredential)

	other, err := a.Federate(ctx, aliceProfile)
	require.NoError(t, err)
	require.NoError(t, a.RevokeSession(ctx, res.User.ID, other.Pair.SessionID))
	_, err = a.Refresh(ctx, other.Pair.RefreshToken)
	require.ErrorIs(t, err, apperr.ErrInvalidCredential)

	require.NoError(t, a.Revoke(ctx, res.User.ID))
	_, err = a.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, apperr.ErrInvalidCredential)
}

func TestReady(t *testing.T) {
	a, _, _ := newAuthority(t)
	require.NoError(t, a.Ready(context.Background()))
	require.Nil(t, a.Migrations())
	require.Contains(t, string(a.JWKS()), `"kid":"k1"`)
}

package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authority/internal/authority"
	"github.com/dropDatabas3/authority/internal/cache"
	"github.com/dropDatabas3/authority/internal/domain/repository"
	"github.com/dropDatabas3/authority/internal/identity"
	jwtx "github.com/dropDatabas3/authority/internal/jwt"
	"github.com/dropDatabas3/authority/internal/mfa"
	"github.com/dropDatabas3/authority/internal/observability/metrics"
	"github.com/dropDatabas3/authority/internal/security/secretbox"
	"github.com/dropDatabas3/authority/internal/store/memory"
)

type env struct {
	srv   *httptest.Server
	auth  *authority.Authority
	store *memory.Store
	admin *authority.AuthResult
	bob   *authority.AuthResult
}

func newEnv(t *testing.T, mfaLimit int) *env {
	t.Helper()
	ctx := context.Background()

	ks, err := jwtx.NewEd25519("k1")
	require.NoError(t, err)
	box, err := secretbox.New(make([]byte, 32))
	require.NoError(t, err)
	m, err := metrics.New(nil)
	require.NoError(t, err)

	st := memory.New()
	a := authority.New(authority.Deps{
		Store:   st,
		Cache:   cache.NewMemory("", time.Minute),
		Issuer:  jwtx.NewIssuer("https://auth.test", ks),
		Box:     box,
		Metrics: m,
	})

	admin, err := a.Federate(ctx, identity.RawProfile{Provider: "google", SubjectID: "g-1", Email: "alice@example.com"})
	require.NoError(t, err)
	require.NoError(t, st.AssignRole(ctx, admin.User.ID, repository.RoleAdmin))
	bob, err := a.Federate(ctx, identity.RawProfile{Provider: "github", SubjectID: "gh-2", Email: "bob@example.com"})
	require.NoError(t, err)
	require.NoError(t, st.AssignRole(ctx, bob.User.ID, repository.RoleMember))

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Authority:     a,
		Metrics:       m,
		MFARateLimit:  mfaLimit,
		MFARateWindow: time.Minute,
	}))
	t.Cleanup(srv.Close)
	return &env{srv: srv, auth: a, store: st, admin: admin, bob: bob}
}

func (e *env) do(t *testing.T, method, path, bearer string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = strings.NewReader(string(b))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	out, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, out
}

func TestMe(t *testing.T) {
	e := newEnv(t, 10)

	res, body := e.do(t, http.MethodGet, "/v1/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Len(t, res.Header.Get("X-Request-ID"), 22)
	var apiErr apiError
	require.NoError(t, json.Unmarshal(body, &apiErr))
	require.Equal(t, "invalid_token", apiErr.Error)
	require.Equal(t, res.Header.Get("X-Request-ID"), apiErr.RequestID)

	res, _ = e.do(t, http.MethodGet, "/v1/me", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, body = e.do(t, http.MethodGet, "/v1/me", e.admin.Pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var me meResponse
	require.NoError(t, json.Unmarshal(body, &me))
	require.Equal(t, e.admin.User.ID, me.UserID)
	require.Equal(t, []string{"admin"}, me.Roles)
	require.Contains(t, me.Permissions, "users:manage")
}

func TestRefreshAndLogout(t *testing.T) {
	e := newEnv(t, 10)

	res, body := e.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: e.bob.Pair.RefreshToken})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(body, &pair))
	require.NotEmpty(t, pair.RefreshToken)

	// replay del token ya rotado
	res, body = e.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: e.bob.Pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Contains(t, string(body), "invalid_credential")

	res, _ = e.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = e.do(t, http.MethodPost, "/v1/auth/logout", pair.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, _ = e.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestMFA_RoleGate(t *testing.T) {
	e := newEnv(t, 10)

	res, body := e.do(t, http.MethodPost, "/v1/mfa/provision", e.bob.Pair.AccessToken, nil)
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	require.Contains(t, string(body), "forbidden")

	res, body = e.do(t, http.MethodGet, "/v1/mfa/status", e.bob.Pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var st mfa.Status
	require.NoError(t, json.Unmarshal(body, &st))
	require.False(t, st.Provisioned)
}

func TestMFA_ProvisionAndBackupCode(t *testing.T) {
	e := newEnv(t, 10)
	tok := e.admin.Pair.AccessToken

	res, body := e.do(t, http.MethodPost, "/v1/mfa/provision", tok, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var en mfa.Enrollment
	require.NoError(t, json.Unmarshal(body, &en))
	require.Len(t, en.BackupCodes, 10)

	res, _ = e.do(t, http.MethodPost, "/v1/mfa/enable", tok, codeRequest{Code: "000000x"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = e.do(t, http.MethodPost, "/v1/mfa/enable", tok, codeRequest{})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	// sin habilitar, verify da false
	res, body = e.do(t, http.MethodPost, "/v1/mfa/verify", tok, codeRequest{Code: en.BackupCodes[0]})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.JSONEq(t, `{"valid":false}`, string(body))

	res, body = e.do(t, http.MethodGet, "/v1/mfa/backup-codes", tok, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), en.BackupCodes[0])
}

func TestMFA_RateLimited(t *testing.T) {
	e := newEnv(t, 2)
	tok := e.admin.Pair.AccessToken

	for i := 0; i < 2; i++ {
		res, _ := e.do(t, http.MethodPost, "/v1/mfa/verify", tok, codeRequest{Code: "123456"})
		require.Equal(t, http.StatusOK, res.StatusCode)
	}
	res, _ := e.do(t, http.MethodPost, "/v1/mfa/verify", tok, codeRequest{Code: "123456"})
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)

	// otro usuario tiene su propio bucket
	res, _ = e.do(t, http.MethodPost, "/v1/mfa/verify", e.bob.Pair.AccessToken, codeRequest{Code: "123456"})
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestAdminRevoke(t *testing.T) {
	e := newEnv(t, 10)
	path := "/v1/admin/users/" + e.bob.User.ID + "/revoke"

	res, _ := e.do(t, http.MethodPost, path, e.bob.Pair.AccessToken, nil)
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	res, _ = e.do(t, http.MethodPost, path, e.admin.Pair.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, _ = e.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: e.bob.Pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestInfraEndpoints(t *testing.T) {
	e := newEnv(t, 10)

	res, _ := e.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, body := e.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), `"kid":"k1"`)

	res, body = e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), `route="/readyz"`)
	require.Contains(t, string(body), "federations_total")
}

func TestUserLimiter_Refills(t *testing.T) {
	l := NewUserLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("u1"))
	require.True(t, l.Allow("u1"))
	require.False(t, l.Allow("u1"))

	now = now.Add(30 * time.Second)
	require.True(t, l.Allow("u1"))

	// buckets inactivos se descartan al crear uno nuevo
	now = now.Add(5 * time.Minute)
	require.True(t, l.Allow("u2"))
	l.mu.Lock()
	_, ok := l.buckets["u1"]
	l.mu.Unlock()
	require.False(t, ok)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeYAML(t, "storage:\n  driver: memory\n")
	c, err := Load(p)
	require.NoError(t, err)

	require.Equal(t, ":8080", c.Server.Addr)
	require.Equal(t, "memory", c.Cache.Kind)
	require.Equal(t, time.Hour, c.AccessTTL())
	require.Equal(t, 7*24*time.Hour, c.RefreshTTL())
	require.Equal(t, 2, c.MFA.Window)
	require.Equal(t, []string{"admin", "owner"}, c.MFA.PrivilegedRoles)
	require.Equal(t, 10, c.MFA.BackupCodes)
	require.Equal(t, time.Minute, c.RateMFAWindow())
	require.Equal(t, 2*time.Minute, c.CacheConfig().DefaultTTL)
}

func TestLoad_YAMLValues(t *testing.T) {
	p := writeYAML(t, `
app:
  env: staging
storage:
  driver: postgres
  dsn: postgres://u:p@localhost/authority
  postgres:
    max_open_conns: 20
    conn_max_lifetime: 30m
cache:
  kind: redis
  redis:
    addr: localhost:6379
    prefix: auth
jwt:
  access_ttl: 15m
mfa:
  privileged_roles: [owner]
migrations:
  dir: ./sql
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "staging", c.App.Env)

	sc := c.StoreConfig()
	require.Equal(t, "postgres", sc.Driver)
	require.Equal(t, 20, sc.Postgres.MaxOpenConns)
	require.Equal(t, 30*time.Minute, sc.Postgres.ConnMaxLifetime)

	cc := c.CacheConfig()
	require.Equal(t, "redis", cc.Driver)
	require.Equal(t, "auth", cc.Prefix)
	require.Equal(t, 15*time.Minute, c.AccessTTL())
	require.Equal(t, []string{"owner"}, c.MFA.PrivilegedRoles)
	require.Equal(t, filepath.Join(filepath.Dir(p), "sql"), c.Migrations.Dir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("CACHE_KIND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("MFA_PRIVILEGED_ROLES", "admin, security")
	t.Setenv("MIGRATIONS_ON_START", "true")

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "redis:6379", c.Cache.Redis.Addr)
	require.Equal(t, 5*time.Minute, c.AccessTTL())
	require.Equal(t, []string{"admin", "security"}, c.MFA.PrivilegedRoles)
	require.True(t, c.Migrations.OnStart)
}

func TestValidate(t *testing.T) {
	t.Run("postgres without dsn", func(t *testing.T) {
		_, err := Load(writeYAML(t, "storage:\n  driver: postgres\n"))
		require.ErrorContains(t, err, "storage.dsn")
	})
	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeYAML(t, "storage:\n  driver: memory\njwt:\n  access_ttl: soon\n"))
		require.ErrorContains(t, err, "jwt.access_ttl")
	})
	t.Run("unknown cache", func(t *testing.T) {
		_, err := Load(writeYAML(t, "storage:\n  driver: memory\ncache:\n  kind: memcached\n"))
		require.ErrorContains(t, err, "cache.kind")
	})
	t.Run("prod requires keys", func(t *testing.T) {
		_, err := Load(writeYAML(t, "app:\n  env: prod\nstorage:\n  driver: memory\n"))
		require.ErrorContains(t, err, "secretbox_master_key")
		require.ErrorContains(t, err, "jwt.signing_key")
	})
}

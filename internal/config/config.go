package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/authority/internal/cache"
	"github.com/dropDatabas3/authority/internal/store"
	"github.com/dropDatabas3/authority/internal/store/pg"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Storage struct {
		Driver   string `yaml:"driver"` // postgres | memory
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // redis | memory
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	JWT struct {
		Issuer     string `yaml:"issuer"`
		AccessTTL  string `yaml:"access_ttl"`
		RefreshTTL string `yaml:"refresh_ttl"`
		// seed Ed25519 (32 bytes, base64). Vacío ⇒ clave efímera (solo dev).
		SigningKey string `yaml:"signing_key"`
		KeyID      string `yaml:"key_id"`
	} `yaml:"jwt"`

	MFA struct {
		Issuer          string   `yaml:"issuer"`
		Window          int      `yaml:"window"`
		PrivilegedRoles []string `yaml:"privileged_roles"`
		BackupCodes     int      `yaml:"backup_codes"`
	} `yaml:"mfa"`

	Security struct {
		// 32 bytes en base64, hex o raw. Sella secretos TOTP y backup codes.
		SecretBoxMasterKey string `yaml:"secretbox_master_key"`
	} `yaml:"security"`

	Migrations struct {
		Dir                string `yaml:"dir"` // vacío ⇒ migraciones embebidas
		AllowChecksumDrift bool   `yaml:"allow_checksum_drift"`
		OnStart            bool   `yaml:"on_start"`
	} `yaml:"migrations"`

	Rate struct {
		MFA struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"mfa"`
	} `yaml:"rate"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load lee el YAML, aplica defaults y overrides por env y valida.
// Un path vacío arranca solo con defaults + env.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	// dir de migraciones relativo al YAML
	if p := strings.TrimSpace(c.Migrations.Dir); p != "" && path != "" && !filepath.IsAbs(p) {
		c.Migrations.Dir = filepath.Clean(filepath.Join(filepath.Dir(path), p))
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "http://localhost:8080"
	}
	if c.JWT.AccessTTL == "" {
		c.JWT.AccessTTL = "1h"
	}
	if c.JWT.RefreshTTL == "" {
		c.JWT.RefreshTTL = "168h" // 7d
	}
	if c.MFA.Issuer == "" {
		c.MFA.Issuer = "Authority"
	}
	if c.MFA.Window == 0 {
		c.MFA.Window = 2
	}
	if len(c.MFA.PrivilegedRoles) == 0 {
		c.MFA.PrivilegedRoles = []string{"admin", "owner"}
	}
	if c.MFA.BackupCodes == 0 {
		c.MFA.BackupCodes = 10
	}
	if c.Rate.MFA.Limit == 0 {
		c.Rate.MFA.Limit = 10
	}
	if c.Rate.MFA.Window == "" {
		c.Rate.MFA.Window = "1m"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

// applyEnvOverrides pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_IDLE_CONNS"); ok {
		c.Storage.Postgres.MaxIdleConns = v
	}
	if v, ok := getEnvStr("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}
	if v, ok := getEnvStr("CACHE_MEMORY_DEFAULT_TTL"); ok {
		c.Cache.Memory.DefaultTTL = v
	}

	// JWT
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}
	if v, ok := getEnvStr("JWT_ACCESS_TTL"); ok {
		c.JWT.AccessTTL = v
	}
	if v, ok := getEnvStr("JWT_REFRESH_TTL"); ok {
		c.JWT.RefreshTTL = v
	}
	if v, ok := getEnvStr("JWT_SIGNING_KEY"); ok {
		c.JWT.SigningKey = v
	}
	if v, ok := getEnvStr("JWT_KEY_ID"); ok {
		c.JWT.KeyID = v
	}

	// MFA
	if v, ok := getEnvStr("MFA_ISSUER"); ok {
		c.MFA.Issuer = v
	}
	if v, ok := getEnvInt("MFA_WINDOW"); ok {
		c.MFA.Window = v
	}
	if v, ok := getEnvCSV("MFA_PRIVILEGED_ROLES"); ok {
		c.MFA.PrivilegedRoles = v
	}
	if v, ok := getEnvInt("MFA_BACKUP_CODES"); ok {
		c.MFA.BackupCodes = v
	}
	if v, ok := getEnvInt("RATE_MFA_LIMIT"); ok {
		c.Rate.MFA.Limit = v
	}
	if v, ok := getEnvStr("RATE_MFA_WINDOW"); ok {
		c.Rate.MFA.Window = v
	}

	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretBoxMasterKey = v
	}

	// MIGRATIONS
	if v, ok := getEnvStr("MIGRATIONS_DIR"); ok {
		c.Migrations.Dir = v
	}
	if v, ok := getEnvBool("MIGRATIONS_ALLOW_CHECKSUM_DRIFT"); ok {
		c.Migrations.AllowChecksumDrift = v
	}
	if v, ok := getEnvBool("MIGRATIONS_ON_START"); ok {
		c.Migrations.OnStart = v
	}

	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
}

// Validate junta todos los problemas en un solo error.
func (c *Config) Validate() error {
	var errs []error
	check := func(name, v string) {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, v))
		}
	}
	check("jwt.access_ttl", c.JWT.AccessTTL)
	check("jwt.refresh_ttl", c.JWT.RefreshTTL)
	check("cache.memory.default_ttl", c.Cache.Memory.DefaultTTL)
	check("rate.mfa.window", c.Rate.MFA.Window)
	if c.Storage.Postgres.ConnMaxLifetime != "" {
		check("storage.postgres.conn_max_lifetime", c.Storage.Postgres.ConnMaxLifetime)
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "postgres", "pg", "postgresql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn: required for postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver))
	}

	switch strings.ToLower(c.Cache.Kind) {
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Addr) == "" {
			errs = append(errs, errors.New("cache.redis.addr: required for redis"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("cache.kind: unsupported %q", c.Cache.Kind))
	}

	if c.MFA.Window < 0 {
		errs = append(errs, errors.New("mfa.window: must be >= 0"))
	}
	if c.MFA.BackupCodes < 0 {
		errs = append(errs, errors.New("mfa.backup_codes: must be >= 0"))
	}

	if c.IsProd() {
		if strings.TrimSpace(c.Security.SecretBoxMasterKey) == "" {
			errs = append(errs, errors.New("security.secretbox_master_key: required in prod"))
		}
		if strings.TrimSpace(c.JWT.SigningKey) == "" {
			errs = append(errs, errors.New("jwt.signing_key: required in prod"))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) IsProd() bool { return strings.EqualFold(c.App.Env, "prod") }

func mustDur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func (c *Config) AccessTTL() time.Duration     { return mustDur(c.JWT.AccessTTL) }
func (c *Config) RefreshTTL() time.Duration    { return mustDur(c.JWT.RefreshTTL) }
func (c *Config) RateMFAWindow() time.Duration { return mustDur(c.Rate.MFA.Window) }

// StoreConfig arma la config del Credential Store.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Driver: c.Storage.Driver,
		DSN:    c.Storage.DSN,
		Postgres: pg.Config{
			MaxOpenConns:    c.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    c.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: mustDur(c.Storage.Postgres.ConnMaxLifetime),
		},
	}
}

// CacheConfig arma la config del cache.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		Driver:     strings.ToLower(c.Cache.Kind),
		Addr:       c.Cache.Redis.Addr,
		Password:   c.Cache.Redis.Password,
		DB:         c.Cache.Redis.DB,
		Prefix:     c.Cache.Redis.Prefix,
		DefaultTTL: mustDur(c.Cache.Memory.DefaultTTL),
	}
}

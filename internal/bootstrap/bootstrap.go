// Package bootstrap arma el grafo de dependencias del servicio a partir de la config.
package bootstrap

import (
	"context"
	"crypto/rand"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/dropDatabas3/authority/internal/authority"
	"github.com/dropDatabas3/authority/internal/cache"
	"github.com/dropDatabas3/authority/internal/config"
	jwtx "github.com/dropDatabas3/authority/internal/jwt"
	"github.com/dropDatabas3/authority/internal/migrate"
	"github.com/dropDatabas3/authority/internal/mfa"
	"github.com/dropDatabas3/authority/internal/observability/logger"
	"github.com/dropDatabas3/authority/internal/observability/metrics"
	"github.com/dropDatabas3/authority/internal/security/secretbox"
	"github.com/dropDatabas3/authority/internal/store"
	"github.com/dropDatabas3/authority/internal/store/pg"
	migrations "github.com/dropDatabas3/authority/migrations/postgres"
)

// App es el servicio armado.
type App struct {
	Config    *config.Config
	Authority *authority.Authority
	Metrics   *metrics.Metrics
	Stores    *store.Stores
	Cache     cache.Client
}

// Close libera cache y storage.
func (a *App) Close() {
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.Stores != nil {
		a.Stores.Close()
	}
}

// MigrationSource devuelve el dir configurado o las migraciones embebidas.
func MigrationSource(cfg *config.Config) fs.FS {
	if dir := strings.TrimSpace(cfg.Migrations.Dir); dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

// NewRunner arma el migration runner; nil si el storage no es SQL.
func NewRunner(cfg *config.Config, st *store.Stores, m *metrics.Metrics) *migrate.Runner {
	if st.SQL == nil {
		return nil
	}
	return migrate.New(st.SQL, MigrationSource(cfg), migrate.Options{
		Driver:             st.Driver,
		AllowChecksumDrift: cfg.Migrations.AllowChecksumDrift,
		Metrics:            m,
	})
}

// Build abre storage y cache, construye claves y arma la autoridad.
// Si migrations.on_start está activo corre las migraciones antes de devolver.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.L().With(logger.Component("bootstrap"))

	m, err := metrics.New(nil)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	app := &App{Config: cfg, Metrics: m}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	if app.Stores, err = store.Open(ctx, cfg.StoreConfig()); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if p, isPG := app.Stores.Repository.(*pg.Store); isPG {
		if err := m.RegisterPool(p.Pool); err != nil {
			return nil, fmt.Errorf("metrics pool: %w", err)
		}
	}

	if app.Cache, err = cache.New(ctx, cfg.CacheConfig()); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if err := m.RegisterCache(app.Cache); err != nil {
		return nil, fmt.Errorf("metrics cache: %w", err)
	}

	keys, err := signingKeys(cfg)
	if err != nil {
		return nil, err
	}
	box, err := sealingBox(cfg)
	if err != nil {
		return nil, err
	}

	runner := NewRunner(cfg, app.Stores, m)
	if runner != nil && cfg.Migrations.OnStart {
		applied, err := runner.Run(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("migrations applied on start", logger.Count(len(applied)))
	}

	app.Authority = authority.New(authority.Deps{
		Store:      app.Stores.Repository,
		Cache:      app.Cache,
		Issuer:     jwtx.NewIssuer(cfg.JWT.Issuer, keys),
		Box:        box,
		Metrics:    m,
		Migrations: runner,
		AccessTTL:  cfg.AccessTTL(),
		RefreshTTL: cfg.RefreshTTL(),
		MFA: mfa.Config{
			Issuer:          cfg.MFA.Issuer,
			Window:          cfg.MFA.Window,
			PrivilegedRoles: cfg.MFA.PrivilegedRoles,
			BackupCodes:     cfg.MFA.BackupCodes,
		},
	})

	log.Info("authority ready",
		logger.String("storage", app.Stores.Driver),
		logger.String("cache", cfg.Cache.Kind),
		logger.String("issuer", cfg.JWT.Issuer))
	ok = true
	return app, nil
}

func signingKeys(cfg *config.Config) (*jwtx.KeySet, error) {
	if s := strings.TrimSpace(cfg.JWT.SigningKey); s != "" {
		return jwtx.FromSeed(cfg.JWT.KeyID, s)
	}
	logger.L().Warn("jwt.signing_key not set, using ephemeral key (tokens die with the process)")
	kid := cfg.JWT.KeyID
	if kid == "" {
		kid = "ephemeral"
	}
	return jwtx.NewEd25519(kid)
}

func sealingBox(cfg *config.Config) (*secretbox.Box, error) {
	if s := strings.TrimSpace(cfg.Security.SecretBoxMasterKey); s != "" {
		return secretbox.ParseKey(s)
	}
	logger.L().Warn("security.secretbox_master_key not set, using ephemeral key (mfa secrets die with the process)")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return secretbox.New(key)
}

// Package authority expone la superficie completa: federación, credenciales,
// validación de sesión, control de acceso, MFA y migraciones.
package authority

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/authority/internal/apperr"
	"github.com/dropDatabas3/authority/internal/cache"
	"github.com/dropDatabas3/authority/internal/directory"
	"github.com/dropDatabas3/authority/internal/domain/repository"
	"github.com/dropDatabas3/authority/internal/identity"
	jwtx "github.com/dropDatabas3/authority/internal/jwt"
	"github.com/dropDatabas3/authority/internal/mfa"
	"github.com/dropDatabas3/authority/internal/migrate"
	"github.com/dropDatabas3/authority/internal/observability/logger"
	"github.com/dropDatabas3/authority/internal/observability/metrics"
	"github.com/dropDatabas3/authority/internal/rbac"
	"github.com/dropDatabas3/authority/internal/security/secretbox"
	"github.com/dropDatabas3/authority/internal/session"
	"github.com/dropDatabas3/authority/internal/token"
)

// AuthResult es el resultado de una federación exitosa.
type AuthResult struct {
	User      *repository.User      `json:"user"`
	Pair      *token.CredentialPair `json:"credentials"`
	IsNewUser bool                  `json:"is_new_user"`
}

// Deps arma la autoridad. Migrations puede ser nil (driver memory).
type Deps struct {
	Store      repository.Store
	Cache      cache.Client
	Issuer     *jwtx.Issuer
	Box        *secretbox.Box
	Metrics    *metrics.Metrics
	Migrations *migrate.Runner

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	MFA        mfa.Config
	Now        func() time.Time
}

type Authority struct {
	store      repository.Store
	cache      cache.Client
	issuer     *jwtx.Issuer
	metrics    *metrics.Metrics
	directory  *directory.Directory
	tokens     *token.Service
	validator  *session.Validator
	mfa        *mfa.Authority
	migrations *migrate.Runner
}

func New(d Deps) *Authority {
	dir := directory.New(directory.Deps{Users: d.Store, Now: d.Now})
	return &Authority{
		store:     d.Store,
		cache:     d.Cache,
		issuer:    d.Issuer,
		metrics:   d.Metrics,
		directory: dir,
		tokens: token.New(token.Deps{
			Issuer:     d.Issuer,
			Cache:      d.Cache,
			Users:      dir,
			Roles:      d.Store,
			AccessTTL:  d.AccessTTL,
			RefreshTTL: d.RefreshTTL,
			Metrics:    d.Metrics,
		}),
		validator: session.NewValidator(d.Issuer, d.Store, d.Metrics),
		mfa: mfa.New(mfa.Deps{
			Store:   d.Store,
			Cache:   d.Cache,
			Box:     d.Box,
			Metrics: d.Metrics,
			Config:  d.MFA,
			Now:     d.Now,
		}),
		migrations: d.Migrations,
	}
}

// Federate normaliza el perfil externo, resuelve o crea el usuario y emite
// credenciales para una sesión nueva.
func (a *Authority) Federate(ctx context.Context, raw identity.RawProfile) (*AuthResult, error) {
	log := logger.From(ctx).With(logger.Layer("authority"), logger.Op("federate"), logger.Provider(raw.Provider))

	id, err := identity.Normalize(raw)
	if err != nil {
		label := raw.Provider
		if errors.Is(err, identity.ErrUnknownProvider) {
			label = "unknown"
		}
		a.metrics.Federation(label, metrics.ResultRejected)
		log.Info("identity rejected", logger.Err(err))
		return nil, apperr.ErrAuthenticationFailed.WithCause(err)
	}

	u, isNew, err := a.directory.ResolveOrCreate(ctx, id)
	if err != nil {
		a.metrics.Federation(string(id.Provider), metrics.ResultError)
		return nil, err
	}

	pair, err := a.tokens.Issue(ctx, u, token.NewSessionID())
	if err != nil {
		a.metrics.Federation(string(id.Provider), metrics.ResultError)
		return nil, err
	}

	result := metrics.ResultExisting
	if isNew {
		result = metrics.ResultNew
	}
	a.metrics.Federation(string(id.Provider), result)
	log.Info("user federated",
		logger.UserID(u.ID), logger.SessionID(pair.SessionID), logger.Bool("is_new", isNew))
	return &AuthResult{User: u, Pair: pair, IsNewUser: isNew}, nil
}

func (a *Authority) Refresh(ctx context.Context, refreshToken string) (*token.CredentialPair, error) {
	return a.tokens.Refresh(ctx, refreshToken)
}

// Revoke invalida todas las sesiones del usuario.
func (a *Authority) Revoke(ctx context.Context, userID string) error {
	return a.tokens.Revoke(ctx, userID)
}

func (a *Authority) RevokeSession(ctx context.Context, userID, sessionID string) error {
	return a.tokens.RevokeSession(ctx, userID, sessionID)
}

// Validate retorna (nil, nil) ante cualquier credencial no válida.
func (a *Authority) Validate(ctx context.Context, accessToken string) (*session.Session, error) {
	return a.validator.Validate(ctx, accessToken)
}

func (a *Authority) RequireRole(s *session.Session, roles ...string) bool {
	return rbac.HasAnyRole(s, roles...)
}

func (a *Authority) RequirePermission(s *session.Session, resource, action string) bool {
	return rbac.HasPermission(s, resource, action)
}

func (a *Authority) MFA() *mfa.Authority { return a.mfa }

// Migrations es nil cuando el storage no es SQL.
func (a *Authority) Migrations() *migrate.Runner { return a.migrations }

// JWKS devuelve las claves públicas de verificación.
func (a *Authority) JWKS() []byte { return a.issuer.Keys.JWKSJSON() }

// Ready chequea storage y cache.
func (a *Authority) Ready(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return apperr.ErrStorageUnavailable.WithCause(err)
	}
	if err := a.cache.Ping(ctx); err != nil {
		return apperr.ErrStorageUnavailable.WithCause(err)
	}
	return nil
}

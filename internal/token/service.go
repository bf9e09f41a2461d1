// Package token emite y rota pares de credenciales (access + refresh).
//
// Cada sesión es una familia de refresh tokens: la cache guarda el sha256 del único
// refresh vivo en refresh_token:<userId>:<sessionId>. Refresh lo consume con GETDEL,
// así un token rotado que se vuelve a presentar encuentra el slot vacío o distinto.
package token

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/authority/internal/apperr"
	"github.com/dropDatabas3/authority/internal/audit"
	"github.com/dropDatabas3/authority/internal/cache"
	"github.com/dropDatabas3/authority/internal/domain/repository"
	jwtx "github.com/dropDatabas3/authority/internal/jwt"
	"github.com/dropDatabas3/authority/internal/observability/logger"
	"github.com/dropDatabas3/authority/internal/observability/metrics"
	tokens "github.com/dropDatabas3/authority/internal/security/token"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour

	refreshKeyPrefix = "refresh_token:"
)

// CredentialPair es el par emitido a un cliente.
type CredentialPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
	SessionID        string    `json:"session_id"`
}

// UserResolver re-lee un usuario activo (lo implementa directory.Directory).
type UserResolver interface {
	Get(ctx context.Context, userID string) (*repository.User, error)
}

// RoleReader lee los roles vigentes para embeberlos en el access token.
type RoleReader interface {
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
}

// Deps contiene las dependencias del servicio.
type Deps struct {
	Issuer     *jwtx.Issuer
	Cache      cache.Client
	Users      UserResolver
	Roles      RoleReader
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Metrics    *metrics.Metrics
}

type Service struct {
	deps Deps
}

func New(deps Deps) *Service {
	if deps.AccessTTL <= 0 {
		deps.AccessTTL = DefaultAccessTTL
	}
	if deps.RefreshTTL <= 0 {
		deps.RefreshTTL = DefaultRefreshTTL
	}
	return &Service{deps: deps}
}

// NewSessionID genera el id de una nueva familia de refresh tokens.
func NewSessionID() string { return uuid.NewString() }

func refreshKey(userID, sessionID string) string {
	return refreshKeyPrefix + userID + ":" + sessionID
}

// Issue emite un par nuevo para la sesión y reemplaza el refresh vivo de esa sesión.
func (s *Service) Issue(ctx context.Context, u *repository.User, sessionID string) (*CredentialPair, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("token.issue"), logger.UserID(u.ID))

	if strings.TrimSpace(sessionID) == "" {
		sessionID = NewSessionID()
	}

	roles, err := s.deps.Roles.GetUserRoles(ctx, u.ID)
	if err != nil {
		log.Error("read roles failed", logger.Err(err))
		return nil, apperr.ErrStorageUnavailable.WithCause(err)
	}

	var org string
	if u.OrganizationID != nil {
		org = *u.OrganizationID
	}

	ac := jwtx.AccessClaims{
		Email:            u.Email,
		Roles:            roles,
		Org:              org,
		SID:              sessionID,
		RegisteredClaims: s.deps.Issuer.Registered(u.ID, uuid.NewString(), s.deps.AccessTTL),
	}
	access, err := s.deps.Issuer.Sign(ac)
	if err != nil {
		return nil, apperr.ErrAuthenticationFailed.WithCause(err)
	}

	rc := jwtx.RefreshClaims{
		SID:              sessionID,
		TokenUse:         jwtx.TokenUseRefresh,
		RegisteredClaims: s.deps.Issuer.Registered(u.ID, uuid.NewString(), s.deps.RefreshTTL),
	}
	refresh, err := s.deps.Issuer.Sign(rc)
	if err != nil {
		return nil, apperr.ErrAuthenticationFailed.WithCause(err)
	}

	if err := s.deps.Cache.Set(ctx, refreshKey(u.ID, sessionID), tokens.SHA256Hex(refresh), s.deps.RefreshTTL); err != nil {
		log.Error("store refresh hash failed", logger.Err(err))
		return nil, apperr.ErrStorageUnavailable.WithCause(err)
	}

	log.Debug("credential pair issued", logger.SessionID(sessionID))
	return &CredentialPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.deps.AccessTTL / time.Second),
		AccessExpiresAt:  ac.ExpiresAt.Time,
		RefreshExpiresAt: rc.ExpiresAt.Time,
		SessionID:        sessionID,
	}, nil
}

// Refresh consume el refresh presentado y emite un par nuevo para la misma sesión.
func (s *Service) Refresh(ctx context.Context, presented string) (*CredentialPair, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("token.refresh"))

	presented = strings.TrimSpace(presented)
	if presented == "" {
		s.deps.Metrics.Refresh(metrics.ResultRejected)
		return nil, apperr.ErrInvalidCredential
	}

	var rc jwtx.RefreshClaims
	if err := s.deps.Issuer.Parse(presented, &rc); err != nil {
		s.deps.Metrics.Refresh(metrics.ResultRejected)
		log.Debug("refresh token rejected", logger.Err(err))
		return nil, apperr.ErrInvalidCredential
	}
	if rc.TokenUse != jwtx.TokenUseRefresh || rc.Subject == "" || rc.SID == "" {
		s.deps.Metrics.Refresh(metrics.ResultRejected)
		return nil, apperr.ErrInvalidCredential
	}
	log = log.With(logger.UserID(rc.Subject), logger.SessionID(rc.SID))

	stored, err := s.deps.Cache.GetAndDelete(ctx, refreshKey(rc.Subject, rc.SID))
	if err != nil {
		if cache.IsNotFound(err) {
			s.deps.Metrics.Refresh(metrics.ResultRejected)
			log.Info("refresh slot empty (revoked or already rotated)")
			return nil, apperr.ErrInvalidCredential
		}
		s.deps.Metrics.Refresh(metrics.ResultError)
		log.Error("cache unavailable", logger.Err(err))
		return nil, apperr.ErrStorageUnavailable.WithCause(err)
	}

	if !tokens.EqualConstantTime(stored, tokens.SHA256Hex(presented)) {
		// Token rotado reutilizado: el slot ya fue consumido y la sesión queda revocada.
		s.deps.Metrics.Refresh(metrics.ResultReplay)
		log.Warn("refresh token replay detected; session revoked")
		audit.Log(ctx, audit.EventRefreshReplay, logger.UserID(rc.Subject), logger.SessionID(rc.SID))
		return nil, apperr.ErrInvalidCredential
	}

	u, err := s.deps.Users.Get(ctx, rc.Subject)
	if err != nil {
		s.deps.Metrics.Refresh(metrics.ResultRejected)
		log.Info("refresh refused for user", logger.Err(err))
		return nil, err
	}

	pair, err := s.Issue(ctx, u, rc.SID)
	if err != nil {
		s.deps.Metrics.Refresh(metrics.ResultError)
		return nil, err
	}
	s.deps.Metrics.Refresh(metrics.ResultOK)
	return pair, nil
}

// Revoke elimina todas las sesiones del usuario.
func (s *Service) Revoke(ctx context.Context, userID string) error {
	n, err := s.deps.Cache.DeleteByPrefix(ctx, refreshKeyPrefix+userID+":")
	if err != nil {
		return apperr.ErrStorageUnavailable.WithCause(err)
	}
	audit.Log(ctx, audit.EventAllSessionsRevoked, logger.UserID(userID), logger.Count(n))
	return nil
}

// RevokeSession elimina una sola sesión.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if err := s.deps.Cache.Delete(ctx, refreshKey(userID, sessionID)); err != nil {
		return apperr.ErrStorageUnavailable.WithCause(err)
	}
	audit.Log(ctx, audit.EventSessionRevoked, logger.UserID(userID), logger.SessionID(sessionID))
	return nil
}

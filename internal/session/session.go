// Package session valida access tokens y reconstruye la sesión con roles y permisos vigentes.
package session

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/authority/internal/apperr"
	"github.com/dropDatabas3/authority/internal/domain/repository"
	jwtx "github.com/dropDatabas3/authority/internal/jwt"
	"github.com/dropDatabas3/authority/internal/observability/logger"
	"github.com/dropDatabas3/authority/internal/observability/metrics"
)

// Session es la vista derivada de un access token válido.
// Roles y permisos se leen del store en cada validación, no del token.
type Session struct {
	UserID         string
	Email          string
	Roles          []string
	Permissions    []repository.Permission
	OrganizationID string
	SessionID      string
	Tier           repository.Tier
	ExpiresAt      time.Time
}

// Store es lo que el validador necesita leer.
type Store interface {
	GetByID(ctx context.Context, userID string) (*repository.User, error)
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
	GetUserPermissions(ctx context.Context, userID string) ([]repository.Permission, error)
}

type Validator struct {
	issuer  *jwtx.Issuer
	store   Store
	metrics *metrics.Metrics
}

func NewValidator(issuer *jwtx.Issuer, store Store, m *metrics.Metrics) *Validator {
	return &Validator{issuer: issuer, store: store, metrics: m}
}

// Validate retorna (nil, nil) para tokens inválidos, vencidos o de usuarios
// inexistentes/inactivos. Solo los fallos de storage devuelven error.
func (v *Validator) Validate(ctx context.Context, accessToken string) (*Session, error) {
	log := logger.From(ctx).With(logger.Layer("session"), logger.Op("session.validate"))

	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		v.metrics.Validation(metrics.ResultRejected)
		return nil, nil
	}

	var c jwtx.AccessClaims
	if err := v.issuer.Parse(accessToken, &c); err != nil {
		v.metrics.Validation(metrics.ResultRejected)
		log.Debug("access token rejected", logger.Err(err))
		return nil, nil
	}
	if c.TokenUse != "" || c.Subject == "" {
		// un refresh token presentado como bearer
		v.metrics.Validation(metrics.ResultRejected)
		return nil, nil
	}

	u, err := v.store.GetByID(ctx, c.Subject)
	if err != nil {
		if repository.IsNotFound(err) {
			v.metrics.Validation(metrics.ResultRejected)
			return nil, nil
		}
		return nil, v.fault(log, err)
	}
	if !u.Active {
		v.metrics.Validation(metrics.ResultRejected)
		log.Info("token for inactive user", logger.UserID(u.ID))
		return nil, nil
	}

	roles, err := v.store.GetUserRoles(ctx, u.ID)
	if err != nil {
		return nil, v.fault(log, err)
	}
	perms, err := v.store.GetUserPermissions(ctx, u.ID)
	if err != nil {
		return nil, v.fault(log, err)
	}

	var org string
	if u.OrganizationID != nil {
		org = *u.OrganizationID
	}
	s := &Session{
		UserID:         u.ID,
		Email:          u.Email,
		Roles:          roles,
		Permissions:    perms,
		OrganizationID: org,
		SessionID:      c.SID,
		Tier:           u.Tier,
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	v.metrics.Validation(metrics.ResultOK)
	return s, nil
}

func (v *Validator) fault(log *zap.Logger, err error) error {
	v.metrics.Validation(metrics.ResultError)
	log.Error("session store unavailable", logger.Err(err))
	return apperr.ErrStorageUnavailable.WithCause(err)
}

type ctxKey struct{}

// ToContext guarda la sesión validada en el contexto del request.
func ToContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext obtiene la sesión; nil si el request no está autenticado.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

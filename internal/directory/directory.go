// Package directory resuelve una identidad externa al usuario local, creándolo en su primer login.
package directory

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/authority/internal/apperr"
	"github.com/dropDatabas3/authority/internal/audit"
	"github.com/dropDatabas3/authority/internal/domain/repository"
	"github.com/dropDatabas3/authority/internal/identity"
	"github.com/dropDatabas3/authority/internal/observability/logger"
)

// Deps contiene las dependencias del Directory.
type Deps struct {
	Users repository.UserRepository
	Now   func() time.Time
	// Timeout acota el lookup/alta compartido. Default 10s.
	Timeout time.Duration
}

const defaultResolveTimeout = 10 * time.Second

// Directory es seguro para uso concurrente.
type Directory struct {
	users   repository.UserRepository
	now     func() time.Time
	timeout time.Duration
	group   singleflight.Group
}

func New(d Deps) *Directory {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	return &Directory{users: d.Users, now: now, timeout: timeout}
}

type resolved struct {
	user  *repository.User
	isNew bool
	// claimed asegura que un solo llamador de un Do compartido reporte isNew
	claimed *atomic.Bool
}

// ResolveOrCreate busca por (provider, subject) o crea usuario + perfil.
// Las llamadas concurrentes del mismo proceso para la misma identidad se colapsan;
// entre procesos la garantía es la constraint única del store.
func (d *Directory) ResolveOrCreate(ctx context.Context, id identity.ExternalIdentity) (*repository.User, bool, error) {
	log := logger.From(ctx).With(
		logger.Layer("directory"),
		logger.Op("directory.resolve"),
		logger.Provider(string(id.Provider)),
	)

	key := string(id.Provider) + "\x00" + id.SubjectID
	ch := d.group.DoChan(key, func() (any, error) {
		// El vuelo compartido no depende de la cancelación de quien lo abrió.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		return d.resolve(rctx, id)
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		log.Info("resolve abandoned by caller", logger.Err(ctx.Err()))
		return nil, false, apperr.ErrAuthenticationFailed.WithCause(ctx.Err())
	}
	if r.Err != nil {
		log.Warn("resolve failed", logger.Err(r.Err))
		return nil, false, r.Err
	}
	res := r.Val.(resolved)
	isNew := res.isNew && res.claimed.CompareAndSwap(false, true)
	u := *res.user
	if !u.Active {
		log.Info("inactive user refused", logger.UserID(u.ID))
		return nil, false, apperr.ErrAuthenticationFailed
	}
	return &u, isNew, nil
}

func (d *Directory) resolve(ctx context.Context, id identity.ExternalIdentity) (resolved, error) {
	provider := string(id.Provider)

	u, err := d.users.GetByProvider(ctx, provider, id.SubjectID)
	switch {
	case err == nil:
		d.touch(ctx, u)
		return resolved{user: u}, nil
	case !repository.IsNotFound(err):
		return resolved{}, apperr.ErrAuthenticationFailed.WithCause(err)
	}

	u, _, err = d.users.CreateWithProfile(ctx, repository.CreateUserInput{
		Email:          id.Email,
		Provider:       provider,
		ProviderUserID: id.SubjectID,
		Tier:           repository.TierFree,
		DisplayName:    id.DisplayName,
		AvatarURL:      id.AvatarURL,
	})
	if err == nil {
		audit.Log(ctx, audit.EventUserCreated,
			logger.UserID(u.ID), logger.Provider(provider), logger.EmailMasked(id.Email))
		return resolved{user: u, isNew: true, claimed: new(atomic.Bool)}, nil
	}
	if !repository.IsConflict(err) {
		return resolved{}, apperr.ErrAuthenticationFailed.WithCause(err)
	}

	// Otro proceso lo creó entre el lookup y el insert.
	u, err = d.users.GetByProvider(ctx, provider, id.SubjectID)
	if err != nil {
		return resolved{}, apperr.ErrAuthenticationFailed.WithCause(errors.Join(repository.ErrConflict, err))
	}
	d.touch(ctx, u)
	return resolved{user: u}, nil
}

// touch actualiza last_active_at. Es informativo: un fallo se loguea y no invalida
// un login cuyo lookup ya tuvo éxito.
func (d *Directory) touch(ctx context.Context, u *repository.User) {
	at := d.now()
	if err := d.users.TouchLastActive(ctx, u.ID, at); err != nil {
		logger.From(ctx).Warn("touch last active failed", logger.Layer("directory"), logger.UserID(u.ID), logger.Err(err))
		return
	}
	u.LastActiveAt = &at
}

// Get re-lee un usuario por ID. Retorna AuthenticationFailed si no existe o está inactivo.
func (d *Directory) Get(ctx context.Context, userID string) (*repository.User, error) {
	u, err := d.users.GetByID(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperr.ErrAuthenticationFailed
		}
		return nil, apperr.ErrStorageUnavailable.WithCause(err)
	}
	if !u.Active {
		return nil, apperr.ErrAuthenticationFailed
	}
	return u, nil
}

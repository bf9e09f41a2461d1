package pg

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/authority/internal/domain/repository"
)

const userCols = `id::text, email, provider, provider_user_id, organization_id::text, tier,
	active, created_at, updated_at, last_active_at`

func scanUser(row pgx.Row) (*repository.User, error) {
	var (
		u    repository.User
		tier string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Provider, &u.ProviderUserID, &u.OrganizationID, &tier,
		&u.Active, &u.CreatedAt, &u.UpdatedAt, &u.LastActiveAt); err != nil {
		return nil, mapErr(err)
	}
	u.Tier = repository.Tier(tier)
	return &u, nil
}

func (s *Store) GetByProvider(ctx context.Context, provider, providerUserID string) (*repository.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID)
	return scanUser(row)
}

func (s *Store) GetByID(ctx context.Context, userID string) (*repository.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

// CreateWithProfile inserta users + profiles en una transacción.
func (s *Store) CreateWithProfile(ctx context.Context, in repository.CreateUserInput) (*repository.User, *repository.Profile, error) {
	tier := in.Tier
	if tier == "" {
		tier = repository.TierFree
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := scanUser(tx.QueryRow(ctx, `
		INSERT INTO users (id, email, provider, provider_user_id, organization_id, tier, active)
		VALUES ($1, $2, $3, $4, $5, $6, true)
		RETURNING `+userCols,
		uuid.NewString(), in.Email, in.Provider, in.ProviderUserID, in.OrganizationID, string(tier)))
	if err != nil {
		return nil, nil, err
	}

	p := repository.Profile{UserID: u.ID, DisplayName: in.DisplayName, AvatarURL: in.AvatarURL}
	if err := tx.QueryRow(ctx, `
		INSERT INTO profiles (user_id, display_name, avatar_url)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		u.ID, p.DisplayName, p.AvatarURL).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, nil, mapErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, mapErr(err)
	}
	return u, &p, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*repository.Profile, error) {
	var p repository.Profile
	err := s.pool.QueryRow(ctx, `
		SELECT user_id::text, display_name, avatar_url, created_at, updated_at
		FROM profiles WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.DisplayName, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *Store) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	return s.execOne(ctx, `UPDATE users SET last_active_at = $2 WHERE id = $1`, userID, at)
}

func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	return s.execOne(ctx, `UPDATE users SET active = $2, updated_at = now() WHERE id = $1`, userID, active)
}

// execOne ejecuta un UPDATE que debe afectar exactamente una fila.
func (s *Store) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

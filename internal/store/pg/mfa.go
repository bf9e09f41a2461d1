package pg

import (
	"context"
	"time"

	"github.com/dropDatabas3/authority/internal/domain/repository"
)

func (s *Store) GetMFA(ctx context.Context, userID string) (*repository.MFARecord, error) {
	var m repository.MFARecord
	err := s.pool.QueryRow(ctx, `
		SELECT user_id::text, secret_sealed, backup_codes_sealed, enabled,
		       confirmed_at, last_used_at, created_at, updated_at
		FROM user_mfa WHERE user_id = $1`, userID).
		Scan(&m.UserID, &m.SecretSealed, &m.BackupCodesSealed, &m.Enabled,
			&m.ConfirmedAt, &m.LastUsedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

// PutMFA reemplaza el registro completo; last_used_at vuelve a NULL.
func (s *Store) PutMFA(ctx context.Context, rec repository.MFARecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_mfa (user_id, secret_sealed, backup_codes_sealed, enabled, confirmed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id)
		DO UPDATE SET secret_sealed       = EXCLUDED.secret_sealed,
		              backup_codes_sealed = EXCLUDED.backup_codes_sealed,
		              enabled             = EXCLUDED.enabled,
		              confirmed_at        = EXCLUDED.confirmed_at,
		              last_used_at        = NULL,
		              updated_at          = now()`,
		rec.UserID, rec.SecretSealed, rec.BackupCodesSealed, rec.Enabled, rec.ConfirmedAt)
	return mapErr(err)
}

func (s *Store) SetMFAEnabled(ctx context.Context, userID string, enabled bool, at time.Time) error {
	return s.execOne(ctx, `
		UPDATE user_mfa
		SET enabled = $2,
		    confirmed_at = CASE WHEN $2 THEN $3 ELSE confirmed_at END,
		    updated_at = $3
		WHERE user_id = $1`, userID, enabled, at)
}

// SwapBackupCodes es un compare-and-swap sobre el blob sellado.
func (s *Store) SwapBackupCodes(ctx context.Context, userID string, prev, next []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_mfa SET backup_codes_sealed = $3, updated_at = now()
		WHERE user_id = $1 AND backup_codes_sealed = $2`, userID, prev, next)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrStaleWrite
	}
	return nil
}

func (s *Store) TouchMFALastUsed(ctx context.Context, userID string, at time.Time) error {
	return s.execOne(ctx, `UPDATE user_mfa SET last_used_at = $2 WHERE user_id = $1`, userID, at)
}

package repository

import (
	"context"
	"time"
)

// MFARecord es la configuración TOTP de un usuario (uno por usuario).
// Secret y BackupCodes se guardan sellados; el store no los interpreta.
type MFARecord struct {
	UserID            string
	SecretSealed      []byte
	BackupCodesSealed []byte
	Enabled           bool
	ConfirmedAt       *time.Time
	LastUsedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MFARepository define operaciones sobre el registro MFA.
type MFARepository interface {
	// GetMFA obtiene el registro. Retorna ErrNotFound si no existe.
	GetMFA(ctx context.Context, userID string) (*MFARecord, error)

	// PutMFA crea o reemplaza el registro completo (provisioning).
	PutMFA(ctx context.Context, rec MFARecord) error

	// SetMFAEnabled cambia el flag. Al habilitar fija confirmed_at = at.
	// Retorna ErrNotFound si no existe.
	SetMFAEnabled(ctx context.Context, userID string, enabled bool, at time.Time) error

	// SwapBackupCodes reemplaza los códigos solo si los actuales son iguales a prev.
	// Retorna ErrStaleWrite si otra escritura ganó.
	SwapBackupCodes(ctx context.Context, userID string, prev, next []byte) error

	// TouchMFALastUsed actualiza last_used_at.
	TouchMFALastUsed(ctx context.Context, userID string, at time.Time) error
}

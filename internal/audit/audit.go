// Package audit registra eventos de seguridad en un logger dedicado ("audit").
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/dropDatabas3/authority/internal/observability/logger"
)

const (
	EventUserCreated        = "user.created"
	EventSessionRevoked     = "session.revoked"
	EventAllSessionsRevoked = "session.revoked_all"
	EventRefreshReplay      = "refresh.replay"
	EventRoleGranted        = "role.granted"
	EventMFAProvisioned     = "mfa.provisioned"
	EventMFAEnabled         = "mfa.enabled"
	EventMFADisabled        = "mfa.disabled"
	EventBackupCodeUsed     = "mfa.backup_code_used"
	EventBackupCodesRotated = "mfa.backup_codes_regenerated"
)

// Log escribe el evento con el logger del contexto (hereda request_id, user_id, ...).
func Log(ctx context.Context, event string, fields ...zap.Field) {
	logger.From(ctx).Named("audit").Info(event, append(fields, zap.String("event", event))...)
}

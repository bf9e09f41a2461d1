package logger

import (
	"time"

	"go.uber.org/zap"
)

// ─── HTTP ───

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field { return zap.String("method", v) }
func Path(v string) zap.Field { return zap.String("path", v) }
func Status(v int) zap.Field { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

// ─── Identidad y credenciales ───

// UserID crea un campo para el ID del usuario.
func UserID(v string) zap.Field { return zap.String("user_id", v) }

// SessionID identifica la familia de refresh tokens.
func SessionID(v string) zap.Field { return zap.String("session_id", v) }

// Provider es el IdP federado (google, github, ...).
func Provider(v string) zap.Field { return zap.String("provider", v) }

// Subject es el ID del usuario dentro del provider.
func Subject(v string) zap.Field { return zap.String("subject", v) }

// EmailMasked loguea el email enmascarado (ab***@dominio).
func EmailMasked(v string) zap.Field { return zap.String("email_masked", MaskEmail(v)) }

// Roles lista los roles resueltos.
func Roles(v []string) zap.Field { return zap.Strings("roles", v) }

// Migration identifica una unidad de migración.
func Migration(v string) zap.Field { return zap.String("migration", v) }

// ─── Sistema ───

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field { return zap.String("op", v) }
func Layer(v string) zap.Field { return zap.String("layer", v) }
func Err(err error) zap.Field { return zap.Error(err) }
func Count(v int) zap.Field { return zap.Int("count", v) }

func String(key, v string) zap.Field { return zap.String(key, v) }
func Int(key string, v int) zap.Field { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }

// MaskEmail muestra los 2 primeros caracteres y el dominio.
func MaskEmail(email string) string {
	if len(email) < 3 {
		return "***"
	}
	at := -1
	for i, c := range email {
		if c == '@' {
			at = i
			break
		}
	}
	if at < 2 {
		return email[:2] + "***"
	}
	return email[:2] + "***" + email[at:]
}

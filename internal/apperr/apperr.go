// Package apperr define las categorías de error que cruzan el borde del core.
//
// Los errores nativos de storage (pgx, redis) nunca se exponen tal cual: se envuelven
// como causa de una categoría y solo son visibles vía Unwrap para logs.
package apperr

import (
	"errors"
	"fmt"
)

// Kind es la categoría estable del error.
type Kind string

const (
	KindAuthenticationFailed Kind = "AUTHENTICATION_FAILED"
	KindInvalidCredential    Kind = "INVALID_CREDENTIAL"
	KindForbidden            Kind = "FORBIDDEN"
	KindInvalidMFAToken      Kind = "INVALID_MFA_TOKEN"
	KindStorageUnavailable   Kind = "STORAGE_UNAVAILABLE"
	KindMigrationFailed      Kind = "MIGRATION_FAILED"
)

// Error es el valor de error del core.
type Error struct {
	Kind    Kind
	Message string
	Err     error // causa, solo para logs
}

// Error implementa la interfaz error
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Public es el texto apto para clientes (sin la causa).
func (e *Error) Public() string {
	return e.Message
}

// Unwrap permite acceder al error original
func (e *Error) Unwrap() error {
	return e.Err
}

// Is compara por categoría, así errors.Is(err, apperr.ErrForbidden) funciona con copias.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// WithCause devuelve una COPIA con la causa agregada.
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// WithMessage devuelve una COPIA con otro mensaje.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// New crea un error de la categoría dada.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap crea un error de la categoría dada envolviendo err.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf retorna la categoría de err o "" si no es un *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reporta si err pertenece a la categoría kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Predefinidos. Usar WithCause para agregar contexto, nunca mutarlos.
var (
	ErrAuthenticationFailed = New(KindAuthenticationFailed, "authentication failed")
	ErrInvalidCredential    = New(KindInvalidCredential, "invalid or expired credential")
	ErrForbidden            = New(KindForbidden, "insufficient privileges")
	ErrInvalidMFAToken      = New(KindInvalidMFAToken, "invalid mfa code")
	ErrStorageUnavailable   = New(KindStorageUnavailable, "storage unavailable")
	ErrMigrationFailed      = New(KindMigrationFailed, "migration failed")
)

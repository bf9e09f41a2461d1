// Package rbac decide acceso a partir de una sesión validada. Funciones puras, sin I/O.
package rbac

import (
	"strings"

	"github.com/dropDatabas3/authority/internal/domain/repository"
	"github.com/dropDatabas3/authority/internal/session"
)

// HasAnyRole reporta si la sesión tiene alguno de los roles (case-insensitive).
// Sin roles requeridos, cualquier sesión válida pasa.
func HasAnyRole(s *session.Session, required ...string) bool {
	if s == nil {
		return false
	}
	return AnyRole(s.Roles, required...)
}

// AnyRole es la misma decisión sobre una lista de roles ya leída del store.
func AnyRole(have []string, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, h := range have {
		for _, want := range required {
			if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(want)) {
				return true
			}
		}
	}
	return false
}

// HasPermission reporta si algún permiso de la sesión concede action sobre resource.
// "manage" implica todas las acciones de su recurso. Recursos o acciones fuera
// del catálogo nunca se conceden.
func HasPermission(s *session.Session, resource, action string) bool {
	if s == nil {
		return false
	}
	want, err := repository.ParsePermission(resource, action)
	if err != nil {
		return false
	}
	for _, p := range s.Permissions {
		if p.Grants(want.Resource, want.Action) {
			return true
		}
	}
	return false
}

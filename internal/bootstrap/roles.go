package bootstrap

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dropDatabas3/authority/internal/audit"
	"github.com/dropDatabas3/authority/internal/domain/repository"
	"github.com/dropDatabas3/authority/internal/observability/logger"
)

// GrantRoleInput identifica al usuario por su identidad federada.
type GrantRoleInput struct {
	Provider  string
	SubjectID string
	Role      string
}

// GrantRole asigna un rol a un usuario ya federado. Sirve para sembrar el primer
// owner/admin, que no puede obtener el rol por la API.
func GrantRole(ctx context.Context, st repository.Store, in GrantRoleInput) (*repository.User, error) {
	role := strings.ToLower(strings.TrimSpace(in.Role))
	roles, err := st.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	if !slices.Contains(names, role) {
		return nil, fmt.Errorf("role %q does not exist (available: %s)", in.Role, strings.Join(names, ", "))
	}

	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	u, err := st.GetByProvider(ctx, provider, strings.TrimSpace(in.SubjectID))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, fmt.Errorf("user %s:%s not found (must federate first)", in.Provider, in.SubjectID)
		}
		return nil, err
	}
	if err := st.AssignRole(ctx, u.ID, role); err != nil {
		if repository.IsNotFound(err) {
			return nil, fmt.Errorf("role %q does not exist", in.Role)
		}
		return nil, err
	}
	audit.Log(ctx, audit.EventRoleGranted, logger.UserID(u.ID), logger.Roles([]string{role}))
	return u, nil
}

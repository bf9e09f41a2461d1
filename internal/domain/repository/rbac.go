package repository

import (
	"context"
	"fmt"
	"strings"
)

// Resource es un recurso del catálogo cerrado de permisos.
type Resource string

// Action es una acción del catálogo cerrado de permisos.
type Action string

const (
	ResourceUsers         Resource = "users"
	ResourceRoles         Resource = "roles"
	ResourceMFA           Resource = "mfa"
	ResourceChallenges    Resource = "challenges"
	ResourceBilling       Resource = "billing"
	ResourceOrganizations Resource = "organizations"
)

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionManage implica todas las acciones sobre su recurso.
	ActionManage Action = "manage"
)

var (
	knownResources = map[Resource]bool{
		ResourceUsers: true, ResourceRoles: true, ResourceMFA: true,
		ResourceChallenges: true, ResourceBilling: true, ResourceOrganizations: true,
	}
	knownActions = map[Action]bool{
		ActionRead: true, ActionCreate: true, ActionUpdate: true, ActionDelete: true, ActionManage: true,
	}
)

// Permission es un par (resource, action) validado contra el catálogo.
type Permission struct {
	Resource Resource
	Action   Action
}

func (p Permission) String() string { return string(p.Resource) + ":" + string(p.Action) }

// ParsePermission valida una fila cruda del store. Normaliza a minúsculas.
func ParsePermission(resource, action string) (Permission, error) {
	r := Resource(strings.ToLower(strings.TrimSpace(resource)))
	a := Action(strings.ToLower(strings.TrimSpace(action)))
	if !knownResources[r] {
		return Permission{}, fmt.Errorf("%w: unknown resource %q", ErrInvalidInput, resource)
	}
	if !knownActions[a] {
		return Permission{}, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
	}
	return Permission{Resource: r, Action: a}, nil
}

// Grants reporta si p concede action sobre resource.
func (p Permission) Grants(resource Resource, action Action) bool {
	return p.Resource == resource && (p.Action == action || p.Action == ActionManage)
}

// Role representa un rol con sus permisos.
type Role struct {
	ID          string
	Name        string
	Description string
	Permissions []Permission
}

// Roles sembrados por la migración inicial. store/memory usa la misma tabla.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// DefaultRoles es el seed de roles/permisos.
func DefaultRoles() []Role {
	all := make([]Permission, 0, len(knownResources))
	for _, r := range []Resource{ResourceUsers, ResourceRoles, ResourceMFA, ResourceChallenges, ResourceBilling, ResourceOrganizations} {
		all = append(all, Permission{Resource: r, Action: ActionManage})
	}
	return []Role{
		{Name: RoleOwner, Description: "Organization owner", Permissions: all},
		{Name: RoleAdmin, Description: "Platform administrator", Permissions: []Permission{
			{ResourceUsers, ActionManage},
			{ResourceRoles, ActionManage},
			{ResourceMFA, ActionManage},
			{ResourceChallenges, ActionManage},
			{ResourceOrganizations, ActionRead},
			{ResourceBilling, ActionRead},
		}},
		{Name: RoleMember, Description: "Regular member", Permissions: []Permission{
			{ResourceChallenges, ActionRead},
			{ResourceChallenges, ActionCreate},
			{ResourceMFA, ActionRead},
			{ResourceOrganizations, ActionRead},
		}},
	}
}

// RBACRepository define operaciones de roles y permisos.
type RBACRepository interface {
	// GetUserRoles obtiene los nombres de rol asignados a un usuario.
	GetUserRoles(ctx context.Context, userID string) ([]string, error)

	// GetUserPermissions obtiene los permisos efectivos (unión de roles).
	// Las filas que no pasan ParsePermission se descartan.
	GetUserPermissions(ctx context.Context, userID string) ([]Permission, error)

	// AssignRole asigna un rol existente. Idempotente.
	// Retorna ErrNotFound si el rol no existe.
	AssignRole(ctx context.Context, userID, roleName string) error

	// RemoveRole quita un rol. Idempotente.
	RemoveRole(ctx context.Context, userID, roleName string) error

	// ListRoles lista los roles con sus permisos.
	ListRoles(ctx context.Context) ([]Role, error)
}

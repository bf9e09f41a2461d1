package pg

import (
	"context"
	"sort"

	"github.com/dropDatabas3/authority/internal/domain/repository"
	"github.com/dropDatabas3/authority/internal/observability/logger"
)

func (s *Store) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, mapErr(rows.Err())
}

// GetUserPermissions descarta (y loguea) filas fuera del catálogo.
func (s *Store) GetUserPermissions(ctx context.Context, userID string) ([]repository.Permission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT p.resource, p.action
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY p.resource, p.action`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []repository.Permission
	for rows.Next() {
		var res, act string
		if err := rows.Scan(&res, &act); err != nil {
			return nil, err
		}
		p, err := repository.ParsePermission(res, act)
		if err != nil {
			logger.From(ctx).Warn("dropping permission row outside catalog",
				logger.Layer("store"), logger.UserID(userID), logger.Err(err))
			continue
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) AssignRole(ctx context.Context, userID, roleName string) error {
	var roleID string
	if err := s.pool.QueryRow(ctx, `SELECT id::text FROM roles WHERE name = lower($1)`, roleName).Scan(&roleID); err != nil {
		return mapErr(err)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
		ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
	return mapErr(err)
}

func (s *Store) RemoveRole(ctx context.Context, userID, roleName string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM user_roles ur
		USING roles r
		WHERE ur.role_id = r.id AND ur.user_id = $1 AND r.name = lower($2)`, userID, roleName)
	return mapErr(err)
}

func (s *Store) ListRoles(ctx context.Context) ([]repository.Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id::text, r.name, r.description, p.resource, p.action
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		ORDER BY r.name`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	byName := map[string]*repository.Role{}
	for rows.Next() {
		var (
			id, name, desc string
			res, act       *string
		)
		if err := rows.Scan(&id, &name, &desc, &res, &act); err != nil {
			return nil, err
		}
		r, ok := byName[name]
		if !ok {
			r = &repository.Role{ID: id, Name: name, Description: desc}
			byName[name] = r
		}
		if res == nil || act == nil {
			continue
		}
		if p, err := repository.ParsePermission(*res, *act); err == nil {
			r.Permissions = append(r.Permissions, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}

	out := make([]repository.Role, 0, len(byName))
	for _, r := range byName {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

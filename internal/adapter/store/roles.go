// Package store file: internal/adapter/store/roles.go
package store

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"database/sql"
	"fmt"
	"sort"
)

const roleSelect = `SELECT r.id, r.name, r.description, r.system, r.created_at, r.updated_at,
	(SELECT COUNT(*) FROM users u WHERE u.role_id = r.id)
FROM roles r`

func scanRole(row scanner) (*domain.Role, error) {
	var (
		r                domain.Role
		system           int
		created, updated int64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &system, &created, &updated, &r.UserCount); err != nil {
		return nil, mapErr(err)
	}
	r.System = system != 0
	r.CreatedAt, r.UpdatedAt = fromUnix(created), fromUnix(updated)
	r.Permissions = []domain.Permission{}
	return &r, nil
}

// loadPermissions 为一组角色填充权限
func (s *Store) loadPermissions(ctx context.Context, roles map[int64]*domain.Role) error {
	rows, err := s.db.QueryContext(ctx, `SELECT role_id, permission FROM role_permissions ORDER BY permission`)
	if err != nil {
		return fmt.Errorf("查询角色权限失败: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			roleID int64
			perm   string
		)
		if err := rows.Scan(&roleID, &perm); err != nil {
			return err
		}
		if r, ok := roles[roleID]; ok {
			r.Permissions = append(r.Permissions, domain.Permission(perm))
		}
	}
	return rows.Err()
}

func (s *Store) writePermissions(ctx context.Context, tx *sql.Tx, roleID int64, perms []domain.Permission) error {
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM role_permissions WHERE role_id = ?`), roleID); err != nil {
		return fmt.Errorf("清除角色 %d 权限失败: %w", roleID, err)
	}
	seen := make(map[domain.Permission]struct{}, len(perms))
	for _, p := range perms {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO role_permissions (role_id, permission) VALUES (?, ?)`), roleID, string(p)); err != nil {
			return fmt.Errorf("写入角色 %d 权限 '%s' 失败: %w", roleID, p, err)
		}
	}
	return nil
}

// CreateRole 创建角色及其权限
func (s *Store) CreateRole(ctx context.Context, r *domain.Role) (int64, error) {
	now := s.now().Unix()
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.q(`
			INSERT INTO roles (name, description, system, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?) RETURNING id`),
			r.Name, r.Description, boolInt(r.System), now, now,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("创建角色 '%s' 失败: %w", r.Name, mapErr(err))
		}
		return s.writePermissions(ctx, tx, id, r.Permissions)
	})
	return id, err
}

// GetRole 按 ID 查询角色
func (s *Store) GetRole(ctx context.Context, id int64) (*domain.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, s.q(roleSelect+` WHERE r.id = ?`), id))
	if err != nil {
		return nil, err
	}
	if err := s.loadPermissions(ctx, map[int64]*domain.Role{r.ID: r}); err != nil {
		return nil, err
	}
	return r, nil
}

// GetRoleByName 按名称查询角色
func (s *Store) GetRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, s.q(roleSelect+` WHERE r.name = ?`), name))
	if err != nil {
		return nil, err
	}
	if err := s.loadPermissions(ctx, map[int64]*domain.Role{r.ID: r}); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateRole 更新角色名称、描述并整体替换权限
func (s *Store) UpdateRole(ctx context.Context, r *domain.Role) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE roles SET name = ?, description = ?, updated_at = ? WHERE id = ?`),
			r.Name, r.Description, s.now().Unix(), r.ID)
		if err != nil {
			return fmt.Errorf("更新角色 %d 失败: %w", r.ID, mapErr(err))
		}
		if err := requireAffected(res, port.ErrNotFound); err != nil {
			return err
		}
		return s.writePermissions(ctx, tx, r.ID, r.Permissions)
	})
}

// DeleteRole 删除角色
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM roles WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("删除角色 %d 失败: %w", id, err)
	}
	return requireAffected(res, port.ErrNotFound)
}

// ListRoles 按名称列出全部角色
func (s *Store) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := s.db.QueryContext(ctx, roleSelect+` ORDER BY r.name`)
	if err != nil {
		return nil, fmt.Errorf("查询角色列表失败: %w", err)
	}
	var (
		list  []*domain.Role
		index = make(map[int64]*domain.Role)
	)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, r)
		index[r.ID] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadPermissions(ctx, index); err != nil {
		return nil, err
	}

	out := make([]domain.Role, 0, len(list))
	for _, r := range list {
		sort.Slice(r.Permissions, func(i, j int) bool { return r.Permissions[i] < r.Permissions[j] })
		out = append(out, *r)
	}
	return out, nil
}

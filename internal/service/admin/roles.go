// Package admin file: internal/service/admin/roles.go
package admin

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// RoleInput 创建或更新角色的请求体
type RoleInput struct {
	Name        string              `json:"name" validate:"required,max=64"`
	Description string              `json:"description" validate:"max=256"`
	Permissions []domain.Permission `json:"permissions"`
}

// PermissionCatalog 供前端渲染权限矩阵
type PermissionCatalog struct {
	Modules []string `json:"modules"`
	Actions []string `json:"actions"`
}

// Catalog 返回全部模块和动作
func (s *Service) Catalog() PermissionCatalog {
	return PermissionCatalog{Modules: domain.AllModules, Actions: domain.AllActions}
}

// ListRoles 返回全部角色，包含用户数
func (s *Service) ListRoles(ctx context.Context) ([]domain.Role, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		if roles[i].Name == domain.AdminRole {
			roles[i].Permissions = domain.AllPermissions()
		}
	}
	return roles, nil
}

// GetRole 查询单个角色
func (s *Service) GetRole(ctx context.Context, id int64) (*domain.Role, error) {
	r, err := s.store.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Name == domain.AdminRole {
		r.Permissions = domain.AllPermissions()
	}
	return r, nil
}

func (s *Service) checkRole(in *RoleInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(*in); err != nil {
		return err
	}
	for _, p := range in.Permissions {
		if !p.Valid() {
			return fmt.Errorf("%w: 未知权限 %q", port.ErrValidation, p)
		}
	}
	return nil
}

// CreateRole 创建角色，名称重复时返回 port.ErrConflict
func (s *Service) CreateRole(ctx context.Context, actor Actor, in RoleInput) (*domain.Role, error) {
	if err := s.checkRole(&in); err != nil {
		return nil, err
	}
	id, err := s.store.CreateRole(ctx, &domain.Role{Name: in.Name, Description: in.Description, Permissions: in.Permissions})
	if err != nil {
		return nil, conflictMessage(err, "角色名已存在")
	}
	s.Record(ctx, actor, domain.AuditCreate, domain.ModuleRoles, strconv.FormatInt(id, 10), "创建角色 "+in.Name)
	return s.GetRole(ctx, id)
}

// UpdateRole 更新角色及权限，系统角色不可修改
func (s *Service) UpdateRole(ctx context.Context, actor Actor, id int64, in RoleInput) (*domain.Role, error) {
	if err := s.checkRole(&in); err != nil {
		return nil, err
	}
	r, err := s.store.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.System {
		return nil, fmt.Errorf("%w: 系统角色 '%s' 不可修改", port.ErrProtected, r.Name)
	}
	r.Name, r.Description, r.Permissions = in.Name, in.Description, in.Permissions
	if err := s.store.UpdateRole(ctx, r); err != nil {
		return nil, conflictMessage(err, "角色名已存在")
	}
	s.perms.Invalidate(id)
	s.Record(ctx, actor, domain.AuditUpdate, domain.ModuleRoles, strconv.FormatInt(id, 10), "更新角色 "+r.Name)
	return s.GetRole(ctx, id)
}

// DeleteRole 删除角色。系统角色不可删除，仍有用户的角色返回冲突。
func (s *Service) DeleteRole(ctx context.Context, actor Actor, id int64) error {
	r, err := s.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if r.System {
		return fmt.Errorf("%w: 系统角色 '%s' 不可删除", port.ErrProtected, r.Name)
	}
	if r.UserCount > 0 {
		return fmt.Errorf("%w: 角色 '%s' 仍有 %d 个用户", port.ErrConflict, r.Name, r.UserCount)
	}
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.perms.Invalidate(id)
	s.Record(ctx, actor, domain.AuditDelete, domain.ModuleRoles, strconv.FormatInt(id, 10), "删除角色 "+r.Name)
	return nil
}

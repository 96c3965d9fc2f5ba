// Package admin file: internal/service/admin/users.go
package admin

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"ERPAdmin/internal/service/auth"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// UserInput 创建或更新用户的请求体。更新时 Password 被忽略。
type UserInput struct {
	Username string `json:"username" validate:"required,max=64"`
	Email    string `json:"email" validate:"omitempty,email"`
	FullName string `json:"fullName" validate:"max=128"`
	RoleID   int64  `json:"roleId" validate:"required,gt=0"`
	Password string `json:"password" validate:"omitempty,min=8"`
	Active   *bool  `json:"active"`
}

func (in *UserInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
}

// ListUsers 分页查询用户
func (s *Service) ListUsers(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error) {
	return s.store.ListUsers(ctx, q)
}

// GetUser 查询单个用户
func (s *Service) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return s.store.GetUser(ctx, id)
}

// CreateUser 创建用户，用户名或邮箱重复时返回 port.ErrConflict
func (s *Service) CreateUser(ctx context.Context, actor Actor, in UserInput) (*domain.User, error) {
	in.normalize()
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password is required", port.ErrValidation)
	}
	if err := s.check(in); err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, in.RoleID); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &domain.User{
		Username:     in.Username,
		Email:        in.Email,
		FullName:     in.FullName,
		RoleID:       in.RoleID,
		Active:       in.Active == nil || *in.Active,
		PasswordHash: hash,
	}
	id, err := s.store.CreateUser(ctx, u)
	if err != nil {
		return nil, conflictMessage(err, "用户名或邮箱已存在")
	}
	s.Record(ctx, actor, domain.AuditCreate, domain.ModuleUsers, strconv.FormatInt(id, 10), "创建用户 "+u.Username)
	return s.store.GetUser(ctx, id)
}

// UpdateUser 更新用户资料。停用用户会吊销其所有刷新令牌。
func (s *Service) UpdateUser(ctx context.Context, actor Actor, id int64, in UserInput) (*domain.User, error) {
	in.normalize()
	in.Password = ""
	if err := s.check(in); err != nil {
		return nil, err
	}
	if id == actor.UserID && in.Active != nil && !*in.Active {
		return nil, fmt.Errorf("%w: 不能停用当前登录用户", port.ErrValidation)
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, in.RoleID); err != nil {
		return nil, err
	}

	u.Username, u.Email, u.FullName, u.RoleID = in.Username, in.Email, in.FullName, in.RoleID
	if in.Active != nil {
		u.Active = *in.Active
	}
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, conflictMessage(err, "用户名或邮箱已存在")
	}
	if !u.Active {
		if err := s.store.RevokeUserTokens(ctx, id, s.now()); err != nil {
			return nil, fmt.Errorf("吊销用户 %d 的令牌失败: %w", id, err)
		}
	}
	s.Record(ctx, actor, domain.AuditUpdate, domain.ModuleUsers, strconv.FormatInt(id, 10), "更新用户 "+u.Username)
	return s.store.GetUser(ctx, id)
}

// DeleteUser 删除用户，不允许删除自己
func (s *Service) DeleteUser(ctx context.Context, actor Actor, id int64) error {
	if id == actor.UserID {
		return fmt.Errorf("%w: 不能删除当前登录用户", port.ErrValidation)
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.Record(ctx, actor, domain.AuditDelete, domain.ModuleUsers, strconv.FormatInt(id, 10), "删除用户 "+u.Username)
	return nil
}

// ResetPassword 重置密码并使现有会话失效
func (s *Service) ResetPassword(ctx context.Context, actor Actor, id int64, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.SetPassword(ctx, id, hash); err != nil {
		return err
	}
	if err := s.store.RevokeUserTokens(ctx, id, s.now()); err != nil {
		return fmt.Errorf("吊销用户 %d 的令牌失败: %w", id, err)
	}
	s.Record(ctx, actor, domain.AuditUpdate, domain.ModuleUsers, strconv.FormatInt(id, 10), "重置密码")
	return nil
}

func (s *Service) requireRole(ctx context.Context, roleID int64) error {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return fmt.Errorf("%w: 角色 %d 不存在", port.ErrValidation, roleID)
		}
		return err
	}
	return nil
}

// conflictMessage 为唯一约束冲突附上可展示的消息
func conflictMessage(err error, msg string) error {
	if errors.Is(err, port.ErrConflict) {
		return fmt.Errorf("%w: %s", port.ErrConflict, msg)
	}
	return err
}

// Package auth file: internal/service/auth/bootstrap.go
package auth

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// NeedsSetup 系统库中没有任何用户时返回 true
func (s *Service) NeedsSetup(ctx context.Context) (bool, error) {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("统计用户数量失败: %w", err)
	}
	return n == 0, nil
}

// Bootstrap 在首次启动时准备初始管理员。
// 配置了账号密码则直接创建；否则生成 30 分钟有效的安装令牌并写入日志。
func (s *Service) Bootstrap(ctx context.Context, username, password string) error {
	needs, err := s.NeedsSetup(ctx)
	if err != nil {
		return err
	}
	if !needs {
		return nil
	}
	if username != "" && password != "" {
		if _, err := s.createAdmin(ctx, username, password); err != nil {
			return fmt.Errorf("创建初始管理员失败: %w", err)
		}
		slog.Info("已根据配置创建初始管理员", "username", username)
		return nil
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("生成安装令牌失败: %w", err)
	}
	s.setupMu.Lock()
	s.setupToken = hex.EncodeToString(b)
	s.setupDeadline = s.now().Add(setupTokenTTL)
	token := s.setupToken
	s.setupMu.Unlock()

	slog.Warn("系统中无管理员，安装令牌已生成 (30分钟内有效)", "setup_token", token)
	return nil
}

// Setup 使用安装令牌创建第一个管理员并直接登录
func (s *Service) Setup(ctx context.Context, token, username, password, ip string) (*domain.Session, error) {
	needs, err := s.NeedsSetup(ctx)
	if err != nil {
		return nil, err
	}
	if !needs {
		return nil, fmt.Errorf("%w: 系统已存在管理员账户，无法重复设置", port.ErrConflict)
	}

	s.setupMu.Lock()
	valid := s.setupToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(s.setupToken)) == 1 &&
		s.now().Before(s.setupDeadline)
	if valid {
		s.setupToken = ""
	}
	s.setupMu.Unlock()
	if !valid {
		return nil, fmt.Errorf("%w: 无效或过期的安装令牌", port.ErrValidation)
	}

	u, err := s.createAdmin(ctx, username, password)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, u, domain.AuditCreate, ip, "首次安装创建管理员")
	return s.newSession(ctx, u)
}

func (s *Service) createAdmin(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: 用户名不能为空", port.ErrValidation)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	role, err := s.store.GetRoleByName(ctx, domain.AdminRole)
	if err != nil {
		return nil, fmt.Errorf("查询管理员角色失败: %w", err)
	}
	id, err := s.store.CreateUser(ctx, &domain.User{
		Username:     username,
		FullName:     "Administrator",
		RoleID:       role.ID,
		Active:       true,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, id)
}

// Package auth file: internal/service/auth/service.go
package auth

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"ERPAdmin/internal/erpobserve"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 默认有效期
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultInviteTTL  = 72 * time.Hour
	setupTokenTTL     = 30 * time.Minute
)

// Store 是认证服务需要的持久化能力
type Store interface {
	port.UserStore
	port.RoleStore
	port.TokenStore
	port.InviteStore
	port.AuditStore
}

// PermissionResolver 按角色解析权限集合
type PermissionResolver interface {
	Permissions(ctx context.Context, roleID int64) ([]domain.Permission, error)
}

// ResolverFunc 让普通函数满足 PermissionResolver
type ResolverFunc func(ctx context.Context, roleID int64) ([]domain.Permission, error)

// Permissions 实现 PermissionResolver
func (f ResolverFunc) Permissions(ctx context.Context, roleID int64) ([]domain.Permission, error) {
	return f(ctx, roleID)
}

// Config 认证服务配置
type Config struct {
	Secret     string        `mapstructure:"jwt_secret"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
	InviteTTL  time.Duration `mapstructure:"invite_ttl"`
}

// Service 负责登录、令牌轮换、邀请注册和首次安装
type Service struct {
	store  Store
	perms  PermissionResolver
	signer signer

	refreshTTL time.Duration
	inviteTTL  time.Duration
	now        func() time.Time

	setupMu       sync.Mutex
	setupToken    string
	setupDeadline time.Time
}

// New 创建认证服务，密钥为空时返回错误
func New(store Store, perms PermissionResolver, cfg Config) (*Service, error) {
	if store == nil || perms == nil {
		return nil, errors.New("auth.New: store 和 perms 不能为 nil")
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth.New: JWT 密钥不能为空")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = DefaultInviteTTL
	}
	return &Service{
		store:      store,
		perms:      perms,
		signer:     signer{key: []byte(cfg.Secret), ttl: cfg.AccessTTL},
		refreshTTL: cfg.RefreshTTL,
		inviteTTL:  cfg.InviteTTL,
		now:        time.Now,
	}, nil
}

// ParseAccessToken 校验访问令牌
func (s *Service) ParseAccessToken(token string) (*Claim, error) {
	return s.signer.parse(token, s.now())
}

// Login 校验用户名密码并签发令牌对。
// 用户不存在与密码错误返回同一个错误。
func (s *Service) Login(ctx context.Context, username, password, ip string) (*domain.Session, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			erpobserve.LoginTotal.WithLabelValues("failure").Inc()
			return nil, port.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("查询用户 '%s' 失败: %w", username, err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		erpobserve.LoginTotal.WithLabelValues("failure").Inc()
		slog.Info("登录失败: 密码错误", "username", u.Username, "ip", ip)
		return nil, port.ErrInvalidCredentials
	}
	if !u.Active {
		erpobserve.LoginTotal.WithLabelValues("inactive").Inc()
		return nil, fmt.Errorf("%w: 账户已停用", port.ErrForbidden)
	}

	now := s.now()
	if err := s.store.TouchLogin(ctx, u.ID, now); err != nil {
		slog.Warn("更新最后登录时间失败", "user_id", u.ID, "error", err)
	}
	u.LastLoginAt = now

	session, err := s.newSession(ctx, u)
	if err != nil {
		return nil, err
	}
	erpobserve.LoginTotal.WithLabelValues("success").Inc()
	s.audit(ctx, u, domain.AuditLogin, ip, "用户登录")
	return session, nil
}

// Refresh 消费一个刷新令牌并签发新的令牌对，旧令牌立即失效
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	if refreshToken == "" {
		erpobserve.TokenRefreshTotal.WithLabelValues("rejected").Inc()
		return nil, port.ErrInvalidRefreshToken
	}
	now := s.now()
	stored, err := s.store.ConsumeRefreshToken(ctx, hashToken(refreshToken), now)
	if err != nil {
		erpobserve.TokenRefreshTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	u, err := s.store.GetUser(ctx, stored.UserID)
	if err != nil {
		erpobserve.TokenRefreshTotal.WithLabelValues("rejected").Inc()
		if errors.Is(err, port.ErrNotFound) {
			return nil, port.ErrInvalidRefreshToken
		}
		return nil, err
	}
	if !u.Active {
		erpobserve.TokenRefreshTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: 账户已停用", port.ErrInvalidRefreshToken)
	}
	pair, err := s.issue(ctx, u)
	if err != nil {
		return nil, err
	}
	erpobserve.TokenRefreshTotal.WithLabelValues("success").Inc()
	return pair, nil
}

// Logout 吊销刷新令牌，令牌不存在也视为成功
func (s *Service) Logout(ctx context.Context, claim *Claim, refreshToken, ip string) error {
	if refreshToken != "" {
		if err := s.store.RevokeRefreshToken(ctx, hashToken(refreshToken), s.now()); err != nil {
			return fmt.Errorf("吊销刷新令牌失败: %w", err)
		}
	}
	if claim != nil {
		s.audit(ctx, &domain.User{ID: claim.ID, Username: claim.Username}, domain.AuditLogout, ip, "用户登出")
	}
	return nil
}

// Me 返回当前用户资料和权限
func (s *Service) Me(ctx context.Context, userID int64) (*domain.UserProfile, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.profile(ctx, u)
}

// RegisterInput 邀请注册请求
type RegisterInput struct {
	Token    string `json:"token" binding:"required"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"fullName"`
}

// Register 使用邀请创建账户。角色与邮箱取自邀请，邀请只能使用一次。
func (s *Service) Register(ctx context.Context, in RegisterInput, ip string) (*domain.Session, error) {
	now := s.now()
	inv, err := s.store.GetInviteByToken(ctx, in.Token)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return nil, port.ErrInviteInvalid
		}
		return nil, err
	}
	if !inv.Usable(now) {
		return nil, port.ErrInviteInvalid
	}
	if strings.TrimSpace(in.Username) == "" {
		return nil, fmt.Errorf("%w: 用户名不能为空", port.ErrValidation)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &domain.User{
		Username:     strings.TrimSpace(in.Username),
		Email:        inv.Email,
		FullName:     in.FullName,
		RoleID:       inv.RoleID,
		Active:       true,
		PasswordHash: hash,
	}
	id, err := s.store.CreateUser(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("注册用户 '%s' 失败: %w", u.Username, err)
	}
	if err := s.store.MarkInviteUsed(ctx, inv.ID, now); err != nil {
		// 邀请已被并发使用，撤销刚创建的账户
		if delErr := s.store.DeleteUser(ctx, id); delErr != nil {
			slog.Error("回滚注册用户失败", "user_id", id, "error", delErr)
		}
		return nil, err
	}

	created, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, created, domain.AuditCreate, ip, "通过邀请注册")
	return s.newSession(ctx, created)
}

// CreateInvite 为指定邮箱和角色生成邀请
func (s *Service) CreateInvite(ctx context.Context, actor *Claim, email string, roleID int64, ip string) (*domain.Invite, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: 邮箱不能为空", port.ErrValidation)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return nil, fmt.Errorf("%w: 角色 %d 不存在", port.ErrValidation, roleID)
		}
		return nil, err
	}

	now := s.now()
	inv := &domain.Invite{
		Token:     uuid.NewString(),
		Email:     email,
		RoleID:    role.ID,
		RoleName:  role.Name,
		ExpiresAt: now.Add(s.inviteTTL),
		CreatedAt: now,
	}
	if actor != nil {
		inv.CreatedBy = actor.ID
	}
	id, err := s.store.CreateInvite(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("创建邀请失败: %w", err)
	}
	inv.ID = id
	if actor != nil {
		s.audit(ctx, &domain.User{ID: actor.ID, Username: actor.Username}, domain.AuditCreate, ip, "邀请 "+email)
	}
	return inv, nil
}

// GetInvite 返回一个仍可使用的邀请，否则返回 port.ErrNotFound
func (s *Service) GetInvite(ctx context.Context, token string) (*domain.Invite, error) {
	inv, err := s.store.GetInviteByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !inv.Usable(s.now()) {
		return nil, fmt.Errorf("%w: %v", port.ErrNotFound, port.ErrInviteInvalid)
	}
	return inv, nil
}

// newSession 签发令牌对并附带用户资料
func (s *Service) newSession(ctx context.Context, u *domain.User) (*domain.Session, error) {
	pair, err := s.issue(ctx, u)
	if err != nil {
		return nil, err
	}
	profile, err := s.profile(ctx, u)
	if err != nil {
		return nil, err
	}
	return &domain.Session{TokenPair: *pair, User: *profile}, nil
}

// issue 签发访问令牌并持久化新的刷新令牌
func (s *Service) issue(ctx context.Context, u *domain.User) (*domain.TokenPair, error) {
	now := s.now()
	access, expires, err := s.signer.sign(Claim{ID: u.ID, Username: u.Username, Role: u.RoleName, RoleID: u.RoleID}, now)
	if err != nil {
		return nil, err
	}
	plain, hash, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveRefreshToken(ctx, &domain.RefreshToken{
		UserID:    u.ID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("保存刷新令牌失败: %w", err)
	}
	return &domain.TokenPair{AccessToken: access, RefreshToken: plain, ExpiresAt: expires}, nil
}

func (s *Service) profile(ctx context.Context, u *domain.User) (*domain.UserProfile, error) {
	perms, err := s.perms.Permissions(ctx, u.RoleID)
	if err != nil {
		return nil, fmt.Errorf("解析用户 %d 的权限失败: %w", u.ID, err)
	}
	if perms == nil {
		perms = []domain.Permission{}
	}
	return &domain.UserProfile{User: *u, Permissions: perms}, nil
}

// audit 写审计日志，失败只记录不影响主流程
func (s *Service) audit(ctx context.Context, u *domain.User, action, ip, summary string) {
	err := s.store.AppendAudit(ctx, &domain.AuditEntry{
		UserID:    u.ID,
		Username:  u.Username,
		Action:    action,
		Module:    domain.ModuleUsers,
		RecordID:  strconv.FormatInt(u.ID, 10),
		Summary:   summary,
		IP:        ip,
		CreatedAt: s.now(),
	})
	if err != nil {
		slog.Warn("写入审计日志失败", "action", action, "user_id", u.ID, "error", err)
	}
}

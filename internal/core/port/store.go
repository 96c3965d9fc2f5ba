// Package port file: internal/core/port/store.go
package port

import (
	"ERPAdmin/internal/core/domain"
	"context"
	"time"
)

// UserStore 用户持久化
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) (int64, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateUser(ctx context.Context, u *domain.User) error
	SetPassword(ctx context.Context, id int64, hash string) error
	TouchLogin(ctx context.Context, id int64, at time.Time) error
	DeleteUser(ctx context.Context, id int64) error
	CountUsers(ctx context.Context) (int64, error)
	ListUsers(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error)
}

// RoleStore 角色与权限持久化
type RoleStore interface {
	CreateRole(ctx context.Context, r *domain.Role) (int64, error)
	GetRole(ctx context.Context, id int64) (*domain.Role, error)
	GetRoleByName(ctx context.Context, name string) (*domain.Role, error)
	UpdateRole(ctx context.Context, r *domain.Role) error
	DeleteRole(ctx context.Context, id int64) error
	ListRoles(ctx context.Context) ([]domain.Role, error)
}

// DeviceStore 设备持久化
type DeviceStore interface {
	CreateDevice(ctx context.Context, d *domain.Device) (int64, error)
	GetDevice(ctx context.Context, id int64) (*domain.Device, error)
	UpdateDevice(ctx context.Context, d *domain.Device) error
	DeleteDevice(ctx context.Context, id int64) error
	ListDevices(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error)
}

// AuditStore 审计日志持久化
type AuditStore interface {
	AppendAudit(ctx context.Context, e *domain.AuditEntry) error
	ListAudit(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error)
}

// TokenStore 刷新令牌持久化
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, t *domain.RefreshToken) error
	// ConsumeRefreshToken 原子地吊销并返回一个有效的刷新令牌
	ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) (*domain.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, hash string, now time.Time) error
	RevokeUserTokens(ctx context.Context, userID int64, now time.Time) error
}

// InviteStore 邀请持久化
type InviteStore interface {
	CreateInvite(ctx context.Context, inv *domain.Invite) (int64, error)
	GetInviteByToken(ctx context.Context, token string) (*domain.Invite, error)
	MarkInviteUsed(ctx context.Context, id int64, at time.Time) error
}

// ERPStore 是 ERP 系统库的完整能力集合
type ERPStore interface {
	UserStore
	RoleStore
	DeviceStore
	AuditStore
	TokenStore
	InviteStore

	Ping(ctx context.Context) error
	Close() error
}

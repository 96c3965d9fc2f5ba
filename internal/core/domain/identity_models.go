// Package domain file: internal/core/domain/identity_models.go
package domain

import (
	"sort"
	"strings"
	"time"
)

// 权限模块
const (
	ModuleUsers   = "users"
	ModuleRoles   = "roles"
	ModuleDevices = "devices"
	ModuleAudit   = "audit"
	ModulePOS     = "pos"
)

// 权限动作
const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionEdit   = "edit"
	ActionDelete = "delete"
)

var (
	AllModules = []string{ModuleUsers, ModuleRoles, ModuleDevices, ModuleAudit, ModulePOS}
	AllActions = []string{ActionView, ActionCreate, ActionEdit, ActionDelete}
)

// AdminRole 是内置的超级角色，拥有全部权限且不可删除
const AdminRole = "admin"

// Permission 形如 "users:create"
type Permission string

// NewPermission 拼接模块与动作
func NewPermission(module, action string) Permission {
	return Permission(module + ":" + action)
}

// Valid 判断权限是否属于已知模块和动作
func (p Permission) Valid() bool {
	module, action, ok := strings.Cut(string(p), ":")
	if !ok {
		return false
	}
	return contains(AllModules, module) && contains(AllActions, action)
}

// AllPermissions 返回全部权限，按字典序排列
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(AllModules)*len(AllActions))
	for _, m := range AllModules {
		for _, a := range AllActions {
			out = append(out, NewPermission(m, a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Role 角色
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
	UserCount   int          `json:"userCount"`
	System      bool         `json:"system"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// User 管理后台用户。PasswordHash 永远不会序列化输出。
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName"`
	RoleID       int64     `json:"roleId"`
	RoleName     string    `json:"role"`
	Active       bool      `json:"active"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastLoginAt  time.Time `json:"lastLoginAt,omitempty"`
}

// UserProfile 是 /auth/me 的返回体
type UserProfile struct {
	User
	Permissions []Permission `json:"permissions"`
}

// Device POS 终端设备
type Device struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Serial    string    `json:"serial"`
	Location  string    `json:"location"`
	SourceID  string    `json:"sourceId"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// 审计动作
const (
	AuditCreate = "CREATE"
	AuditUpdate = "UPDATE"
	AuditDelete = "DELETE"
	AuditLogin  = "LOGIN"
	AuditLogout = "LOGOUT"
	AuditExport = "EXPORT"
)

// AuditEntry 一条审计日志
type AuditEntry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	Module    string    `json:"module"`
	RecordID  string    `json:"recordId"`
	Summary   string    `json:"summary"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"createdAt"`
}

// Invite 注册邀请
type Invite struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	RoleID    int64     `json:"roleId"`
	RoleName  string    `json:"role"`
	CreatedBy int64     `json:"createdBy"`
	ExpiresAt time.Time `json:"expiresAt"`
	UsedAt    time.Time `json:"usedAt,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Usable 判断邀请是否仍可使用
func (i Invite) Usable(now time.Time) bool {
	return i.UsedAt.IsZero() && now.Before(i.ExpiresAt)
}

// RefreshToken 刷新令牌的存储形态，只保存哈希
type RefreshToken struct {
	ID        int64
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	RevokedAt time.Time
	CreatedAt time.Time
}

// TokenPair 登录或刷新后返回的令牌对
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Session 登录成功的完整返回
type Session struct {
	TokenPair
	User UserProfile `json:"user"`
}

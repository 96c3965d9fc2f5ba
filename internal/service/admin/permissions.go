// Package admin file: internal/service/admin/permissions.go
package admin

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// PermissionCache 缓存角色到权限集合的映射。
// admin 角色始终拥有全部权限，与数据库中的记录无关。
type PermissionCache struct {
	roles port.RoleStore
	cache *lru.LRU[int64, []domain.Permission]
}

// NewPermissionCache 创建一个带过期时间的 LRU 权限缓存
func NewPermissionCache(roles port.RoleStore, maxEntries int, ttl time.Duration) *PermissionCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PermissionCache{
		roles: roles,
		cache: lru.NewLRU[int64, []domain.Permission](maxEntries, nil, ttl),
	}
}

// Permissions 返回角色的权限集合
func (p *PermissionCache) Permissions(ctx context.Context, roleID int64) ([]domain.Permission, error) {
	if perms, ok := p.cache.Get(roleID); ok {
		return perms, nil
	}
	role, err := p.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("加载角色 %d 失败: %w", roleID, err)
	}
	perms := role.Permissions
	if role.Name == domain.AdminRole {
		perms = domain.AllPermissions()
	}
	p.cache.Add(roleID, perms)
	return perms, nil
}

// Has 判断角色是否拥有某个权限
func (p *PermissionCache) Has(ctx context.Context, roleID int64, perm domain.Permission) (bool, error) {
	perms, err := p.Permissions(ctx, roleID)
	if err != nil {
		return false, err
	}
	for _, have := range perms {
		if have == perm {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate 角色变更后调用
func (p *PermissionCache) Invalidate(roleID int64) {
	p.cache.Remove(roleID)
	log.Printf("信息: [PermissionCache] 角色 %d 的权限缓存已失效。", roleID)
}

// Purge 清除所有缓存
func (p *PermissionCache) Purge() {
	p.cache.Purge()
}

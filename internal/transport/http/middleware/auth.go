package middleware

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"ERPAdmin/internal/service/auth"
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenParser 校验访问令牌
type TokenParser interface {
	ParseAccessToken(token string) (*auth.Claim, error)
}

// UserLookup 读取令牌对应的当前用户
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
}

// Authenticate 校验 Bearer 令牌。
// 缺少令牌返回 401；令牌无效或过期返回 403，客户端据此刷新令牌。
func Authenticate(tokens TokenParser, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			abort(c, port.ErrUnauthorized)
			return
		}
		claim, err := tokens.ParseAccessToken(raw)
		if err != nil {
			abort(c, err)
			return
		}

		// 角色或状态可能在令牌签发后变化，以数据库为准
		u, err := users.GetUser(c.Request.Context(), claim.ID)
		if err != nil {
			if errors.Is(err, port.ErrNotFound) {
				abort(c, fmt.Errorf("%w: 用户不存在", port.ErrInvalidToken))
				return
			}
			abort(c, err)
			return
		}
		if !u.Active {
			log.Printf("Authenticate: 访问被拒绝 (用户 '%s' 已停用)。路径: %s, IP: %s", u.Username, c.Request.URL.Path, c.ClientIP())
			abort(c, fmt.Errorf("%w: 账户已停用", port.ErrForbidden))
			return
		}
		claim.RoleID = u.RoleID
		claim.Role = u.RoleName
		claim.Username = u.Username

		c.Request = c.Request.WithContext(auth.ContextWithClaim(c.Request.Context(), claim))
		c.Next()
	}
}

// RequirePermission 要求当前用户的角色拥有 module:action 权限
func RequirePermission(perms auth.PermissionResolver, module, action string) gin.HandlerFunc {
	want := domain.NewPermission(module, action)
	return func(c *gin.Context) {
		claim := auth.ClaimFrom(c.Request.Context())
		if claim == nil {
			abort(c, port.ErrUnauthorized)
			return
		}
		granted, err := perms.Permissions(c.Request.Context(), claim.RoleID)
		if err != nil {
			abort(c, err)
			return
		}
		if !slices.Contains(granted, want) {
			log.Printf("RequirePermission: 访问被拒绝 (用户 '%d' 角色 '%s' 缺少 %s)。路径: %s", claim.ID, claim.Role, want, c.Request.URL.Path)
			abort(c, fmt.Errorf("%w: 缺少权限 %s", port.ErrForbidden, want))
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// abort 附加错误并中止，由 ErrorHandlingMiddleware 写出响应
func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

package router

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"ERPAdmin/internal/service/admin"
	"ERPAdmin/internal/service/auth"
	"ERPAdmin/internal/service/browse"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// tableQuery 从 page、limit、search、sortBy、sortOrder 参数构造查询并补全默认值
func tableQuery(c *gin.Context, table string) (domain.TableQuery, error) {
	q := domain.TableQuery{
		Table:     table,
		Search:    strings.TrimSpace(c.Query("search")),
		SortField: strings.TrimSpace(c.Query("sortBy")),
	}
	var err error
	if q.Page, err = intQuery(c, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = intQuery(c, "limit"); err != nil {
		return q, err
	}
	if q.SortDir, err = domain.ParseSortDir(c.Query("sortOrder")); err != nil {
		return q, fmt.Errorf("%w: %v", port.ErrValidation, err)
	}
	return browse.Normalize(q)
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: 参数 %s 必须是整数", port.ErrValidation, key)
	}
	return n, nil
}

func idParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: 无效的 ID '%s'", port.ErrValidation, c.Param("id"))
	}
	return id, nil
}

// bindJSON 绑定请求体，失败时归入参数校验错误
func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return fmt.Errorf("%w: 无效的请求体: %v", port.ErrValidation, err)
	}
	return nil
}

// actorFrom 从已认证的请求中构造审计主体
func actorFrom(c *gin.Context) admin.Actor {
	a := admin.Actor{IP: c.ClientIP()}
	if claim := auth.ClaimFrom(c.Request.Context()); claim != nil {
		a.UserID = claim.ID
		a.Username = claim.Username
	}
	return a
}

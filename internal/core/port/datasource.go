// Package port file: internal/core/port/datasource.go
package port

import (
	"ERPAdmin/internal/core/domain"
	"context"
	"errors"
)

// Standard errors
var (
	ErrNotFound            = errors.New("记录不存在")
	ErrConflict            = errors.New("记录已存在或存在冲突")
	ErrValidation          = errors.New("请求参数无效")
	ErrUnauthorized        = errors.New("需要认证")
	ErrForbidden           = errors.New("权限不足，操作被拒绝")
	ErrProtected           = errors.New("系统内置记录不可修改")
	ErrInvalidCredentials  = errors.New("Invalid credentials")
	ErrInvalidToken        = errors.New("无效或已过期的访问令牌")
	ErrInvalidRefreshToken = errors.New("无效或已过期的刷新令牌")
	ErrInviteInvalid       = errors.New("邀请不存在、已使用或已过期")
	ErrSourceNotFound      = errors.New("指定的数据源未找到")
	ErrTableNotFound       = errors.New("在数据源目录中未找到指定的表")
	ErrInvalidSortField    = errors.New("排序字段无效")
	ErrInvalidPageSize     = errors.New("页大小必须是 25、50、100 或 200 之一")
	ErrSourceUnavailable   = errors.New("数据源暂不可用")
)

// IsValidation 判断错误是否属于参数校验类
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidPageSize)
}

// DataSource 是一个可浏览的 POS 数据源。
type DataSource interface {
	// ID 返回配置中的数据源标识
	ID() string

	// Info 返回对外展示的摘要
	Info() domain.SourceInfo

	// Tables 返回目录中可浏览的表
	Tables() []domain.TableSpec

	// QueryTable 执行一次分页、排序、搜索查询
	QueryTable(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error)

	// Probe 检查连通性并返回连接池统计
	Probe(ctx context.Context) (map[string]float64, error)

	// Close 释放连接池
	Close() error
}

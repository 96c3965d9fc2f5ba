// Package browse 实现 POS 数据表的只读浏览与导出。
package browse

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"ERPAdmin/internal/service/export"
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Registry 是数据源注册表的只读视图
type Registry interface {
	Get(id string) (port.DataSource, error)
	Infos() []domain.SourceInfo
}

// Service 表浏览服务
type Service struct {
	registry Registry
}

// New 创建表浏览服务
func New(registry Registry) *Service {
	return &Service{registry: registry}
}

// ListSources 按配置顺序返回数据源
func (s *Service) ListSources() []domain.SourceInfo {
	infos := s.registry.Infos()
	if infos == nil {
		return []domain.SourceInfo{}
	}
	return infos
}

// ListTables 返回数据源的表目录
func (s *Service) ListTables(sourceID string) ([]domain.TableSpec, error) {
	src, err := s.registry.Get(sourceID)
	if err != nil {
		return nil, err
	}
	return src.Tables(), nil
}

// Normalize 补全默认值并校验分页参数
func Normalize(q domain.TableQuery) (domain.TableQuery, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = domain.DefaultPageSize
	}
	if q.Page < 1 {
		return q, fmt.Errorf("%w: page 必须 >= 1", port.ErrValidation)
	}
	if !domain.ValidPageSize(q.PageSize) {
		return q, port.ErrInvalidPageSize
	}
	if q.Page > domain.MaxPage(q.PageSize) {
		return q, fmt.Errorf("%w: page 超出范围", port.ErrValidation)
	}
	if q.SortDir == "" {
		q.SortDir = domain.SortAsc
	}
	return q, nil
}

// Browse 读取一页数据
func (s *Service) Browse(ctx context.Context, sourceID string, q domain.TableQuery) (*domain.TablePage, error) {
	q, err := Normalize(q)
	if err != nil {
		return nil, err
	}
	src, err := s.registry.Get(sourceID)
	if err != nil {
		return nil, err
	}
	return src.QueryTable(ctx, q)
}

// Export 把全部匹配行写入 w，返回写出的行数
func (s *Service) Export(ctx context.Context, w io.Writer, sourceID string, q domain.TableQuery, f export.Format) (int, error) {
	src, err := s.registry.Get(sourceID)
	if err != nil {
		return 0, err
	}
	if q.SortDir == "" {
		q.SortDir = domain.SortAsc
	}
	table, err := export.Collect(ctx, src.QueryTable, q)
	if err != nil {
		return 0, err
	}
	if table.Truncated {
		slog.Warn("导出结果已截断", "source", sourceID, "table", q.Table, "max_rows", export.MaxRows)
	}
	if err := export.Write(w, f, q.Table, table); err != nil {
		return 0, fmt.Errorf("写出导出文件失败: %w", err)
	}
	return len(table.Rows), nil
}

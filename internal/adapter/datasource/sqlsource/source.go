// Package sqlsource 实现基于 SQL 数据库的 POS 数据源适配器。
// internal/adapter/datasource/sqlsource/source.go
package sqlsource

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// 断言 *Source 实现 port.DataSource 接口，编译期校验
var _ port.DataSource = (*Source)(nil)

// Source 是单个 POS 数据库的适配器，持有一个连接池和一份表目录。
type Source struct {
	info    domain.SourceInfo
	dialect Dialect
	exec    executor

	tables map[string]domain.TableSpec
	order  []string
}

func newSource(info domain.SourceInfo, d Dialect, exec executor, tables []domain.TableSpec) *Source {
	s := &Source{
		info:    info,
		dialect: d,
		exec:    exec,
		tables:  make(map[string]domain.TableSpec, len(tables)),
		order:   make([]string, 0, len(tables)),
	}
	for _, t := range tables {
		if _, dup := s.tables[t.Name]; dup {
			continue
		}
		s.tables[t.Name] = t
		s.order = append(s.order, t.Name)
	}
	return s
}

// NewSQL 基于 database/sql 连接池创建数据源 (sqlite, sqlserver)
func NewSQL(id, name string, d Dialect, db *sql.DB, tables []domain.TableSpec) *Source {
	return newSource(domain.SourceInfo{ID: id, Name: name, Driver: string(d)}, d, &sqlExecutor{db: db}, tables)
}

// NewPgx 基于 pgxpool 创建 Postgres 数据源
func NewPgx(id, name string, pool *pgxpool.Pool, tables []domain.TableSpec) *Source {
	return newSource(domain.SourceInfo{ID: id, Name: name, Driver: string(Postgres)}, Postgres, &pgxExecutor{pool: pool}, tables)
}

// ID 实现 port.DataSource
func (s *Source) ID() string { return s.info.ID }

// Info 实现 port.DataSource
func (s *Source) Info() domain.SourceInfo { return s.info }

// Tables 按配置顺序返回表目录
func (s *Source) Tables() []domain.TableSpec {
	out := make([]domain.TableSpec, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tables[name])
	}
	return out
}

// QueryTable 先计数再取数据。页码超出总页数时不执行数据查询，返回空行和正确的总数。
func (s *Source) QueryTable(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error) {
	spec, ok := s.tables[q.Table]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", port.ErrTableNotFound, s.info.ID, q.Table)
	}

	dataSQL, dataArgs, err := buildQuerySQL(s.dialect, spec, q)
	if err != nil {
		return nil, err
	}
	countSQL, countArgs, err := buildCountSQL(s.dialect, spec, q.Search)
	if err != nil {
		return nil, err
	}

	total, err := s.exec.count(ctx, countSQL, countArgs)
	if err != nil {
		err = fmt.Errorf("计算数据源 '%s' 表 '%s' 总数失败: %w", s.info.ID, spec.Name, err)
		slog.Warn("表查询失败", "source", s.info.ID, "table", spec.Name, "error", err)
		return nil, err
	}
	totalPages := domain.TotalPages(total, q.PageSize)

	var (
		columns []string
		rows    []map[string]any
	)
	if q.Page <= totalPages {
		columns, rows, err = s.exec.queryRows(ctx, dataSQL, dataArgs)
		if err != nil {
			err = fmt.Errorf("查询数据源 '%s' 表 '%s' 失败: %w", s.info.ID, spec.Name, err)
			slog.Warn("表查询失败", "source", s.info.ID, "table", spec.Name, "error", err)
			return nil, err
		}
	}

	if rows == nil {
		rows = []map[string]any{}
	}
	return &domain.TablePage{
		Rows:    rows,
		Columns: columns,
		Pagination: domain.Pagination{
			Page:       q.Page,
			Limit:      q.PageSize,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

// Probe 检查连通性并返回连接池统计
func (s *Source) Probe(ctx context.Context) (map[string]float64, error) {
	if err := s.exec.ping(ctx); err != nil {
		return s.exec.stats(), err
	}
	return s.exec.stats(), nil
}

// Close 关闭连接池
func (s *Source) Close() error {
	slog.Info("正在关闭数据源连接池", "source", s.info.ID)
	return s.exec.close()
}

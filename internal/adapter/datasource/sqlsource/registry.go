// Package sqlsource file: internal/adapter/datasource/sqlsource/registry.go
package sqlsource

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Registry 按配置顺序持有所有数据源，并负责它们的生命周期
type Registry struct {
	mu      sync.RWMutex
	order   []string
	sources map[string]port.DataSource
}

// NewRegistry 创建空的注册表
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]port.DataSource)}
}

// Register 追加一个数据源，id 重复时报错
func (r *Registry) Register(src port.DataSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[src.ID()]; exists {
		return fmt.Errorf("数据源 '%s' 重复注册", src.ID())
	}
	r.sources[src.ID()] = src
	r.order = append(r.order, src.ID())
	return nil
}

// Get 查找数据源
func (r *Registry) Get(id string) (port.DataSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", port.ErrSourceNotFound, id)
	}
	return src, nil
}

// All 按配置顺序返回全部数据源
func (r *Registry) All() []port.DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]port.DataSource, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sources[id])
	}
	return out
}

// Infos 返回全部数据源的摘要
func (r *Registry) Infos() []domain.SourceInfo {
	all := r.All()
	out := make([]domain.SourceInfo, 0, len(all))
	for _, src := range all {
		out = append(out, src.Info())
	}
	return out
}

// OpenAll 依次打开配置中的数据源并用熔断器包装。
// 打开失败的数据源以 offline 形式注册，状态接口中依然可见。
func OpenAll(ctx context.Context, cfgs []Config, bs BreakerSettings) (*Registry, error) {
	reg := NewRegistry()
	for _, cfg := range cfgs {
		src, err := Open(ctx, cfg)
		var ds port.DataSource
		if err != nil {
			slog.Error("打开数据源失败，将以离线状态注册", "source", cfg.ID, "error", err)
			ds = newOffline(cfg, err)
		} else {
			ds = NewGuarded(src, bs)
			slog.Info("数据源已注册", "source", cfg.ID, "driver", cfg.Driver, "tables", len(cfg.Tables))
		}
		if err := reg.Register(ds); err != nil {
			_ = reg.CloseAll()
			return nil, err
		}
	}
	return reg, nil
}

// CloseAll 关闭所有连接池，汇总错误
func (r *Registry) CloseAll() error {
	var errs []error
	for _, src := range r.All() {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭数据源 '%s' 失败: %w", src.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// offline 表示一个启动时无法打开的数据源
type offline struct {
	info   domain.SourceInfo
	tables []domain.TableSpec
	cause  error
}

func newOffline(cfg Config, cause error) *offline {
	return &offline{
		info:   domain.SourceInfo{ID: cfg.ID, Name: cfg.displayName(), Driver: cfg.Driver},
		tables: cfg.Tables,
		cause:  cause,
	}
}

func (o *offline) ID() string { return o.info.ID }
func (o *offline) Info() domain.SourceInfo { return o.info }
func (o *offline) Tables() []domain.TableSpec { return o.tables }
func (o *offline) Close() error { return nil }
func (o *offline) Probe(context.Context) (map[string]float64, error) {
	return nil, o.cause
}
func (o *offline) QueryTable(context.Context, domain.TableQuery) (*domain.TablePage, error) {
	return nil, fmt.Errorf("%w: %s (%v)", port.ErrSourceUnavailable, o.info.ID, o.cause)
}

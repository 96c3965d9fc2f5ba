// Package sqlsource file: internal/adapter/datasource/sqlsource/breaker.go
package sqlsource

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerSettings 熔断参数
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// DefaultBreakerSettings 连续 5 次失败后熔断 30 秒
var DefaultBreakerSettings = BreakerSettings{MaxFailures: 5, OpenTimeout: 30 * time.Second}

// Guarded 为数据源查询加上熔断器，熔断期间直接返回 ErrSourceUnavailable。
type Guarded struct {
	port.DataSource
	cb *gobreaker.CircuitBreaker[*domain.TablePage]
}

var _ port.DataSource = (*Guarded)(nil)

// NewGuarded 包装一个数据源
func NewGuarded(src port.DataSource, s BreakerSettings) *Guarded {
	if s.MaxFailures == 0 {
		s = DefaultBreakerSettings
	}
	cb := gobreaker.NewCircuitBreaker[*domain.TablePage](gobreaker.Settings{
		Name:        src.ID(),
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("数据源熔断状态变化", "source", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: countsAsHealthy,
	})
	return &Guarded{DataSource: src, cb: cb}
}

// countsAsHealthy 参数错误和调用方取消不计入失败次数
func countsAsHealthy(err error) bool {
	return err == nil ||
		port.IsValidation(err) ||
		errors.Is(err, port.ErrTableNotFound) ||
		errors.Is(err, context.Canceled)
}

// QueryTable 经过熔断器执行查询
func (g *Guarded) QueryTable(ctx context.Context, q domain.TableQuery) (*domain.TablePage, error) {
	page, err := g.cb.Execute(func() (*domain.TablePage, error) {
		return g.DataSource.QueryTable(ctx, q)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s (%v)", port.ErrSourceUnavailable, g.ID(), err)
	}
	return page, err
}

// Probe 直接探测底层数据源，并附带熔断器状态
func (g *Guarded) Probe(ctx context.Context) (map[string]float64, error) {
	stats, err := g.DataSource.Probe(ctx)
	if stats == nil {
		stats = make(map[string]float64, 1)
	}
	if g.cb.State() == gobreaker.StateOpen {
		stats["breakerOpen"] = 1
	} else {
		stats["breakerOpen"] = 0
	}
	return stats, err
}

// State 返回当前熔断器状态
func (g *Guarded) State() gobreaker.State {
	return g.cb.State()
}

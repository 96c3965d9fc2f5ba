// Package status 并发探测多个数据源并汇总状态。
// 每个探测有独立超时，单个数据源失败或挂起不会影响其他数据源。
package status

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/core/port"
	"ERPAdmin/internal/erpobserve"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultProbeTimeout 单个探测的默认超时
const DefaultProbeTimeout = 5 * time.Second

// ProbeFunc 执行一次轻量探测，成功时可附带统计值
type ProbeFunc func(ctx context.Context) (map[string]float64, error)

// Target 是一个被探测的数据源
type Target struct {
	Which string
	Name  string
	Probe ProbeFunc
}

// Pinger 是 ERP 系统库的探测能力
type Pinger interface {
	Ping(ctx context.Context) error
	Stats() map[string]float64
}

// StoreTarget 把 ERP 系统库包装为探测目标
func StoreTarget(which, name string, p Pinger) Target {
	return Target{
		Which: which,
		Name:  name,
		Probe: func(ctx context.Context) (map[string]float64, error) {
			if err := p.Ping(ctx); err != nil {
				return nil, err
			}
			return p.Stats(), nil
		},
	}
}

// SourceTargets 按顺序把 POS 数据源包装为探测目标
func SourceTargets(sources []port.DataSource) []Target {
	out := make([]Target, 0, len(sources))
	for _, src := range sources {
		info := src.Info()
		out = append(out, Target{Which: info.ID, Name: info.Name, Probe: src.Probe})
	}
	return out
}

// Aggregator 多数据源状态聚合器
type Aggregator struct {
	targets []Target
	timeout time.Duration
	now     func() time.Time
}

// New 创建聚合器，timeout <= 0 时使用默认值
func New(timeout time.Duration, targets ...Target) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Aggregator{targets: targets, timeout: timeout, now: time.Now}
}

// Targets 返回探测目标的标识，顺序与配置一致
func (a *Aggregator) Targets() []string {
	out := make([]string, len(a.targets))
	for i, t := range a.targets {
		out[i] = t.Which
	}
	return out
}

// Check 并发探测全部目标，结果与目标一一对应且顺序一致
func (a *Aggregator) Check(ctx context.Context) domain.StatusReport {
	results := make([]domain.SourceStatus, len(a.targets))
	var g errgroup.Group
	for i, t := range a.targets {
		g.Go(func() error {
			results[i] = a.probe(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return domain.StatusReport{Databases: results}
}

type probeResult struct {
	stats map[string]float64
	err   error
}

// probe 在独立超时内执行一次探测。探测函数不响应 ctx 时也会按时返回。
func (a *Aggregator) probe(parent context.Context, t Target) domain.SourceStatus {
	ctx, cancel := context.WithTimeout(parent, a.timeout)
	defer cancel()

	start := a.now()
	done := make(chan probeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeResult{err: fmt.Errorf("探测发生 panic: %v", r)}
			}
		}()
		stats, err := t.Probe(ctx)
		done <- probeResult{stats: stats, err: err}
	}()

	var res probeResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if errors.Is(res.err, context.DeadlineExceeded) {
		res.err = fmt.Errorf("探测超时 (%s)", a.timeout)
	}

	elapsed := time.Since(start)
	st := domain.SourceStatus{
		Which:     t.Which,
		Name:      t.Name,
		OK:        res.err == nil,
		LatencyMS: elapsed.Milliseconds(),
		Stats:     res.stats,
		CheckedAt: start,
	}
	erpobserve.SourceProbeDuration.WithLabelValues(t.Which).Observe(elapsed.Seconds())
	if res.err != nil {
		st.Info = res.err.Error()
		erpobserve.SourceUp.WithLabelValues(t.Which).Set(0)
		slog.Warn("数据源探测失败", "source", t.Which, "error", res.err, "latency_ms", st.LatencyMS)
	} else {
		erpobserve.SourceUp.WithLabelValues(t.Which).Set(1)
	}
	return st
}

// Poll 立即检查一次，之后每隔 interval 检查一次，直到 ctx 结束
func (a *Aggregator) Poll(ctx context.Context, interval time.Duration, onReport func(domain.StatusReport)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		onReport(a.Check(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

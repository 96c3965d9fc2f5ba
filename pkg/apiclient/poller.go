package apiclient

import (
	"ERPAdmin/internal/core/domain"
	"context"
	"time"
)

// DefaultPollInterval 仪表盘刷新数据源状态的默认间隔
const DefaultPollInterval = 30 * time.Second

// StatusPoller 周期性拉取数据源状态，启动时立即拉取一次
type StatusPoller struct {
	Interval time.Duration
	Fetch    func(ctx context.Context) (*domain.StatusReport, error)
	OnReport func(domain.StatusReport)
	OnError  func(error)
}

// Run 阻塞直到 ctx 结束
func (p *StatusPoller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *StatusPoller) tick(ctx context.Context) {
	r, err := p.Fetch(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if p.OnError != nil {
			p.OnError(err)
		}
		return
	}
	if p.OnReport != nil {
		p.OnReport(*r)
	}
}

// DBStatusPoller 基于 /db-status 创建轮询器
func (c *Client) DBStatusPoller(interval time.Duration, onReport func(domain.StatusReport), onError func(error)) *StatusPoller {
	return &StatusPoller{Interval: interval, Fetch: c.DBStatus, OnReport: onReport, OnError: onError}
}

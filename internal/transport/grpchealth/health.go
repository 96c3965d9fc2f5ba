// Package grpchealth 通过 grpc.health.v1 对外暴露各数据源的连通状态。
// 服务名: "" 为整体状态，"erp" 为系统库，"pos.<id>" 为各 POS 数据源。
package grpchealth

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/service/status"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName 把状态条目的标识映射为 health 服务名
func ServiceName(which string) string {
	if which == "erp" {
		return "erp"
	}
	return "pos." + which
}

// Mirror 把聚合器的检查结果同步到 health server
type Mirror struct {
	hs  *health.Server
	srv *grpc.Server
}

// NewMirror 创建 health server，所有已知服务初始为 NOT_SERVING
func NewMirror(targets []string) *Mirror {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for _, which := range targets {
		hs.SetServingStatus(ServiceName(which), healthpb.HealthCheckResponse_NOT_SERVING)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &Mirror{hs: hs, srv: srv}
}

// Health 返回底层 health server
func (m *Mirror) Health() healthpb.HealthServer { return m.hs }

// Update 应用一次状态报告。只有系统库可用时整体才是 SERVING。
func (m *Mirror) Update(report domain.StatusReport) {
	overall := healthpb.HealthCheckResponse_NOT_SERVING
	for _, st := range report.Databases {
		s := healthpb.HealthCheckResponse_NOT_SERVING
		if st.OK {
			s = healthpb.HealthCheckResponse_SERVING
		}
		m.hs.SetServingStatus(ServiceName(st.Which), s)
		if st.Which == "erp" && st.OK {
			overall = healthpb.HealthCheckResponse_SERVING
		}
	}
	m.hs.SetServingStatus("", overall)
}

// Run 周期性地用聚合器刷新状态，直到 ctx 结束
func (m *Mirror) Run(ctx context.Context, agg *status.Aggregator, interval time.Duration) {
	agg.Poll(ctx, interval, m.Update)
}

// Serve 在 port 上监听，阻塞直到 Stop
func (m *Mirror) Serve(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("gRPC health 监听端口 %d 失败: %w", port, err)
	}
	slog.Info("gRPC health 服务已启动", "addr", lis.Addr().String())
	return m.srv.Serve(lis)
}

// Stop 优雅停止；超时后强制停止
func (m *Mirror) Stop(timeout time.Duration) {
	m.hs.Shutdown()
	done := make(chan struct{})
	go func() {
		m.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		m.srv.Stop()
	}
}

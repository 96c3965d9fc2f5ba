// file: cmd/server/main.go

package main

import (
	"ERPAdmin/internal/adapter/datasource/sqlsource"
	"ERPAdmin/internal/adapter/store"
	"ERPAdmin/internal/config"
	"ERPAdmin/internal/erpmiddleware"
	"ERPAdmin/internal/erpobserve"
	"ERPAdmin/internal/service/admin"
	"ERPAdmin/internal/service/auth"
	"ERPAdmin/internal/service/browse"
	"ERPAdmin/internal/service/status"
	"ERPAdmin/internal/transport/grpchealth"
	"ERPAdmin/internal/transport/http/router"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"
)

const version = "v1.0.0"

func main() {
	// 在日志系统完全初始化前，使用标准 log
	log.Printf("ERP Admin %s 正在启动...", version)

	configFlag := flag.String("config", "", "配置文件路径 (默认读取 ERP_CONFIG 或 configs/config.yaml)")
	flag.Parse()

	configPath := config.ResolvePath(*configFlag)
	cfg, v, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("CRITICAL: 加载配置失败: %v", err)
	}

	syncLogs, err := erpobserve.InitLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)
	if err != nil {
		log.Fatalf("CRITICAL: 初始化日志失败: %v", err)
	}
	defer syncLogs()

	if configPath == "" {
		slog.Info("未找到配置文件，使用默认值和环境变量")
	} else {
		slog.Info("配置加载并解析成功", "path", configPath)
	}
	if cfg.Auth.GeneratedSecret {
		slog.Warn("auth.jwt_secret 未配置，已随机生成，重启后所有令牌失效")
	}
	config.Watch(v, func(next *config.Config) {
		erpobserve.SetLevel(next.Server.LogLevel)
	})

	if err := run(cfg); err != nil {
		slog.Error("服务异常退出", "error", err)
		syncLogs()
		os.Exit(1)
	}
	slog.Info("程序即将退出。")
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	erpobserve.Register()
	slog.Info("监控: metrics 已注册。")

	st, err := store.Open(ctx, cfg.ERP)
	if err != nil {
		return fmt.Errorf("初始化 ERP 系统库失败: %w", err)
	}
	defer func() {
		slog.Info("正在关闭系统数据库连接...")
		if err := st.Close(); err != nil {
			slog.Error("关闭系统数据库时发生错误", "error", err)
		}
	}()
	slog.Info("存储层: ERP 系统库已就绪", "driver", cfg.ERP.Driver)

	reg, err := sqlsource.OpenAll(ctx, cfg.Sources, cfg.Breakers())
	if err != nil {
		return fmt.Errorf("初始化 POS 数据源失败: %w", err)
	}
	defer func() {
		if err := reg.CloseAll(); err != nil {
			slog.Error("关闭 POS 数据源时发生错误", "error", err)
		}
	}()
	slog.Info("存储层: POS 数据源注册完成", "count", len(cfg.Sources))

	perms := admin.NewPermissionCache(st, 1000, 5*time.Minute)
	authSvc, err := auth.New(st, perms, cfg.Auth.Config)
	if err != nil {
		return fmt.Errorf("初始化认证服务失败: %w", err)
	}
	if err := authSvc.Bootstrap(ctx, cfg.Auth.BootstrapAdminUser, cfg.Auth.BootstrapAdminPassword); err != nil {
		return err
	}
	adminSvc := admin.New(st, perms).WithSources(cfg.SourceIDs())
	slog.Info("服务层: Auth / Admin 服务初始化完成")

	sources := status.SourceTargets(reg.All())
	dbStatus := status.New(cfg.Status.ProbeTimeout,
		append([]status.Target{status.StoreTarget("erp", "ERP", st)}, sources...)...)
	overview := status.New(cfg.Status.ProbeTimeout, sources...)

	limiter := erpmiddleware.NewRateLimiter(cfg.RateLimit)
	defer limiter.Stop()
	loginLock := erpmiddleware.NewLoginFailureLock(cfg.Auth.MaxLoginFailures, cfg.Auth.Lockout)

	handler := router.New(router.Dependencies{
		Auth:        authSvc,
		Admin:       adminSvc,
		Perms:       perms,
		Users:       st,
		Browse:      browse.New(reg),
		DBStatus:    dbStatus,
		Overview:    overview,
		Limiter:     limiter,
		LoginLock:   loginLock,
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     cfg.Server.Metrics,
	})
	slog.Info("传输层: HTTP 路由器创建完成。")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// HTTP 与 gRPC 各自最多写入一次
	serveErr := make(chan error, 2)
	go func() {
		slog.Info("ERP Admin 启动成功，开始监听HTTP请求...", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var mirror *grpchealth.Mirror
	if cfg.Server.GRPCHealthPort > 0 {
		mirror = grpchealth.NewMirror(append([]string{"erp"}, cfg.SourceIDs()...))
		go func() {
			if err := mirror.Serve(cfg.Server.GRPCHealthPort); err != nil {
				serveErr <- fmt.Errorf("gRPC 健康检查服务失败: %w", err)
			}
		}()
		go mirror.Run(ctx, dbStatus, cfg.Status.PollInterval)
	}

	pprofSrv := erpobserve.StartPprof(cfg.Server.PprofAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("收到停机信号，准备优雅关闭...", "signal", sig.String())
	case err := <-serveErr:
		return err
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP服务优雅关闭失败: %w", err)
	}
	slog.Info("HTTP服务已成功关闭。")

	if mirror != nil {
		mirror.Stop(cfg.Server.ShutdownTimeout)
		slog.Info("gRPC 健康检查服务已关闭。")
	}
	if pprofSrv != nil {
		_ = pprofSrv.Shutdown(shutdownCtx)
	}
	return nil
}

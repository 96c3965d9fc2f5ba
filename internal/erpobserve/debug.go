// Package erpobserve file: internal/erpobserve/debug.go
package erpobserve

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"
)

// StartPprof 在独立的监听地址上暴露 /debug/pprof，返回的 server 由调用方负责关闭。
// addr 为空时不启动，返回 nil。
func StartPprof(addr string) *http.Server {
	if addr == "" {
		slog.Info("pprof 未启用 (地址为空)")
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("pprof 端点已启动", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("pprof 端点启动失败", "error", err)
		}
	}()
	return srv
}

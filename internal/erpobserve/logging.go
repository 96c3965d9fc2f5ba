// Package erpobserve file: internal/erpobserve/logging.go
package erpobserve

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// atomicLevel 允许在运行期调整日志级别
var atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// parseLevel 把配置字符串转换为 zap 级别，未知值视为 INFO
func parseLevel(levelStr string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger 初始化全局日志。slog 调用点经 zapslog 写入 zap core。
// format 为 "console" 时使用开发者友好的输出，否则输出 JSON。
// 返回的函数应在 main 退出前调用以刷新缓冲。
func InitLogger(levelStr, format string) (func(), error) {
	atomicLevel.SetLevel(parseLevel(levelStr))

	var cfg zap.Config
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = atomicLevel

	z, err := cfg.Build()
	if err != nil {
		return func() {}, err
	}
	zap.ReplaceGlobals(z)
	slog.SetDefault(slog.New(zapslog.NewHandler(z.Core(), zapslog.WithCaller(true))))

	return func() { _ = z.Sync() }, nil
}

// SetLevel 在运行期修改日志级别，配置热加载时调用
func SetLevel(levelStr string) {
	lvl := parseLevel(levelStr)
	if atomicLevel.Level() == lvl {
		return
	}
	atomicLevel.SetLevel(lvl)
	slog.Info("日志级别已更新", "level", lvl.String())
}

// Level 返回当前日志级别
func Level() string {
	return atomicLevel.Level().String()
}

// RequestLogger 记录每个请求的方法、路由、状态码和耗时
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
		}
		switch {
		case c.Writer.Status() >= 500:
			slog.Error("HTTP 请求", attrs...)
		case c.Writer.Status() >= 400:
			slog.Warn("HTTP 请求", attrs...)
		default:
			slog.Debug("HTTP 请求", attrs...)
		}
	}
}

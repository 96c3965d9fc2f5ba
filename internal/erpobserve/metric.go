// Package erpobserve 暴露 Prometheus 指标
package erpobserve

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标定义
var (
	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "erp_http_request_duration_seconds",
		Help:    "HTTP 请求耗时",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "code"})

	// SourceUp 数据源探测结果，1 表示可用
	SourceUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "erp_source_up",
		Help: "数据源是否可用",
	}, []string{"source"})

	// SourceProbeDuration 单个数据源的探测耗时
	SourceProbeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "erp_source_probe_duration_seconds",
		Help:    "数据源探测耗时",
		Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"source"})

	// TokenRefreshTotal 刷新令牌结果计数
	TokenRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erp_token_refresh_total",
		Help: "刷新令牌请求数",
	}, []string{"result"})

	// LoginTotal 登录结果计数
	LoginTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erp_login_total",
		Help: "登录请求数",
	}, []string{"result"})
)

// Register 必须在 main 调用一次
func Register() {
	prometheus.MustRegister(httpRequestDuration, SourceUp, SourceProbeDuration, TokenRefreshTotal, LoginTotal)
}

// Handler 返回 HTTP 处理器
func Handler() http.Handler { return promhttp.Handler() }

// PrometheusMiddleware 按路由模板记录请求耗时
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestDuration.
			WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

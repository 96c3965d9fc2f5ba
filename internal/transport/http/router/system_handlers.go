package router

import (
	"ERPAdmin/internal/service/auth"
	"ERPAdmin/internal/service/status"
	"ERPAdmin/internal/transport/http/middleware"
	"net/http"

	"github.com/gin-gonic/gin"
)

// rootHandler 存活检查
func rootHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, middleware.Envelope{Success: true, Message: "ERP Admin API is running"})
	}
}

// dbStatusHandler 返回系统库和每个 POS 数据源的连通状态，顺序与配置一致
func dbStatusHandler(agg *status.Aggregator) gin.HandlerFunc {
	type entry struct {
		Which string `json:"which"`
		OK    bool   `json:"ok"`
		Info  string `json:"info,omitempty"`
	}
	return func(c *gin.Context) {
		report := agg.Check(c.Request.Context())
		out := make([]entry, len(report.Databases))
		for i, st := range report.Databases {
			out[i] = entry{Which: st.Which, OK: st.OK, Info: st.Info}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "databases": out})
	}
}

// systemStatusHandler 返回系统状态，用于前端判断是否需要进入安装流程
func systemStatusHandler(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		needs, err := svc.NeedsSetup(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			return
		}
		state := "ready_for_login"
		if needs {
			state = "needs_setup"
		}
		middleware.OK(c, gin.H{"status": state})
	}
}

// setupHandler 用启动日志中的安装令牌创建首个管理员
func setupHandler(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token    string `json:"token" binding:"required"`
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := bindJSON(c, &req); err != nil {
			_ = c.Error(err)
			return
		}
		session, err := svc.Setup(c.Request.Context(), req.Token, req.Username, req.Password, c.ClientIP())
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, session)
	}
}

// overviewHandler 返回全部 POS 数据源的状态与统计
func overviewHandler(agg *status.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := agg.Check(c.Request.Context())
		middleware.OK(c, gin.H{
			"sources":   report.Databases,
			"connected": report.Healthy(),
			"total":     len(report.Databases),
		})
	}
}

// file: internal/transport/http/router/router.go
package router

import (
	"ERPAdmin/internal/erpmiddleware"
	"ERPAdmin/internal/erpobserve"
	"ERPAdmin/internal/service/admin"
	"ERPAdmin/internal/service/auth"
	"ERPAdmin/internal/service/browse"
	"ERPAdmin/internal/service/status"
	"ERPAdmin/internal/transport/http/middleware"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// Dependencies 结构体用于将所有依赖项注入到路由器中
type Dependencies struct {
	Auth   *auth.Service
	Admin  *admin.Service
	Perms  auth.PermissionResolver
	Users  middleware.UserLookup
	Browse *browse.Service

	// DBStatus 探测系统库和全部 POS 数据源，Overview 只探测 POS 数据源
	DBStatus *status.Aggregator
	Overview *status.Aggregator

	Limiter   *erpmiddleware.RateLimiter
	LoginLock *erpmiddleware.LoginFailureLock

	CORSOrigins []string
	// Metrics 为 true 时挂载 /metrics
	Metrics bool
}

// New 创建并配置基于 Gin 的 HTTP 路由器
func New(deps Dependencies) http.Handler {
	router := gin.New()

	// --- 配置全局中间件 ---
	router.Use(middleware.Recovery())
	router.Use(erpobserve.RequestLogger())
	router.Use(erpobserve.PrometheusMiddleware())
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(corsConfig(deps.CORSOrigins)))
	router.Use(middleware.ErrorHandlingMiddleware())
	if deps.Limiter != nil {
		router.Use(deps.Limiter.Global(), deps.Limiter.PerIP())
	}

	router.NoRoute(func(c *gin.Context) {
		middleware.Fail(c, http.StatusNotFound, "接口不存在: "+c.Request.URL.Path)
	})

	// --- 健康检查 ---
	router.GET("/", rootHandler())
	router.GET("/db-status", dbStatusHandler(deps.DBStatus))
	if deps.Metrics {
		router.GET("/metrics", gin.WrapH(erpobserve.Handler()))
	}

	systemGroup := router.Group("/system")
	{
		systemGroup.GET("/status", systemStatusHandler(deps.Auth))
		systemGroup.POST("/setup", setupHandler(deps.Auth))
	}

	authn := middleware.Authenticate(deps.Auth, deps.Users)
	var perUser, perSource, loginLock gin.HandlerFunc = passThrough, passThrough, passThrough
	if deps.Limiter != nil {
		perUser = deps.Limiter.PerUser()
		perSource = deps.Limiter.PerSource()
	}
	if deps.LoginLock != nil {
		loginLock = deps.LoginLock.Middleware()
	}
	can := func(module, action string) gin.HandlerFunc {
		return middleware.RequirePermission(deps.Perms, module, action)
	}

	// --- 认证平面 ---
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", loginLock, loginHandler(deps.Auth))
		authGroup.POST("/refresh", refreshHandler(deps.Auth))
		authGroup.POST("/register", registerHandler(deps.Auth))
		authGroup.GET("/invite/:token", getInviteHandler(deps.Auth))

		session := authGroup.Group("", authn, perUser)
		session.POST("/logout", logoutHandler(deps.Auth))
		session.GET("/me", meHandler(deps.Auth))
		session.POST("/invite", can("users", "create"), createInviteHandler(deps.Auth))
	}

	// --- 数据平面: POS 表浏览 ---
	posGroup := router.Group("/multi-pos", authn, perUser, can("pos", "view"))
	{
		posGroup.GET("/sources", listSourcesHandler(deps.Browse))
		posGroup.GET("/overview", overviewHandler(deps.Overview))

		sourceGroup := posGroup.Group("/:source", perSource)
		sourceGroup.GET("/tables", listTablesHandler(deps.Browse))
		sourceGroup.GET("/tables/:table/data", tableDataHandler(deps.Browse))
		sourceGroup.GET("/tables/:table/export", tableExportHandler(deps.Browse, deps.Admin))
	}

	// --- 控制平面: 管理后台 ---
	adminGroup := router.Group("", authn, perUser)
	{
		users := adminGroup.Group("/users")
		users.GET("", can("users", "view"), listUsersHandler(deps.Admin))
		users.GET("/:id", can("users", "view"), getUserHandler(deps.Admin))
		users.POST("", can("users", "create"), createUserHandler(deps.Admin))
		users.PUT("/:id", can("users", "edit"), updateUserHandler(deps.Admin))
		users.DELETE("/:id", can("users", "delete"), deleteUserHandler(deps.Admin))
		users.POST("/:id/reset-password", can("users", "edit"), resetPasswordHandler(deps.Admin))

		roles := adminGroup.Group("/roles")
		roles.GET("", can("roles", "view"), listRolesHandler(deps.Admin))
		roles.GET("/permissions", can("roles", "view"), permissionCatalogHandler(deps.Admin))
		roles.GET("/:id", can("roles", "view"), getRoleHandler(deps.Admin))
		roles.POST("", can("roles", "create"), createRoleHandler(deps.Admin))
		roles.PUT("/:id", can("roles", "edit"), updateRoleHandler(deps.Admin))
		roles.DELETE("/:id", can("roles", "delete"), deleteRoleHandler(deps.Admin))

		devices := adminGroup.Group("/devices")
		devices.GET("", can("devices", "view"), listDevicesHandler(deps.Admin))
		devices.GET("/:id", can("devices", "view"), getDeviceHandler(deps.Admin))
		devices.POST("", can("devices", "create"), createDeviceHandler(deps.Admin))
		devices.PUT("/:id", can("devices", "edit"), updateDeviceHandler(deps.Admin))
		devices.DELETE("/:id", can("devices", "delete"), deleteDeviceHandler(deps.Admin))

		audit := adminGroup.Group("/audit-logs", can("audit", "view"))
		audit.GET("", listAuditHandler(deps.Admin))
		audit.GET("/export", exportAuditHandler(deps.Admin))
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// 通配来源不能与凭据同时使用
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func passThrough(c *gin.Context) { c.Next() }

package router

import (
	"ERPAdmin/internal/service/auth"
	"ERPAdmin/internal/transport/http/middleware"

	"github.com/gin-gonic/gin"
)

// loginHandler 处理用户登录请求
func loginHandler(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := bindJSON(c, &req); err != nil {
			_ = c.Error(err)
			return
		}
		session, err := svc.Login(c.Request.Context(), req.Username, req.Password, c.ClientIP())
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, session)
	}
}

// refreshHandler 用刷新令牌换取新的令牌对，旧刷新令牌随即失效
func refreshHandler(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refreshToken" binding:"required"`
		}
		if err := bindJSON(c, &req); err != nil {
			_ = c.Error(err)
			return
		}
		pair, err := svc.Refresh(c.Request.Context(), req.RefreshToken)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, pair)
	}
}

func logoutHandler(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		// 请求体可选
		_ = c.ShouldBindJSON(&req)
		if err := svc.Logout(c.Request.Context(), auth.ClaimFrom(c.Request.Context()), req.RefreshToken, c.ClientIP()); err != nil {
			_ = c.Error(err)
			return
		}
		middleware.Done(c, "已退出登录")
	}
}

func meHandler(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, err := svc.Me(c.Request.Context(), auth.ClaimFrom(c.Request.Context()).ID)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, profile)
	}
}

// registerHandler 通过邀请注册新账户
func registerHandler(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in auth.RegisterInput
		if err := bindJSON(c, &in); err != nil {
			_ = c.Error(err)
			return
		}
		session, err := svc.Register(c.Request.Context(), in, c.ClientIP())
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.Created(c, session)
	}
}

func createInviteHandler(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Email  string `json:"email" binding:"required"`
			RoleID int64  `json:"roleId" binding:"required"`
		}
		if err := bindJSON(c, &req); err != nil {
			_ = c.Error(err)
			return
		}
		inv, err := svc.CreateInvite(c.Request.Context(), auth.ClaimFrom(c.Request.Context()), req.Email, req.RoleID, c.ClientIP())
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.Created(c, inv)
	}
}

// getInviteHandler 返回仍然有效的邀请，供注册页预填邮箱和角色
func getInviteHandler(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := svc.GetInvite(c.Request.Context(), c.Param("token"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, inv)
	}
}

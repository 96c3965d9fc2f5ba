package router

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/service/admin"
	"ERPAdmin/internal/service/export"
	"ERPAdmin/internal/transport/http/middleware"
	"bytes"
	"fmt"

	"github.com/gin-gonic/gin"
)

// =============================================================================
//  用户
// =============================================================================

func listUsersHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := tableQuery(c, "")
		if err != nil {
			_ = c.Error(err)
			return
		}
		page, err := svc.ListUsers(c.Request.Context(), q)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, page)
	}
}

func getUserHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		u, err := svc.GetUser(c.Request.Context(), id)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, u)
	}
}

func createUserHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in admin.UserInput
		if err := bindJSON(c, &in); err != nil {
			_ = c.Error(err)
			return
		}
		u, err := svc.CreateUser(c.Request.Context(), actorFrom(c), in)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.Created(c, u)
	}
}

func updateUserHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		var in admin.UserInput
		if err := bindJSON(c, &in); err != nil {
			_ = c.Error(err)
			return
		}
		u, err := svc.UpdateUser(c.Request.Context(), actorFrom(c), id, in)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, u)
	}
}

func deleteUserHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if err := svc.DeleteUser(c.Request.Context(), actorFrom(c), id); err != nil {
			_ = c.Error(err)
			return
		}
		middleware.Done(c, "用户已删除")
	}
}

func resetPasswordHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		var req struct {
			Password string `json:"password" binding:"required"`
		}
		if err := bindJSON(c, &req); err != nil {
			_ = c.Error(err)
			return
		}
		if err := svc.ResetPassword(c.Request.Context(), actorFrom(c), id, req.Password); err != nil {
			_ = c.Error(err)
			return
		}
		middleware.Done(c, "密码已重置")
	}
}

// =============================================================================
//  角色
// =============================================================================

func listRolesHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, err := svc.ListRoles(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, roles)
	}
}

// permissionCatalogHandler 返回全部模块和动作，供前端渲染权限矩阵
func permissionCatalogHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.OK(c, svc.Catalog())
	}
}

func getRoleHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		r, err := svc.GetRole(c.Request.Context(), id)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, r)
	}
}

func createRoleHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in admin.RoleInput
		if err := bindJSON(c, &in); err != nil {
			_ = c.Error(err)
			return
		}
		r, err := svc.CreateRole(c.Request.Context(), actorFrom(c), in)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.Created(c, r)
	}
}

func updateRoleHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		var in admin.RoleInput
		if err := bindJSON(c, &in); err != nil {
			_ = c.Error(err)
			return
		}
		r, err := svc.UpdateRole(c.Request.Context(), actorFrom(c), id, in)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, r)
	}
}

func deleteRoleHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if err := svc.DeleteRole(c.Request.Context(), actorFrom(c), id); err != nil {
			_ = c.Error(err)
			return
		}
		middleware.Done(c, "角色已删除")
	}
}

// =============================================================================
//  设备
// =============================================================================

func listDevicesHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := tableQuery(c, "")
		if err != nil {
			_ = c.Error(err)
			return
		}
		page, err := svc.ListDevices(c.Request.Context(), q)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, page)
	}
}

func getDeviceHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		d, err := svc.GetDevice(c.Request.Context(), id)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, d)
	}
}

func createDeviceHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in admin.DeviceInput
		if err := bindJSON(c, &in); err != nil {
			_ = c.Error(err)
			return
		}
		d, err := svc.CreateDevice(c.Request.Context(), actorFrom(c), in)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.Created(c, d)
	}
}

func updateDeviceHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		var in admin.DeviceInput
		if err := bindJSON(c, &in); err != nil {
			_ = c.Error(err)
			return
		}
		d, err := svc.UpdateDevice(c.Request.Context(), actorFrom(c), id, in)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, d)
	}
}

func deleteDeviceHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := idParam(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if err := svc.DeleteDevice(c.Request.Context(), actorFrom(c), id); err != nil {
			_ = c.Error(err)
			return
		}
		middleware.Done(c, "设备已删除")
	}
}

// =============================================================================
//  审计日志
// =============================================================================

func listAuditHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := tableQuery(c, "")
		if err != nil {
			_ = c.Error(err)
			return
		}
		page, err := svc.ListAudit(c.Request.Context(), q)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, page)
	}
}

// exportAuditHandler 导出全部匹配的审计日志
func exportAuditHandler(svc *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := export.ParseFormat(c.Query("format"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		q, err := tableQuery(c, "")
		if err != nil {
			_ = c.Error(err)
			return
		}
		table, err := export.Collect(c.Request.Context(), svc.ListAudit, q)
		if err != nil {
			_ = c.Error(err)
			return
		}
		var buf bytes.Buffer
		if err := export.Write(&buf, f, "audit_logs", table); err != nil {
			_ = c.Error(fmt.Errorf("写出导出文件失败: %w", err))
			return
		}
		svc.Record(c.Request.Context(), actorFrom(c), domain.AuditExport, "audit", "", fmt.Sprintf("导出 %d 条审计日志 (%s)", len(table.Rows), f))
		sendFile(c, f, "audit_logs", buf.Bytes())
	}
}

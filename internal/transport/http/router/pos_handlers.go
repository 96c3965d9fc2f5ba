package router

import (
	"ERPAdmin/internal/core/domain"
	"ERPAdmin/internal/service/admin"
	"ERPAdmin/internal/service/browse"
	"ERPAdmin/internal/service/export"
	"ERPAdmin/internal/transport/http/middleware"
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// listSourcesHandler 按配置顺序返回 POS 数据源
func listSourcesHandler(svc *browse.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.OK(c, svc.ListSources())
	}
}

func listTablesHandler(svc *browse.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tables, err := svc.ListTables(c.Param("source"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, tables)
	}
}

// tableDataHandler 返回一页表数据: { rows, pagination }
func tableDataHandler(svc *browse.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := tableQuery(c, c.Param("table"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		page, err := svc.Browse(c.Request.Context(), c.Param("source"), q)
		if err != nil {
			_ = c.Error(err)
			return
		}
		middleware.OK(c, page)
	}
}

// tableExportHandler 导出全部匹配行，分页参数被忽略
func tableExportHandler(svc *browse.Service, audit *admin.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := export.ParseFormat(c.Query("format"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		q, err := tableQuery(c, c.Param("table"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		source := c.Param("source")

		var buf bytes.Buffer
		n, err := svc.Export(c.Request.Context(), &buf, source, q, f)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if audit != nil {
			audit.Record(c.Request.Context(), actorFrom(c), domain.AuditExport, "pos",
				source+"/"+q.Table, fmt.Sprintf("导出 %d 行 (%s)", n, f))
		}
		sendFile(c, f, source+"_"+q.Table, buf.Bytes())
	}
}

// sendFile 以附件形式写出导出文件
func sendFile(c *gin.Context, f export.Format, base string, data []byte) {
	name := f.FileName(strings.ReplaceAll(base, "/", "_"), time.Now())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, f.ContentType(), data)
}

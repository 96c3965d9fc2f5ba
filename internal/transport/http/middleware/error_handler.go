// Package middleware file: internal/transport/http/middleware/error_handler.go
package middleware

import (
	"ERPAdmin/internal/core/port"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// StatusFor 把业务错误映射为 HTTP 状态码。
// 403 只用于令牌失效和权限不足，客户端收到 403 会尝试刷新令牌；业务上的拒绝走 409。
func StatusFor(err error) int {
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &ve), port.IsValidation(err), errors.Is(err, port.ErrInviteInvalid) && !errors.Is(err, port.ErrNotFound):
		return http.StatusBadRequest
	case errors.Is(err, port.ErrInvalidCredentials), errors.Is(err, port.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, port.ErrForbidden), errors.Is(err, port.ErrInvalidToken), errors.Is(err, port.ErrInvalidRefreshToken):
		return http.StatusForbidden
	case errors.Is(err, port.ErrNotFound), errors.Is(err, port.ErrSourceNotFound), errors.Is(err, port.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, port.ErrConflict), errors.Is(err, port.ErrProtected):
		return http.StatusConflict
	case errors.Is(err, port.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandlingMiddleware 是一个Gin中间件，用于集中处理错误。
// 处理器通过 c.Error(err) 附加错误，这里统一写出失败信封。
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		// 只处理最后一个错误，它通常是根本原因
		err := c.Errors.Last().Err
		code := StatusFor(err)

		var ve validator.ValidationErrors
		switch {
		case errors.As(err, &ve):
			Fail(c, code, "请求参数验证失败: "+ve.Error())
		case code == http.StatusUnauthorized && errors.Is(err, port.ErrInvalidCredentials):
			// 不区分用户不存在与密码错误
			Fail(c, code, port.ErrInvalidCredentials.Error())
		case code == http.StatusInternalServerError:
			slog.Error("请求处理失败", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
			Fail(c, code, "服务器内部错误")
		default:
			Fail(c, code, err.Error())
		}
	}
}

// Recovery 把 panic 转为 500 信封
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		slog.Error("请求处理发生 panic", "path", c.Request.URL.Path, "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, Envelope{Success: false, Error: "服务器内部错误"})
	})
}

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope 是所有接口的统一返回格式
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK 写出成功信封
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Created 写出 201 成功信封
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

// Done 写出只带消息的成功信封
func Done(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, Envelope{Success: true, Message: msg})
}

// Fail 写出失败信封并中止后续处理
func Fail(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, Envelope{Success: false, Error: msg})
}

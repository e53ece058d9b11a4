// Package response 提供统一的 HTTP 响应格式
// 成功响应为平铺的 JSON 对象并带 success: true，失败响应为 {error, code}
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody 统一错误响应结构
type ErrorBody struct {
	Error string `json:"error"`          // 面向用户的错误信息
	Code  string `json:"code,omitempty"` // 机器可读的错误码
}

// 错误码定义
const (
	CodeBadRequest      = "bad_request"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeInternalError   = "internal_error"
	CodeInvalidToken    = "invalid_session_token"
	CodeSessionClosed   = "session_closed"
	CodeSessionNotFound = "session_not_found"
)

// Success 返回成功响应
// 参数:
//   - c: Gin 上下文
//   - body: 响应字段，会追加 success: true
func Success(c *gin.Context, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = true
	c.JSON(http.StatusOK, body)
}

// Error 返回错误响应
// 参数:
//   - c: Gin 上下文
//   - httpCode: HTTP 状态码
//   - message: 错误信息
func Error(c *gin.Context, httpCode int, message string) {
	c.JSON(httpCode, ErrorBody{Error: message})
}

// ErrorWithCode 返回错误响应（带错误码）
func ErrorWithCode(c *gin.Context, httpCode int, code, message string) {
	c.JSON(httpCode, ErrorBody{Error: message, Code: code})
}

// BadRequest 返回 400 错误（请求参数错误）
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusBadRequest, CodeBadRequest, message)
}

// Unauthorized 返回 401 错误（未授权）
func Unauthorized(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// InvalidSessionToken 返回 401 错误（会话令牌无效或过期）
func InvalidSessionToken(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusUnauthorized, CodeInvalidToken, message)
}

// Forbidden 返回 403 错误（禁止访问）
func Forbidden(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusForbidden, CodeForbidden, message)
}

// SessionNotFound 返回会话不存在错误
func SessionNotFound(c *gin.Context) {
	ErrorWithCode(c, http.StatusNotFound, CodeSessionNotFound, "Chat session not found")
}

// SessionClosed 返回 410 错误（会话已关闭）
func SessionClosed(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusGone, CodeSessionClosed, message)
}

// InternalError 返回 500 错误（服务器内部错误）
// message 不应包含内部错误细节
func InternalError(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusInternalServerError, CodeInternalError, message)
}

// NoContent 返回 204 无内容响应
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

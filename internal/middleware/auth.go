// Package middleware 提供 HTTP 请求的中间件
// 包括管理端认证、CORS 跨域、日志记录等
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"cielo-chat-server/pkg/response"
)

// AdminAuthMiddleware 创建管理端认证中间件
// 校验 Authorization: Bearer <token>；WebSocket 无法自定义请求头，允许使用 ?token= 查询参数
// 参数:
//   - adminToken: 配置的管理端令牌，为空时不做校验
//
// 返回:
//   - gin.HandlerFunc: Gin 中间件函数
func AdminAuthMiddleware(adminToken string) gin.HandlerFunc {
	expected := []byte(adminToken)
	return func(c *gin.Context) {
		if adminToken == "" {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			response.Unauthorized(c, "Admin token required")
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			response.Forbidden(c, "Invalid admin token")
			c.Abort()
			return
		}

		c.Next()
	}
}

// bearerToken 解析 "Bearer <token>"，格式不对返回空
func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

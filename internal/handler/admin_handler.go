package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"cielo-chat-server/internal/service"
	"cielo-chat-server/pkg/response"
)

// AdminService 管理端使用的服务接口
type AdminService interface {
	GetConversation(ctx context.Context, sessionID string) ([]service.MessageResponse, error)
	ListSessions(ctx context.Context, req *service.ListSessionsRequest) (*service.SessionListResponse, error)
	CloseSession(ctx context.Context, sessionID string) error
}

// AdminHandler 管理端请求处理器
// 路由由 AdminAuthMiddleware 保护
type AdminHandler struct {
	adminService AdminService
}

// NewAdminHandler 创建 AdminHandler 实例
func NewAdminHandler(adminService AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// GetConversation 获取会话的完整对话
// @Summary 获取对话记录
// @Description 按时间正序返回全部消息；会话不存在时返回空列表
// @Tags 管理
// @Security Bearer
// @Produce json
// @Param sessionId path string true "会话ID"
// @Router /api/chat/conversation/{sessionId} [get]
func (h *AdminHandler) GetConversation(c *gin.Context) {
	messages, err := h.adminService.GetConversation(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		_ = c.Error(err)
		response.InternalError(c, "Failed to fetch conversation")
		return
	}

	response.Success(c, gin.H{"messages": messages})
}

// ListSessions 分页获取会话列表
// @Summary 获取会话列表
// @Tags 管理
// @Security Bearer
// @Produce json
// @Param limit query int false "每页数量" default(50)
// @Param offset query int false "偏移量" default(0)
// @Param role query string false "按角色过滤"
// @Router /api/chat/sessions [get]
func (h *AdminHandler) ListSessions(c *gin.Context) {
	var req service.ListSessionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, "Invalid paging parameters")
		return
	}

	resp, err := h.adminService.ListSessions(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRole):
			response.BadRequest(c, "Invalid role filter")
		default:
			_ = c.Error(err)
			response.InternalError(c, "Failed to fetch sessions")
		}
		return
	}

	response.Success(c, gin.H{
		"sessions": resp.Sessions,
		"total":    resp.Total,
		"limit":    resp.Limit,
		"offset":   resp.Offset,
	})
}

// CloseSession 关闭会话
// @Summary 关闭会话
// @Description 关闭后该会话的令牌失效，客户端需创建新会话
// @Tags 管理
// @Security Bearer
// @Param sessionId path string true "会话ID"
// @Success 204
// @Router /api/chat/session/{sessionId}/close [post]
func (h *AdminHandler) CloseSession(c *gin.Context) {
	err := h.adminService.CloseSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSessionID), errors.Is(err, service.ErrEmptySessionID):
			response.BadRequest(c, "Invalid session id")
		case errors.Is(err, service.ErrSessionNotFound):
			response.SessionNotFound(c)
		default:
			_ = c.Error(err)
			response.InternalError(c, "Failed to close session")
		}
		return
	}

	response.NoContent(c)
}

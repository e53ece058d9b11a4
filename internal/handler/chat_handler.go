// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"cielo-chat-server/internal/i18n"
	"cielo-chat-server/internal/service"
	"cielo-chat-server/pkg/response"
)

// ChatService 聊天组件使用的服务接口
type ChatService interface {
	CreateSession(ctx context.Context, req *service.CreateSessionRequest) (*service.SessionTokenResponse, error)
	ResumeSession(ctx context.Context, token, locale string) (*service.SessionTokenResponse, error)
	PostMessage(ctx context.Context, req *service.PostMessageRequest) (*service.PostMessageResponse, error)
}

// ChatHandler 聊天组件请求处理器（公开接口，无需登录）
type ChatHandler struct {
	chatService ChatService
}

// NewChatHandler 创建 ChatHandler 实例
func NewChatHandler(chatService ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// ResumeSessionRequest 恢复会话请求
type ResumeSessionRequest struct {
	SessionToken string `json:"sessionToken" binding:"required"`
	Locale       string `json:"locale"`
}

// CreateSession 创建聊天会话
// @Summary 创建聊天会话
// @Description 请求体可以为空，默认角色为 visitor
// @Tags 聊天
// @Accept json
// @Produce json
// @Param body body service.CreateSessionRequest false "身份信息"
// @Success 200 {object} service.SessionTokenResponse
// @Router /api/chat/session [post]
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "Invalid request body")
		return
	}
	req.Locale = requestLocale(c, req.Locale)

	resp, err := h.chatService.CreateSession(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRole):
			response.BadRequest(c, "Invalid user role")
		default:
			_ = c.Error(err)
			response.InternalError(c, i18n.T(req.Locale, i18n.KeyErrCreateSession))
		}
		return
	}

	response.Success(c, gin.H{
		"sessionId":    resp.SessionID,
		"sessionToken": resp.SessionToken,
		"expiresAt":    resp.ExpiresAt,
		"userRole":     resp.UserRole,
		"greeting":     resp.Greeting,
	})
}

// ResumeSession 校验客户端保存的会话令牌
// @Summary 恢复聊天会话
// @Tags 聊天
// @Accept json
// @Produce json
// @Param body body ResumeSessionRequest true "会话令牌"
// @Success 200 {object} service.SessionTokenResponse
// @Failure 401 {object} response.ErrorBody
// @Failure 410 {object} response.ErrorBody
// @Router /api/chat/session/resume [post]
func (h *ChatHandler) ResumeSession(c *gin.Context) {
	var req ResumeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "sessionToken is required")
		return
	}
	locale := requestLocale(c, req.Locale)

	resp, err := h.chatService.ResumeSession(c.Request.Context(), req.SessionToken, locale)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSessionToken):
			response.InvalidSessionToken(c, i18n.T(locale, i18n.KeyErrInvalidToken))
		case errors.Is(err, service.ErrSessionClosed):
			response.SessionClosed(c, i18n.T(locale, i18n.KeyErrSessionClosed))
		default:
			_ = c.Error(err)
			response.InternalError(c, "Failed to resume chat session")
		}
		return
	}

	response.Success(c, gin.H{
		"sessionId":    resp.SessionID,
		"sessionToken": resp.SessionToken,
		"expiresAt":    resp.ExpiresAt,
		"userRole":     resp.UserRole,
		"greeting":     resp.Greeting,
	})
}

// PostMessage 发送消息并获取助手回复
// 大模型不可用时仍返回 200，reply 为致歉文案且 degraded=true
// @Summary 发送聊天消息
// @Tags 聊天
// @Accept json
// @Produce json
// @Param body body service.PostMessageRequest true "消息"
// @Success 200 {object} service.PostMessageResponse
// @Failure 400 {object} response.ErrorBody
// @Failure 500 {object} response.ErrorBody
// @Router /api/chat/message [post]
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req service.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	req.Locale = requestLocale(c, req.Locale)

	resp, err := h.chatService.PostMessage(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptySessionID), errors.Is(err, service.ErrInvalidSessionID):
			response.BadRequest(c, i18n.T(req.Locale, i18n.KeyErrSessionID))
		case errors.Is(err, service.ErrEmptyMessage):
			response.BadRequest(c, i18n.T(req.Locale, i18n.KeyErrMessage))
		case errors.Is(err, service.ErrMessageTooLong):
			response.BadRequest(c, i18n.T(req.Locale, i18n.KeyErrMessageTooLong))
		case errors.Is(err, service.ErrInvalidSessionToken):
			response.InvalidSessionToken(c, i18n.T(req.Locale, i18n.KeyErrInvalidToken))
		case errors.Is(err, service.ErrSessionClosed):
			response.SessionClosed(c, i18n.T(req.Locale, i18n.KeyErrSessionClosed))
		case errors.Is(err, service.ErrStoreMessage):
			_ = c.Error(err)
			response.InternalError(c, i18n.T(req.Locale, i18n.KeyErrStoreMessage))
		default:
			_ = c.Error(err)
			response.InternalError(c, "Internal server error")
		}
		return
	}

	body := gin.H{
		"reply":     resp.Reply,
		"degraded":  resp.Degraded,
		"messageId": resp.MessageID,
	}
	if resp.ErrorCode != "" {
		body["error_code"] = resp.ErrorCode
	}
	if resp.ReplyID != "" {
		body["replyId"] = resp.ReplyID
	}
	response.Success(c, body)
}

// requestLocale 请求体中的 locale 优先，其次 Accept-Language
func requestLocale(c *gin.Context, bodyLocale string) string {
	return i18n.Match(bodyLocale, c.GetHeader("Accept-Language"))
}

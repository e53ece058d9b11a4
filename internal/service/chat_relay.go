package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"cielo-chat-server/internal/i18n"
	"cielo-chat-server/internal/llm"
	"cielo-chat-server/internal/model"
	"cielo-chat-server/pkg/util"
)

// 降级回复的错误码
const (
	ErrorCodeAINotConfigured = "ai_not_configured"
	ErrorCodeAIUnavailable   = "ai_unavailable"
	ErrorCodeAIUpstream      = "ai_upstream_error"
	ErrorCodeAIEmptyReply    = "ai_empty_reply"
)

// 日志中保留的上游错误长度
const maxLoggedUpstreamBody = 512

// PostMessageRequest 发送消息请求
type PostMessageRequest struct {
	SessionID    string `json:"sessionId"`
	Message      string `json:"message"`
	SessionToken string `json:"sessionToken"` // 开启 require_session_token 时必填
	Locale       string `json:"locale"`
}

// PostMessageResponse 发送消息响应
// Degraded 为 true 时 Reply 是固定致歉文案，未写入数据库
type PostMessageResponse struct {
	Reply     string `json:"reply"`
	Degraded  bool   `json:"degraded"`
	ErrorCode string `json:"error_code,omitempty"`
	MessageID string `json:"messageId"`
	ReplyID   string `json:"replyId,omitempty"`
}

// PostMessage 转发一条用户消息并返回助手回复
// 步骤严格串行：写入用户消息 -> 读取最近历史 -> 调用大模型 -> 写入助手回复
// 参数:
//   - ctx: 上下文，取消时中止大模型调用
//   - req: 会话ID、消息正文（原样存储）、可选令牌与语言
//
// 返回:
//   - *PostMessageResponse: 回复内容；大模型失败时为降级回复
//   - error: 校验错误、令牌错误或 ErrStoreMessage，此时不会调用大模型
func (s *ChatService) PostMessage(ctx context.Context, req *PostMessageRequest) (*PostMessageResponse, error) {
	if req == nil {
		return nil, ErrEmptySessionID
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, ErrEmptySessionID
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	if s.opts.MaxMessageLength > 0 && utf8.RuneCountInString(req.Message) > s.opts.MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	sessionID, err := parseSessionID(req.SessionID)
	if err != nil {
		return nil, err
	}

	if s.opts.RequireSessionToken {
		_, session, err := s.authorizeToken(ctx, req.SessionToken)
		if err != nil {
			return nil, err
		}
		if session.ID != sessionID {
			return nil, ErrInvalidSessionToken
		}
	}

	// 1. 写入用户消息，失败则整个请求终止
	userMsg := &model.ChatMessage{
		SessionID:  sessionID,
		SenderRole: model.SenderRoleUser,
		Message:    req.Message,
	}
	if err := s.messages.Create(ctx, userMsg); err != nil {
		s.logger.Error("store user message failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreMessage, err)
	}
	s.notify(userMsg)

	// 用户消息落库后，调用方断开不再取消本次补全，超时由大模型客户端控制
	ctx = context.WithoutCancel(ctx)

	resp := &PostMessageResponse{MessageID: userMsg.ID.String()}

	// 2. 组装上下文
	prompt := s.buildPrompt(ctx, userMsg)

	// 3. 调用大模型
	reply, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		code, key := classifyCompletionError(err)
		s.logCompletionError(sessionID.String(), code, err)
		resp.Reply = i18n.T(req.Locale, key)
		resp.Degraded = true
		resp.ErrorCode = code
		return resp, nil
	}
	resp.Reply = reply

	// 4. 写入助手回复，失败只记日志，回复照常返回
	assistantMsg := &model.ChatMessage{
		SessionID:  sessionID,
		SenderRole: model.SenderRoleAssistant,
		Message:    reply,
	}
	if err := s.messages.Create(ctx, assistantMsg); err != nil {
		s.logger.Error("store assistant reply failed",
			zap.String("session_id", sessionID.String()),
			zap.String("message_id", userMsg.ID.String()),
			zap.Error(err),
		)
		return resp, nil
	}
	s.notify(assistantMsg)
	resp.ReplyID = assistantMsg.ID.String()

	return resp, nil
}

// buildPrompt 组装 system + 最近历史（含本条用户消息，按时间正序）
// 历史读取失败时只携带本条消息
func (s *ChatService) buildPrompt(ctx context.Context, userMsg *model.ChatMessage) []llm.Message {
	history, err := s.messages.GetLatestBySessionID(ctx, userMsg.SessionID, s.opts.HistoryLimit)
	if err != nil {
		s.logger.Warn("load chat history failed", zap.String("session_id", userMsg.SessionID.String()), zap.Error(err))
		history = nil
	}

	// 截到本条用户消息为止，并发写入的更新消息不进入本次上下文
	cut := -1
	for i := range history {
		if history[i].ID == userMsg.ID {
			cut = i
			break
		}
	}
	if cut >= 0 {
		history = history[:cut+1]
	} else {
		history = append(history, *userMsg)
	}

	prompt := make([]llm.Message, 0, len(history)+1)
	prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: s.opts.SystemPrompt})
	for i := range history {
		role := llm.RoleAssistant
		if history[i].SenderRole == model.SenderRoleUser {
			role = llm.RoleUser
		}
		prompt = append(prompt, llm.Message{Role: role, Content: history[i].Message})
	}
	return prompt
}

// classifyCompletionError 将大模型错误映射为错误码与致歉文案
func classifyCompletionError(err error) (code, key string) {
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		return ErrorCodeAINotConfigured, i18n.KeyFallbackConfig
	case errors.Is(err, llm.ErrEmptyCompletion):
		return ErrorCodeAIEmptyReply, i18n.KeyFallbackEmpty
	case errors.As(err, &apiErr):
		return ErrorCodeAIUpstream, i18n.KeyFallbackUpstream
	default:
		return ErrorCodeAIUnavailable, i18n.KeyFallbackUpstream
	}
}

func (s *ChatService) logCompletionError(sessionID, code string, err error) {
	fields := []zap.Field{
		zap.String("session_id", sessionID),
		zap.String("error_code", code),
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		fields = append(fields,
			zap.Int("status", apiErr.StatusCode),
			zap.String("upstream_body", util.TruncateString(apiErr.Body, maxLoggedUpstreamBody)),
		)
	} else {
		fields = append(fields, zap.Error(err))
	}
	s.logger.Error("completion failed", fields...)
}

func (s *ChatService) notify(m *model.ChatMessage) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyMessage(toMessageResponse(m))
}

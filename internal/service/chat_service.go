// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cielo-chat-server/internal/i18n"
	"cielo-chat-server/internal/llm"
	"cielo-chat-server/internal/model"
	"cielo-chat-server/pkg/jwt"
	"cielo-chat-server/pkg/util"
)

// 聊天服务相关错误
var (
	ErrEmptySessionID      = errors.New("session id is required")
	ErrInvalidSessionID    = errors.New("session id is malformed")
	ErrEmptyMessage        = errors.New("message is required")
	ErrMessageTooLong      = errors.New("message is too long")
	ErrInvalidRole         = errors.New("unknown user role")
	ErrStoreMessage        = errors.New("failed to store message")
	ErrInvalidSessionToken = errors.New("session token is invalid or expired")
	ErrSessionClosed       = errors.New("session is closed")
	ErrSessionNotFound     = errors.New("session not found")
)

// 会话列表分页
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// DefaultSystemPrompt 内置的前台接待提示词
const DefaultSystemPrompt = `You are a professional and friendly apartment receptionist for Cielo Vista Apartments. You help potential residents and current tenants with questions about:
- Apartment availability and types
- Rent prices and payment information
- Booking visits and tours
- Apartment rules and policies
- Maintenance requests and support
- General contact information

Always maintain a professional, warm, and helpful tone. If you cannot answer a specific question, politely suggest that the user contact our management team directly. When appropriate, provide phone numbers or direct them to speak with an admin. Keep responses concise and friendly. Never make promises about pricing or availability that require confirmation from management.`

// SessionStore 会话存储
type SessionStore interface {
	Create(ctx context.Context, session *model.ChatSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ChatSession, error)
	List(ctx context.Context, limit, offset int, role string) ([]model.ChatSession, error)
	Count(ctx context.Context, role string) (int64, error)
	Deactivate(ctx context.Context, id uuid.UUID) (bool, error)
}

// MessageStore 消息存储
type MessageStore interface {
	Create(ctx context.Context, message *model.ChatMessage) error
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) ([]model.ChatMessage, error)
	GetLatestBySessionID(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.ChatMessage, error)
	CountBySessionIDs(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]int64, error)
}

// TokenRevoker 会话令牌吊销列表
type TokenRevoker interface {
	RevokeSessionTokens(ctx context.Context, sessionID uuid.UUID, ttl time.Duration) error
	IsSessionRevoked(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// MessageNotifier 新消息通知接口
// NotifyMessage 在请求路径上按消息顺序同步调用，实现不能阻塞
type MessageNotifier interface {
	NotifyMessage(msg *MessageResponse)
}

// Options 聊天服务参数
type Options struct {
	SystemPrompt        string // 空则使用 DefaultSystemPrompt
	HistoryLimit        int    // 上下文携带的最近消息条数
	MaxMessageLength    int    // 单条消息最大字符数，<=0 表示不限制
	RequireSessionToken bool   // 发送消息是否必须携带有效会话令牌
}

// ChatService 聊天服务
// 负责会话创建、消息转发到大模型以及管理端的只读查询
type ChatService struct {
	sessions  SessionStore
	messages  MessageStore
	completer llm.Completer
	tokens    *jwt.JWTService
	revoker   TokenRevoker    // 可为 nil
	notifier  MessageNotifier // 可为 nil
	logger    *zap.Logger
	opts      Options
}

// NewChatService 创建 ChatService 实例
func NewChatService(
	sessions SessionStore,
	messages MessageStore,
	completer llm.Completer,
	tokens *jwt.JWTService,
	revoker TokenRevoker,
	logger *zap.Logger,
	opts Options,
) *ChatService {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	return &ChatService{
		sessions:  sessions,
		messages:  messages,
		completer: completer,
		tokens:    tokens,
		revoker:   revoker,
		logger:    logger.Named("chat"),
		opts:      opts,
	}
}

// SetNotifier 设置通知器
func (s *ChatService) SetNotifier(n MessageNotifier) {
	s.notifier = n
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	UserEmail *string `json:"userEmail" binding:"omitempty,max=255"`
	UserName  *string `json:"userName" binding:"omitempty,max=255"`
	UserRole  string  `json:"userRole"` // 空则为 visitor
	Locale    string  `json:"locale"`
}

// SessionTokenResponse 创建/恢复会话响应
type SessionTokenResponse struct {
	SessionID    string    `json:"sessionId"`
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	UserRole     string    `json:"userRole"`
	Greeting     string    `json:"greeting"`
}

// MessageResponse 单条消息
type MessageResponse struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	SenderRole string    `json:"sender_role"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionSummary 会话列表项
type SessionSummary struct {
	ID           string     `json:"id"`
	UserEmail    *string    `json:"user_email"`
	UserName     *string    `json:"user_name"`
	UserRole     string     `json:"user_role"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	MessageCount int64      `json:"message_count"`
}

// ListSessionsRequest 会话列表查询参数
type ListSessionsRequest struct {
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
	Role   string `form:"role"`
}

// SessionListResponse 会话列表响应
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// CreateSession 创建新会话
// 不做身份校验，身份字段仅作标注
// 参数:
//   - ctx: 上下文
//   - req: 可选的邮箱、姓名、角色
//
// 返回:
//   - *SessionTokenResponse: 会话 ID、会话令牌与欢迎语
//   - error: ErrInvalidRole 或存储错误
func (s *ChatService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*SessionTokenResponse, error) {
	if req == nil {
		req = &CreateSessionRequest{}
	}

	role := strings.ToLower(strings.TrimSpace(req.UserRole))
	if role == "" {
		role = model.UserRoleVisitor
	}
	if !model.IsValidUserRole(role) {
		return nil, ErrInvalidRole
	}

	session := &model.ChatSession{
		UserEmail: util.NormalizeOptional(req.UserEmail),
		UserName:  util.NormalizeOptional(req.UserName),
		UserRole:  role,
		IsActive:  true,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		return nil, fmt.Errorf("create session: %w", err)
	}

	token, expiresAt, err := s.tokens.GenerateSessionToken(session.ID, role)
	if err != nil {
		s.logger.Error("sign session token failed", zap.String("session_id", session.ID.String()), zap.Error(err))
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	s.logger.Info("chat session created",
		zap.String("session_id", session.ID.String()),
		zap.String("user_role", role),
	)

	return &SessionTokenResponse{
		SessionID:    session.ID.String(),
		SessionToken: token,
		ExpiresAt:    expiresAt,
		UserRole:     role,
		Greeting:     i18n.T(req.Locale, i18n.KeyGreeting),
	}, nil
}

// ResumeSession 校验客户端保存的会话令牌，决定能否继续使用原会话
// 参数:
//   - ctx: 上下文
//   - token: 创建会话时签发的令牌
//   - locale: 欢迎语语言
//
// 返回:
//   - *SessionTokenResponse: 原会话信息，令牌和过期时间不变
//   - error: ErrInvalidSessionToken / ErrSessionClosed / 存储错误
func (s *ChatService) ResumeSession(ctx context.Context, token, locale string) (*SessionTokenResponse, error) {
	claims, session, err := s.authorizeToken(ctx, token)
	if err != nil {
		return nil, err
	}

	return &SessionTokenResponse{
		SessionID:    session.ID.String(),
		SessionToken: token,
		ExpiresAt:    claims.ExpiresAt.Time,
		UserRole:     session.UserRole,
		Greeting:     i18n.T(locale, i18n.KeyGreeting),
	}, nil
}

// authorizeToken 校验签名、有效期、吊销状态与会话是否仍可用
func (s *ChatService) authorizeToken(ctx context.Context, token string) (*jwt.SessionClaims, *model.ChatSession, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil, ErrInvalidSessionToken
	}

	claims, sessionID, err := s.tokens.ValidateSessionToken(token)
	if err != nil {
		return nil, nil, ErrInvalidSessionToken
	}

	if s.revoker != nil {
		revoked, err := s.revoker.IsSessionRevoked(ctx, sessionID)
		if err != nil {
			// 吊销列表不可用时以数据库 is_active 为准
			s.logger.Warn("check session revocation failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		} else if revoked {
			return nil, nil, ErrSessionClosed
		}
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, nil, ErrInvalidSessionToken
	}
	if !session.IsActive {
		return nil, nil, ErrSessionClosed
	}

	return claims, session, nil
}

// CloseSession 关闭会话并吊销已签发的令牌
// 参数:
//   - ctx: 上下文
//   - rawID: 会话ID
//
// 返回:
//   - error: ErrInvalidSessionID / ErrSessionNotFound / 存储错误
func (s *ChatService) CloseSession(ctx context.Context, rawID string) error {
	sessionID, err := parseSessionID(rawID)
	if err != nil {
		return err
	}

	ok, err := s.sessions.Deactivate(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}

	if s.revoker != nil {
		if err := s.revoker.RevokeSessionTokens(ctx, sessionID, s.tokens.GetSessionExpire()); err != nil {
			// 数据库中已关闭，恢复时仍会被 is_active 拦截
			s.logger.Warn("revoke session tokens failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}

	s.logger.Info("chat session closed", zap.String("session_id", sessionID.String()))
	return nil
}

// GetConversation 获取会话的全部消息，按时间正序
// 会话不存在或 ID 非法时返回空列表
func (s *ChatService) GetConversation(ctx context.Context, rawID string) ([]MessageResponse, error) {
	sessionID, err := parseSessionID(rawID)
	if err != nil {
		return []MessageResponse{}, nil
	}

	messages, err := s.messages.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	result := make([]MessageResponse, len(messages))
	for i := range messages {
		result[i] = *toMessageResponse(&messages[i])
	}
	return result, nil
}

// ListSessions 分页获取会话摘要（最新在前），附带每个会话的消息数
// 参数:
//   - ctx: 上下文
//   - req: limit 默认 50，限制在 [1, 200]；offset 负数按 0 处理；role 可选
//
// 返回:
//   - *SessionListResponse: 当前页、总数与实际使用的分页参数
//   - error: ErrInvalidRole 或存储错误
func (s *ChatService) ListSessions(ctx context.Context, req *ListSessionsRequest) (*SessionListResponse, error) {
	if req == nil {
		req = &ListSessionsRequest{}
	}

	limit := req.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	limit = util.Clamp(limit, 1, MaxListLimit)
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role != "" && !model.IsValidUserRole(role) {
		return nil, ErrInvalidRole
	}

	sessions, err := s.sessions.List(ctx, limit, offset, role)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	total, err := s.sessions.Count(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	ids := make([]uuid.UUID, len(sessions))
	for i := range sessions {
		ids[i] = sessions[i].ID
	}
	counts, err := s.messages.CountBySessionIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	summaries := make([]SessionSummary, len(sessions))
	for i := range sessions {
		session := &sessions[i]
		summaries[i] = SessionSummary{
			ID:           session.ID.String(),
			UserEmail:    session.UserEmail,
			UserName:     session.UserName,
			UserRole:     session.UserRole,
			IsActive:     session.IsActive,
			CreatedAt:    session.CreatedAt,
			ClosedAt:     session.ClosedAt,
			MessageCount: counts[session.ID],
		}
	}

	return &SessionListResponse{
		Sessions: summaries,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}, nil
}

// parseSessionID 解析客户端传入的会话ID
func parseSessionID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, ErrEmptySessionID
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrInvalidSessionID
	}
	return id, nil
}

func toMessageResponse(m *model.ChatMessage) *MessageResponse {
	return &MessageResponse{
		ID:         m.ID.String(),
		SessionID:  m.SessionID.String(),
		SenderRole: m.SenderRole,
		Message:    m.Message,
		CreatedAt:  m.CreatedAt,
	}
}

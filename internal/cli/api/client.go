// Package api 封装 chatctl 与服务器的 HTTP API 交互
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client API 客户端
// baseURL: 例如 http://localhost:8080
// adminToken: 管理接口的 Bearer Token，可为空
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
}

// NewClient 创建 API 客户端
func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminToken: adminToken,
		// 服务端等待大模型回复，超时要比 AI 超时长
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// APIError 服务端返回的错误
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API 错误 (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API 错误 (%d): %s", e.StatusCode, e.Message)
}

// IsStatus 判断错误是否为指定 HTTP 状态码
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// --- 会话 ---

type CreateSessionRequest struct {
	UserEmail *string `json:"userEmail,omitempty"`
	UserName  *string `json:"userName,omitempty"`
	UserRole  string  `json:"userRole,omitempty"`
	Locale    string  `json:"locale,omitempty"`
}

type SessionResponse struct {
	SessionID    string    `json:"sessionId"`
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	UserRole     string    `json:"userRole"`
	Greeting     string    `json:"greeting"`
}

// CreateSession 创建新会话
func (c *Client) CreateSession(req *CreateSessionRequest) (*SessionResponse, error) {
	if req == nil {
		req = &CreateSessionRequest{}
	}
	var result SessionResponse
	if err := c.do(http.MethodPost, "/api/chat/session", req, false, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ResumeSession 校验本地保存的会话令牌
func (c *Client) ResumeSession(sessionToken, locale string) (*SessionResponse, error) {
	body := map[string]string{"sessionToken": sessionToken, "locale": locale}
	var result SessionResponse
	if err := c.do(http.MethodPost, "/api/chat/session/resume", body, false, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// --- 消息 ---

type SendMessageRequest struct {
	SessionID    string `json:"sessionId"`
	Message      string `json:"message"`
	SessionToken string `json:"sessionToken,omitempty"`
	Locale       string `json:"locale,omitempty"`
}

type SendMessageResponse struct {
	Reply     string `json:"reply"`
	Degraded  bool   `json:"degraded"`
	ErrorCode string `json:"error_code"`
	MessageID string `json:"messageId"`
	ReplyID   string `json:"replyId"`
}

// SendMessage 发送消息并等待助手回复
func (c *Client) SendMessage(req *SendMessageRequest) (*SendMessageResponse, error) {
	var result SendMessageResponse
	if err := c.do(http.MethodPost, "/api/chat/message", req, false, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// --- 管理 ---

type ChatMessage struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	SenderRole string    `json:"sender_role"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

type SessionSummary struct {
	ID           string     `json:"id"`
	UserEmail    *string    `json:"user_email"`
	UserName     *string    `json:"user_name"`
	UserRole     string     `json:"user_role"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at"`
	MessageCount int64      `json:"message_count"`
}

type SessionList struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// ListSessions 分页获取会话列表，limit 为 0 时使用服务端默认值
func (c *Client) ListSessions(limit, offset int, role string) (*SessionList, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if role != "" {
		q.Set("role", role)
	}
	path := "/api/chat/sessions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result SessionList
	if err := c.do(http.MethodGet, path, nil, true, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetConversation 获取会话的全部消息
func (c *Client) GetConversation(sessionID string) ([]ChatMessage, error) {
	var result struct {
		Messages []ChatMessage `json:"messages"`
	}
	if err := c.do(http.MethodGet, "/api/chat/conversation/"+url.PathEscape(sessionID), nil, true, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// CloseSession 关闭会话
func (c *Client) CloseSession(sessionID string) error {
	return c.do(http.MethodPost, "/api/chat/session/"+url.PathEscape(sessionID)+"/close", nil, true, nil)
}

// Health 获取服务健康状态，503 时仍返回各依赖状态
func (c *Client) Health() (map[string]string, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	status := make(map[string]string)
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return status, nil
}

// WebSocketURL 返回会话实时消息的 WebSocket 地址
func (c *Client) WebSocketURL(sessionID string) string {
	wsURL := strings.Replace(c.baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/ws/chat/sessions/" + url.PathEscape(sessionID)
	if c.adminToken != "" {
		wsURL += "?token=" + url.QueryEscape(c.adminToken)
	}
	return wsURL
}

// --- 通用请求封装 ---

func (c *Client) do(method, path string, body interface{}, admin bool, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin && c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

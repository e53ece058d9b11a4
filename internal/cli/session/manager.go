// Package session 管理 chatctl 的访客聊天会话
// 本地会话在复用期内先经服务端校验再继续使用，失效时自动新建
package session

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"cielo-chat-server/internal/cli/api"
	"cielo-chat-server/internal/cli/config"
)

// API 会话管理依赖的服务端接口
type API interface {
	CreateSession(req *api.CreateSessionRequest) (*api.SessionResponse, error)
	ResumeSession(sessionToken, locale string) (*api.SessionResponse, error)
	SendMessage(req *api.SendMessageRequest) (*api.SendMessageResponse, error)
}

// Manager 管理当前聊天会话
type Manager struct {
	mu       sync.Mutex
	client   API
	locale   string
	identity api.CreateSessionRequest
	current  *config.SessionConfig
	greeting string
	resumed  bool
	now      func() time.Time
}

// NewManager 创建会话管理器
func NewManager(client API, locale string) *Manager {
	return &Manager{
		client: client,
		locale: locale,
		now:    time.Now,
	}
}

// SetIdentity 设置新建会话时携带的身份信息
func (m *Manager) SetIdentity(email, name, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = api.CreateSessionRequest{UserRole: role}
	if email != "" {
		m.identity.UserEmail = &email
	}
	if name != "" {
		m.identity.UserName = &name
	}
}

// Ensure 返回可用的会话
// 复用期内的本地会话经 resume 校验通过则继续使用，否则新建
func (m *Manager) Ensure() (*config.SessionConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked()
}

// Greeting 最近一次创建或恢复会话时服务端返回的问候语
func (m *Manager) Greeting() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.greeting
}

// Resumed 当前会话是否由本地保存的会话恢复而来
func (m *Manager) Resumed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumed
}

// Send 通过当前会话发送消息
// 会话已关闭或令牌失效时新建会话并重试一次
func (m *Manager) Send(text string) (*api.SendMessageResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.ensureLocked()
	if err != nil {
		return nil, err
	}

	resp, err := m.client.SendMessage(m.messageRequest(s, text))
	if err == nil || !sessionGone(err) {
		return resp, err
	}

	m.current = nil
	if err := config.ClearSession(); err != nil {
		return nil, err
	}
	if s, err = m.createLocked(); err != nil {
		return nil, err
	}
	return m.client.SendMessage(m.messageRequest(s, text))
}

func (m *Manager) messageRequest(s *config.SessionConfig, text string) *api.SendMessageRequest {
	return &api.SendMessageRequest{
		SessionID:    s.ID,
		Message:      text,
		SessionToken: s.Token,
		Locale:       m.locale,
	}
}

func (m *Manager) ensureLocked() (*config.SessionConfig, error) {
	if m.current != nil {
		return m.current, nil
	}

	if stored := config.ReusableSession(m.now()); stored != nil {
		resp, err := m.client.ResumeSession(stored.Token, m.locale)
		switch {
		case err == nil:
			if err := config.SaveSession(resp.SessionID, resp.SessionToken, resp.ExpiresAt, time.Unix(stored.StartedAt, 0)); err != nil {
				return nil, err
			}
			m.current = config.GetSession()
			m.greeting = resp.Greeting
			m.resumed = true
			return m.current, nil
		case !sessionGone(err):
			return nil, err
		}
	}

	return m.createLocked()
}

func (m *Manager) createLocked() (*config.SessionConfig, error) {
	req := m.identity
	req.Locale = m.locale

	resp, err := m.client.CreateSession(&req)
	if err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, errors.New("服务端未返回会话 ID")
	}
	if err := config.SaveSession(resp.SessionID, resp.SessionToken, resp.ExpiresAt, m.now()); err != nil {
		return nil, err
	}

	m.current = config.GetSession()
	m.greeting = resp.Greeting
	m.resumed = false
	return m.current, nil
}

// sessionGone 令牌无效或会话已关闭
func sessionGone(err error) bool {
	return api.IsStatus(err, http.StatusUnauthorized) || api.IsStatus(err, http.StatusGone)
}

// Package llm 封装对话补全接口的调用
package llm

import (
	"context"
	"errors"
	"fmt"
)

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNotConfigured 未配置 API Key
	ErrNotConfigured = errors.New("llm: api key not configured")
	// ErrEmptyCompletion 上游返回了空回复
	ErrEmptyCompletion = errors.New("llm: empty completion")
)

// APIError 上游返回非 2xx 状态码
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Message 与具体厂商无关的对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Option 单次调用的可选参数
type Option func(*Options)

// Options 调用参数，零值表示使用客户端默认值
type Options struct {
	Temperature *float64
	MaxTokens   int
	Model       string
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = &temp
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// Completer 对话补全接口
type Completer interface {
	// Complete 发送完整的对话上下文，返回助手回复文本
	Complete(ctx context.Context, messages []Message, opts ...Option) (string, error)
}

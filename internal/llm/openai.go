package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"cielo-chat-server/internal/config"
)

// maxErrorBody 错误响应体最多保留的字节数
const maxErrorBody = 2048

// OpenAIClient OpenAI 兼容的 chat/completions 客户端
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewOpenAIClient 根据配置创建客户端
// 参数:
//   - cfg: AI 配置（API Key、模型、超时等）
//   - logger: 日志实例
//
// 返回:
//   - *OpenAIClient: 客户端实例，API Key 为空时调用会返回 ErrNotConfigured
func NewOpenAIClient(cfg config.AIConfig, logger *zap.Logger) *OpenAIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIClient{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.Named("llm"),
	}
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete 调用 chat/completions
// 参数:
//   - ctx: 上下文，取消后请求立即中止
//   - messages: 完整的对话上下文（system 在前）
//   - opts: 覆盖默认模型、温度、最大 token
//
// 返回:
//   - string: 第一个 choice 的回复文本
//   - error: ErrNotConfigured / *APIError / ErrEmptyCompletion / 网络错误
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts ...Option) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}

	reqBody := chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	if options.Model != "" {
		reqBody.Model = options.Model
	}
	if options.MaxTokens > 0 {
		reqBody.MaxTokens = options.MaxTokens
	}
	if options.Temperature != nil {
		reqBody.Temperature = *options.Temperature
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	c.logger.Debug("completion finished",
		zap.String("model", reqBody.Model),
		zap.Int("status", resp.StatusCode),
		zap.Int("messages", len(messages)),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	reply := parsed.Choices[0].Message.Content
	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyCompletion
	}
	return reply, nil
}

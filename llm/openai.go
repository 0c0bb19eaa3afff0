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

	"github.com/BaSui01/neorag/types"
)

// OpenAIConfig OpenAI 兼容提供者配置
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	// Retry 为 nil 时使用 DefaultRetryPolicy
	Retry *RetryPolicy
}

// OpenAIProvider 通过 OpenAI 兼容的 chat/completions 端点实现 Provider。
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	retry  *RetryPolicy
	logger *zap.Logger
}

// NewOpenAIProvider 创建 OpenAI 兼容提供者。
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4-turbo"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	retry := cfg.Retry
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		retry:  retry,
		logger: logger.With(zap.String("component", "llm_openai")),
	}
}

// Name 返回提供者名称。
func (p *OpenAIProvider) Name() string { return "openai-chat" }

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete 执行一次补全请求。
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	body := openAIChatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	respBody, err := p.doRequest(ctx, "/v1/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var oaResp openAIChatResponse
	if err := json.Unmarshal(respBody, &oaResp); err != nil {
		return nil, fmt.Errorf("failed to parse completion response: %w", err)
	}
	if len(oaResp.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "no choices returned")
	}

	return &CompletionResponse{
		Content:      oaResp.Choices[0].Message.Content,
		Model:        oaResp.Model,
		PromptTokens: oaResp.Usage.PromptTokens,
		TotalTokens:  oaResp.Usage.TotalTokens,
		CreatedAt:    time.Now(),
	}, nil
}

// CompletePrompt 是单条 user prompt 的便捷方法。
func (p *OpenAIProvider) CompletePrompt(ctx context.Context, prompt string) (string, error) {
	resp, err := p.Complete(ctx, &CompletionRequest{
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: p.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// doRequest 按重试策略执行请求：可重试错误指数退避后重发。
func (p *OpenAIProvider) doRequest(ctx context.Context, endpoint string, body any) ([]byte, error) {
	var respBody []byte
	err := p.retry.Do(ctx, func() error {
		b, err := p.doRequestOnce(ctx, endpoint, body)
		if err != nil {
			return err
		}
		respBody = b
		return nil
	})
	return respBody, err
}

// doRequestOnce 执行单次 HTTP 请求，并进行常见错误处理。
func (p *OpenAIProvider) doRequestOnce(ctx context.Context, endpoint string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &types.Error{
			Code:       types.ErrUpstreamError,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// mapHTTPError 映射 HTTP 状态到 types.Error。
func mapHTTPError(status int, msg string) *types.Error {
	code := types.ErrUpstreamError
	retryable := status >= 500

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = types.ErrUnauthorized
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
		retryable = true
	case http.StatusGatewayTimeout:
		code = types.ErrUpstreamTimeout
		retryable = true
	}

	return &types.Error{
		Code:       code,
		Message:    msg,
		HTTPStatus: status,
		Retryable:  retryable,
	}
}

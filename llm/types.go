// Package llm 提供统一的 LLM 网关接口和 OpenAI 兼容实现。
//
// 核心只依赖 Provider 的 Complete 契约：实体抽取、自然语言转图查询和
// 答案合成都通过它完成。实现方负责超时与重试，调用方负责处理失败降级。
package llm

import (
	"context"
	"time"
)

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 对话消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest 表示一次补全请求
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// JSONMode 要求模型输出合法 JSON（用于 schema 约束的实体抽取）
	JSONMode bool `json:"-"`
}

// CompletionResponse 表示补全响应
type CompletionResponse struct {
	Content      string    `json:"content"`
	Model        string    `json:"model"`
	PromptTokens int       `json:"prompt_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Provider 定义统一的 LLM 网关接口。
type Provider interface {
	// Complete 执行一次补全请求。
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompletePrompt 是单条 user prompt 的便捷方法。
	CompletePrompt(ctx context.Context, prompt string) (string, error)

	// Name 返回提供者名称。
	Name() string
}

package provider

import (
	"context"

	"deepagent/internal/chat"
)

// ChatRequest 封装一次模型请求
// ChatRequest wraps a single model call. An empty Model uses the provider default.
type ChatRequest struct {
	Model       string
	Messages    []chat.Message
	Tools       []chat.ToolDef
	Temperature *float64
	MaxTokens   int
}

// StreamCallbacks 流式响应的回调集
// StreamCallbacks is the callback set for streaming responses
type StreamCallbacks struct {
	OnTextChunk      func(chunk string)
	OnReasoningChunk func(chunk string)
}

// Usage token 用量统计
// Usage reports token consumption
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse 完整响应
// ChatResponse is the complete response
type ChatResponse struct {
	Content      string
	Reasoning    string
	ToolCalls    []chat.ToolCall
	FinishReason string
	Usage        Usage
}

// Provider is the reasoning engine. It proposes the next message, optionally
// carrying tool calls, for a message history and a tool catalogue.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, error)
	Name() string
	CurrentModel() string
}

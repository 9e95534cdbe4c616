package llm

import (
	"context"
	"fmt"
	"strings"
)

// Request 描述一次面向某个处理器的生成请求。
type Request struct {
	HandlerID string
	Model     string
	System    string
	Prompt    string
	Knowledge []KnowledgeCard
	Tools     []ToolOutput
	MaxTokens int
}

// Response 是大模型返回的文本结果。
type Response struct {
	Text       string `json:"text"`
	Model      string `json:"model,omitempty"`
	Provider   string `json:"provider,omitempty"`
	TokensUsed int64  `json:"tokens_used,omitempty"`
	Cached     bool   `json:"cached,omitempty"`
}

// KnowledgeCard 表示提供给大模型的知识切片。
type KnowledgeCard struct {
	Title   string
	Content string
}

// ToolOutput 是工具调用的结果，作为生成时的补充上下文。
type ToolOutput struct {
	Tool   string
	Output string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 便于在测试中以函数形式实现 Client。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate 实现 Client 接口。
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// DefaultMaxTokens 在请求未指定时使用。
const DefaultMaxTokens = 1024

// UserContent 将问题、知识片段与工具输出拼接为用户消息。
func UserContent(req Request) string {
	var b strings.Builder
	if len(req.Knowledge) > 0 {
		b.WriteString("Reference material:\n")
		for i, card := range req.Knowledge {
			fmt.Fprintf(&b, "[%d] %s\n%s\n", i+1, card.Title, strings.TrimSpace(card.Content))
		}
		b.WriteString("\n")
	}
	if len(req.Tools) > 0 {
		b.WriteString("Tool results:\n")
		for _, out := range req.Tools {
			fmt.Fprintf(&b, "- %s: %s\n", out.Tool, strings.TrimSpace(out.Output))
		}
		b.WriteString("\n")
	}
	b.WriteString(strings.TrimSpace(req.Prompt))
	return b.String()
}

// MaxTokensOf 返回请求的 token 上限。
func MaxTokensOf(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}

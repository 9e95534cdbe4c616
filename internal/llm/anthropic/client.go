package anthropic

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/llm"
)

const defaultModelName = "claude-3-5-haiku-latest"

// Config 描述调用 Anthropic Messages API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client 通过官方 SDK 调用 Claude 模型。
type Client struct {
	client anthropic.Client
	model  string
}

// NewClient 创建 Anthropic 客户端，SDK 重试关闭。
func NewClient(cfg Config, extra ...option.RequestOption) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未提供 Anthropic API Key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	opts = append(opts, extra...)

	return &Client{client: anthropic.NewClient(opts...), model: model}, nil
}

// Generate 实现 llm.Client。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(llm.MaxTokensOf(req)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(llm.UserContent(req))),
		},
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDownstreamFailure, err, "调用 Anthropic 失败")
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, xerrors.New(xerrors.CodeDownstreamFailure, "Anthropic 未返回文本内容")
	}

	return &llm.Response{
		Text:       strings.TrimSpace(text.String()),
		Model:      string(resp.Model),
		Provider:   "anthropic",
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

var _ llm.Client = (*Client)(nil)

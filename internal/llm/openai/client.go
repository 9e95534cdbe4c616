package openai

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/llm"
)

const defaultModelName = "gpt-4o-mini"

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client 通过官方 SDK 调用 OpenAI 模型。
type Client struct {
	client openai.Client
	model  string
}

// NewClient 根据配置创建 OpenAI 客户端。SDK 自带的重试被关闭，失败统一交给熔断器处理。
func NewClient(cfg Config, extra ...option.RequestOption) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未提供 OpenAI API Key")
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

	return &Client{client: openai.NewClient(opts...), model: model}, nil
}

// Generate 实现 llm.Client。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(llm.UserContent(req)))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(llm.MaxTokensOf(req))),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDownstreamFailure, err, "调用 OpenAI 失败")
	}
	if len(resp.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeDownstreamFailure, "OpenAI 未返回候选结果")
	}

	return &llm.Response{
		Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:      resp.Model,
		Provider:   "openai",
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

var _ llm.Client = (*Client)(nil)

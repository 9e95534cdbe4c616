package gemini

import (
	"context"
	"strings"

	"google.golang.org/genai"

	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/llm"
)

const defaultModelName = "gemini-2.0-flash"

// Config 描述调用 Gemini API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client 通过 genai SDK 调用 Gemini 模型。
type Client struct {
	client *genai.Client
	model  string
}

// NewClient 创建 Gemini 客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未提供 Gemini API Key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "创建 Gemini 客户端失败")
	}
	return &Client{client: client, model: model}, nil
}

// Generate 实现 llm.Client。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(llm.MaxTokensOf(req))}
	if system := strings.TrimSpace(req.System); system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(llm.UserContent(req)), cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDownstreamFailure, err, "调用 Gemini 失败")
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, xerrors.New(xerrors.CodeDownstreamFailure, "Gemini 未返回候选结果")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			text.WriteString(part.Text)
		}
	}

	out := &llm.Response{
		Text:     strings.TrimSpace(text.String()),
		Model:    model,
		Provider: "gemini",
	}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int64(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

var _ llm.Client = (*Client)(nil)

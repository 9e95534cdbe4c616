// Package fallback 提供执行管道在下游失败或熔断时使用的降级应答。
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"AgentRouter/internal/catalog"
	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/knowledge"
	"AgentRouter/internal/llm"
	"AgentRouter/internal/tool"
	"AgentRouter/pkg/logger"
)

// Chain 依次尝试缓存应答与“服务暂不可用”提示。
type Chain struct {
	cache   Cache
	ttl     time.Duration
	notice  string
	logger  *slog.Logger
	timeout time.Duration
}

// Option 定义 Chain 的可选配置。
type Option func(*Chain)

// WithCache 设置应答缓存与过期时间。
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Chain) {
		c.cache = cache
		c.ttl = ttl
	}
}

// WithNotice 设置无缓存时返回的提示文本，为空表示不提供提示。
func WithNotice(notice string) Option {
	return func(c *Chain) {
		c.notice = notice
	}
}

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewChain 创建降级链。
func NewChain(opts ...Option) *Chain {
	c := &Chain{
		logger:  logger.Named("fallback"),
		timeout: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// LLM 返回处理器在该问题上的缓存应答，缺失时返回提示文本。
func (c *Chain) LLM(ctx context.Context, h *catalog.Descriptor, query string, cause error) (*llm.Response, error) {
	if c.cache != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		raw, ok, err := c.cache.Get(cctx, AnswerKey(h.ID, query))
		if err != nil {
			c.logger.Warn("读取降级缓存失败", "handler", h.ID, "error", err)
		}
		if ok {
			var resp llm.Response
			if err := json.Unmarshal(raw, &resp); err == nil {
				resp.Cached = true
				return &resp, nil
			}
		}
	}
	if c.notice != "" {
		return &llm.Response{Text: c.notice, Provider: "fallback"}, nil
	}
	return nil, xerrors.Wrap(xerrors.CodeDownstreamFailure, cause,
		fmt.Sprintf("处理器 %s 无可用的降级应答", h.ID),
		xerrors.WithMetadata("handler_id", h.ID))
}

// Retrieval 在检索失败时返回空上下文，生成步骤继续进行。
func (c *Chain) Retrieval(_ context.Context, h *catalog.Descriptor, _ string, cause error) ([]knowledge.Snippet, error) {
	c.logger.Debug("检索降级为空上下文", "handler", h.ID, "cause", cause)
	return nil, nil
}

// Tool 在工具失败时返回说明文本，供生成步骤知晓该结果缺失。
func (c *Chain) Tool(_ context.Context, h *catalog.Descriptor, name string, cause error) (*tool.Result, error) {
	c.logger.Debug("工具调用降级", "handler", h.ID, "tool", name, "cause", cause)
	return &tool.Result{Tool: name, Output: "result unavailable"}, nil
}

// Remember 保存成功的生成结果。缓存写入失败只记录日志。
func (c *Chain) Remember(ctx context.Context, h *catalog.Descriptor, query string, resp *llm.Response) {
	if c.cache == nil || resp == nil || resp.Cached {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := c.cache.Set(cctx, AnswerKey(h.ID, query), raw, c.ttl); err != nil {
		c.logger.Warn("写入降级缓存失败", "handler", h.ID, "error", err)
	}
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"AgentRouter/internal/breaker"
	"AgentRouter/internal/catalog"
	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/knowledge"
	"AgentRouter/internal/llm"
	"AgentRouter/internal/routing"
	"AgentRouter/internal/tool"
	"AgentRouter/pkg/logger"
)

var tracer = otel.Tracer("agentrouter.pipeline")

// Service 标识下游服务类别，同时也是默认的熔断器名称。
type Service string

const (
	ServiceLLM  Service = "llm"
	ServiceRAG  Service = "rag"
	ServiceTool Service = "tool"
)

// ToolBreakerName 返回单个工具专属熔断器的名称。
func ToolBreakerName(name string) string {
	return string(ServiceTool) + ":" + name
}

// Fallbacks 由调用方提供，在下游失败或熔断时给出降级结果。
type Fallbacks interface {
	LLM(ctx context.Context, h *catalog.Descriptor, query string, cause error) (*llm.Response, error)
	Retrieval(ctx context.Context, h *catalog.Descriptor, query string, cause error) ([]knowledge.Snippet, error)
	Tool(ctx context.Context, h *catalog.Descriptor, name string, cause error) (*tool.Result, error)
}

// AnswerRecorder 接收成功的生成结果，用于填充降级缓存。
type AnswerRecorder interface {
	Remember(ctx context.Context, h *catalog.Descriptor, query string, resp *llm.Response)
}

// Request 是一次执行的输入。
type Request struct {
	Query     string
	RequestID string
}

// CallOutcome 记录一次下游调用的结果。
type CallOutcome struct {
	Service  Service       `json:"service"`
	Target   string        `json:"target,omitempty"`
	Breaker  string        `json:"breaker"`
	Degraded bool          `json:"degraded"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HandlerOutcome 汇总单个处理器的执行情况。
type HandlerOutcome struct {
	HandlerID string        `json:"handler_id"`
	Name      string        `json:"name"`
	Score     float64       `json:"score"`
	Answer    string        `json:"answer,omitempty"`
	Model     string        `json:"model,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Degraded  bool          `json:"degraded"`
	Sources   []string      `json:"sources,omitempty"`
	Calls     []CallOutcome `json:"calls"`
	Error     string        `json:"error,omitempty"`

	err error
}

// Failed 表示主调用（生成）在降级后仍然失败。
func (o HandlerOutcome) Failed() bool {
	return o.err != nil
}

// Response 是管道的聚合输出。
type Response struct {
	Query    string           `json:"query"`
	Mode     routing.Mode     `json:"mode"`
	Answer   string           `json:"answer"`
	Degraded bool             `json:"degraded"`
	Handlers []HandlerOutcome `json:"handlers"`
}

// Executor 依据选择结果调用下游服务。
type Executor struct {
	breakers  *breaker.Set
	llm       llm.Client
	retriever knowledge.Retriever
	tools     tool.Invoker
	fallbacks Fallbacks
	recorder  AnswerRecorder
	maxTokens int
	logger    *slog.Logger
}

// Option 定义 Executor 的可选配置。
type Option func(*Executor)

// WithRetriever 配置检索服务。
func WithRetriever(r knowledge.Retriever) Option {
	return func(e *Executor) { e.retriever = r }
}

// WithTools 配置工具调用服务。
func WithTools(t tool.Invoker) Option {
	return func(e *Executor) { e.tools = t }
}

// WithFallbacks 配置降级链；若其同时实现 AnswerRecorder，会自动记录成功结果。
func WithFallbacks(f Fallbacks) Option {
	return func(e *Executor) {
		e.fallbacks = f
		if rec, ok := f.(AnswerRecorder); ok && e.recorder == nil {
			e.recorder = rec
		}
	}
}

// WithAnswerRecorder 单独配置结果记录器。
func WithAnswerRecorder(r AnswerRecorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithMaxTokens 设置生成的 token 上限。
func WithMaxTokens(n int) Option {
	return func(e *Executor) { e.maxTokens = n }
}

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New 创建执行器。llm、rag、tool 三类熔断器必须全部配置。
func New(breakers *breaker.Set, client llm.Client, opts ...Option) (*Executor, error) {
	if breakers == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置熔断器")
	}
	if err := breakers.Require(string(ServiceLLM), string(ServiceRAG), string(ServiceTool)); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置大模型客户端")
	}
	e := &Executor{
		breakers: breakers,
		llm:      client,
		logger:   logger.Named("pipeline"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Execute 并发执行所有选中的处理器，结果按排名顺序汇总。
// 当所有处理器的生成调用在降级后仍失败时，返回 ALL_HANDLERS_FAILED 错误。
func (e *Executor) Execute(ctx context.Context, sel routing.Selection, req Request) (*Response, error) {
	if sel.Empty() {
		return nil, xerrors.New(xerrors.CodeNoConfidentMatch, "")
	}

	ctx, span := tracer.Start(ctx, "pipeline.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("mode", string(sel.Mode)),
		attribute.StringSlice("handlers", sel.HandlerIDs()),
	)

	outcomes := make([]HandlerOutcome, len(sel.Selected))
	var wg sync.WaitGroup
	for i, cand := range sel.Selected {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = e.runHandler(ctx, cand, req)
		}()
	}
	wg.Wait()

	resp := &Response{Query: req.Query, Mode: sel.Mode, Handlers: outcomes}
	var (
		answers []string
		failed  []string
		causes  []error
	)
	for _, o := range outcomes {
		if o.Failed() {
			failed = append(failed, o.HandlerID)
			causes = append(causes, o.err)
			continue
		}
		if o.Degraded {
			resp.Degraded = true
		}
		if sel.Mode == routing.ModeCollaborative && len(sel.Selected) > 1 {
			answers = append(answers, fmt.Sprintf("[%s]\n%s", o.Name, o.Answer))
		} else {
			answers = append(answers, o.Answer)
		}
	}

	if len(failed) == len(outcomes) {
		err := xerrors.Wrap(xerrors.CodeAllHandlersFailed, joinCauses(causes), "",
			xerrors.WithMetadata("handlers", strings.Join(failed, ",")))
		span.RecordError(err)
		span.SetStatus(codes.Error, "all handlers failed")
		e.logger.Error("所有处理器执行失败", "request_id", req.RequestID, "handlers", failed, "error", err)
		return resp, err
	}
	if len(failed) > 0 {
		resp.Degraded = true
	}
	resp.Answer = strings.Join(answers, "\n\n")
	span.SetAttributes(attribute.Bool("degraded", resp.Degraded))
	return resp, nil
}

func (e *Executor) runHandler(ctx context.Context, cand routing.Candidate, req Request) HandlerOutcome {
	h := cand.Handler
	out := HandlerOutcome{HandlerID: cand.HandlerID, Name: cand.Name, Score: cand.Score}
	for _, s := range cand.Sources {
		out.Sources = append(out.Sources, string(s))
	}
	if h == nil {
		out.err = xerrors.New(xerrors.CodeInvalidArgument, "候选缺少处理器描述")
		out.Error = out.err.Error()
		return out
	}

	genReq := llm.Request{
		HandlerID: h.ID,
		System:    systemPrompt(h),
		Prompt:    req.Query,
		MaxTokens: e.maxTokens,
	}

	if h.Retrieval && e.retriever != nil {
		snippets, call := e.retrieve(ctx, h, req.Query)
		out.Calls = append(out.Calls, call)
		for _, s := range snippets {
			genReq.Knowledge = append(genReq.Knowledge, llm.KnowledgeCard{Title: s.Title, Content: s.Content})
		}
	}

	if len(h.Tools) > 0 && e.tools != nil {
		for _, name := range h.Tools {
			res, call := e.invokeTool(ctx, h, name, req.Query)
			out.Calls = append(out.Calls, call)
			if res != nil {
				genReq.Tools = append(genReq.Tools, llm.ToolOutput{Tool: name, Output: res.Output})
			}
		}
	}

	resp, call, err := e.generate(ctx, h, genReq, req.Query)
	out.Calls = append(out.Calls, call)
	for _, c := range out.Calls {
		if c.Degraded {
			out.Degraded = true
		}
	}
	if err != nil {
		out.err = err
		out.Error = err.Error()
		return out
	}
	out.Answer = resp.Text
	out.Model = resp.Model
	out.Provider = resp.Provider
	return out
}

func (e *Executor) retrieve(ctx context.Context, h *catalog.Descriptor, query string) ([]knowledge.Snippet, CallOutcome) {
	b, _ := e.breakers.Resolve(string(ServiceRAG))
	call := CallOutcome{Service: ServiceRAG, Breaker: b.Name()}
	start := time.Now()

	var fb func(context.Context, error) ([]knowledge.Snippet, error)
	degraded := false
	if e.fallbacks != nil {
		fb = func(ctx context.Context, cause error) ([]knowledge.Snippet, error) {
			degraded = true
			call.Error = cause.Error()
			return e.fallbacks.Retrieval(ctx, h, query, cause)
		}
	}
	snippets, err := breaker.Run(ctx, b, func(ctx context.Context) ([]knowledge.Snippet, error) {
		return e.retriever.Retrieve(ctx, query, h)
	}, fb)
	call.Duration = time.Since(start)
	call.Degraded = degraded
	if err != nil {
		call.Degraded = true
		call.Error = err.Error()
		e.logger.Warn("检索失败，继续生成", "handler", h.ID, "error", err)
		observe(call, true)
		return nil, call
	}
	observe(call, false)
	return snippets, call
}

func (e *Executor) invokeTool(ctx context.Context, h *catalog.Descriptor, name, query string) (*tool.Result, CallOutcome) {
	b, _ := e.breakers.Resolve(ToolBreakerName(name), string(ServiceTool))
	call := CallOutcome{Service: ServiceTool, Target: name, Breaker: b.Name()}
	start := time.Now()

	var fb func(context.Context, error) (*tool.Result, error)
	degraded := false
	if e.fallbacks != nil {
		fb = func(ctx context.Context, cause error) (*tool.Result, error) {
			degraded = true
			call.Error = cause.Error()
			return e.fallbacks.Tool(ctx, h, name, cause)
		}
	}
	res, err := breaker.Run(ctx, b, func(ctx context.Context) (*tool.Result, error) {
		return e.tools.Invoke(ctx, name, tool.Input{HandlerID: h.ID, Query: query})
	}, fb)
	call.Duration = time.Since(start)
	call.Degraded = degraded
	if err != nil {
		call.Degraded = true
		call.Error = err.Error()
		e.logger.Warn("工具调用失败，继续生成", "handler", h.ID, "tool", name, "error", err)
		observe(call, true)
		return nil, call
	}
	observe(call, false)
	return res, call
}

func (e *Executor) generate(ctx context.Context, h *catalog.Descriptor, req llm.Request, query string) (*llm.Response, CallOutcome, error) {
	b, _ := e.breakers.Resolve(string(ServiceLLM))
	call := CallOutcome{Service: ServiceLLM, Breaker: b.Name()}
	start := time.Now()

	var fb func(context.Context, error) (*llm.Response, error)
	degraded := false
	if e.fallbacks != nil {
		fb = func(ctx context.Context, cause error) (*llm.Response, error) {
			degraded = true
			call.Error = cause.Error()
			return e.fallbacks.LLM(ctx, h, query, cause)
		}
	}
	resp, err := breaker.Run(ctx, b, func(ctx context.Context) (*llm.Response, error) {
		return e.llm.Generate(ctx, req)
	}, fb)
	call.Duration = time.Since(start)
	call.Degraded = degraded
	if err == nil && resp == nil {
		err = xerrors.New(xerrors.CodeDownstreamFailure, "生成结果为空")
	}
	if err != nil {
		call.Error = err.Error()
		observe(call, true)
		return nil, call, err
	}
	observe(call, false)
	if !degraded && e.recorder != nil {
		e.recorder.Remember(ctx, h, query, resp)
	}
	return resp, call, nil
}

func systemPrompt(h *catalog.Descriptor) string {
	if strings.TrimSpace(h.Prompt) != "" {
		return h.Prompt
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", h.Name)
	if h.Expertise != "" {
		fmt.Fprintf(&b, " %s", h.Expertise)
	}
	if len(h.FocusAreas) > 0 {
		fmt.Fprintf(&b, " Focus areas: %s.", strings.Join(h.FocusAreas, ", "))
	}
	return b.String()
}

func joinCauses(causes []error) error {
	if len(causes) == 1 {
		return causes[0]
	}
	parts := make([]string, 0, len(causes))
	for _, c := range causes {
		parts = append(parts, c.Error())
	}
	return fmt.Errorf("%w; %s", causes[0], strings.Join(parts[1:], "; "))
}

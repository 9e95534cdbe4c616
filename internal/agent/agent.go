package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/intent"
	"AgentRouter/internal/pipeline"
	"AgentRouter/internal/routing"
	"AgentRouter/internal/storage/mysql"
	"AgentRouter/pkg/logger"
)

// ErrNoConfidentMatch 表示没有处理器达到选择阈值，调用方应提示用户换一种说法。
var ErrNoConfidentMatch = xerrors.New(xerrors.CodeNoConfidentMatch, "")

// Request 描述一次路由请求。
type Request struct {
	ID       string            `json:"id,omitempty"`
	Query    string            `json:"query"`
	Intent   *intent.Result    `json:"intent,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result 汇总路由选择与执行结果。
type Result struct {
	RequestID string             `json:"request_id"`
	Query     string             `json:"query"`
	Intent    intent.Result      `json:"intent"`
	Selection routing.Selection  `json:"selection"`
	Response  *pipeline.Response `json:"response,omitempty"`
	Duration  time.Duration      `json:"duration"`
}

// Router 定义 Agent 所需的路由能力。
type Router interface {
	Route(ctx context.Context, in intent.Result, query string) (routing.Selection, error)
}

// Executor 定义 Agent 所需的执行能力。
type Executor interface {
	Execute(ctx context.Context, sel routing.Selection, req pipeline.Request) (*pipeline.Response, error)
}

// Agent 协调意图分析、路由与执行。
type Agent struct {
	analyzer  intent.Analyzer
	router    Router
	executor  Executor
	decisions mysql.DecisionRepository
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithAnalyzer 配置意图分析器，请求未携带意图时使用。
func WithAnalyzer(a intent.Analyzer) Option {
	return func(ag *Agent) {
		ag.analyzer = a
	}
}

// WithDecisionRepository 配置路由决策仓库。
func WithDecisionRepository(repo mysql.DecisionRepository) Option {
	return func(ag *Agent) {
		ag.decisions = repo
	}
}

// WithTimeout 设置单次请求的整体超时时间。
func WithTimeout(timeout time.Duration) Option {
	return func(ag *Agent) {
		if timeout < 0 {
			timeout = 0
		}
		ag.timeout = timeout
	}
}

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(ag *Agent) {
		if l != nil {
			ag.logger = l
		}
	}
}

// New 创建一个 Agent。
func New(router Router, executor Executor, opts ...Option) *Agent {
	ag := &Agent{
		router:   router,
		executor: executor,
		logger:   logger.Named("agent"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Handle 完成一次完整的路由请求：分析、选择、执行、记录。
// 没有处理器达到阈值时返回带选择详情的 Result 以及 ErrNoConfidentMatch。
func (a *Agent) Handle(ctx context.Context, req Request) (*Result, error) {
	if a.executor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置执行管道")
	}
	return a.run(ctx, req, true)
}

// Route 只做路由选择，不调用下游服务。
func (a *Agent) Route(ctx context.Context, req Request) (*Result, error) {
	return a.run(ctx, req, false)
}

// ListDecisions 返回最近的路由决策。
func (a *Agent) ListDecisions(ctx context.Context, limit int) ([]mysql.DecisionRecord, error) {
	if a.decisions == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置决策仓库")
	}
	records, err := a.decisions.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询路由决策失败")
	}
	return records, nil
}

func (a *Agent) run(ctx context.Context, req Request, execute bool) (*Result, error) {
	if a.router == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置路由器")
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "查询内容不能为空")
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := a.now()
	result := &Result{RequestID: strings.TrimSpace(req.ID), Query: query}
	if result.RequestID == "" {
		result.RequestID = uuid.NewString()
	}

	in, err := a.resolveIntent(ctx, req, query)
	if err != nil {
		return nil, err
	}
	result.Intent = in

	sel, err := a.router.Route(ctx, in, query)
	if err != nil {
		return nil, a.wrapTimeout(err, "路由选择超时")
	}
	result.Selection = sel

	if sel.Empty() {
		result.Duration = a.now().Sub(start)
		a.record(ctx, result, mysql.OutcomeNoMatch, ErrNoConfidentMatch)
		return result, ErrNoConfidentMatch
	}
	if !execute {
		result.Duration = a.now().Sub(start)
		a.record(ctx, result, mysql.OutcomeRouted, nil)
		return result, nil
	}

	resp, execErr := a.executor.Execute(ctx, sel, pipeline.Request{Query: query, RequestID: result.RequestID})
	result.Response = resp
	result.Duration = a.now().Sub(start)
	if execErr != nil {
		execErr = a.wrapTimeout(execErr, "请求处理超时")
		a.record(ctx, result, mysql.OutcomeFailed, execErr)
		return result, execErr
	}

	outcome := mysql.OutcomeAnswered
	if resp != nil && resp.Degraded {
		outcome = mysql.OutcomeDegraded
	}
	a.record(ctx, result, outcome, nil)
	return result, nil
}

func (a *Agent) resolveIntent(ctx context.Context, req Request, query string) (intent.Result, error) {
	if req.Intent != nil {
		return *req.Intent, nil
	}
	if a.analyzer == nil {
		return intent.Result{}, xerrors.New(xerrors.CodeInvalidArgument, "请求未携带意图且未配置意图分析器")
	}
	in, err := a.analyzer.Analyze(ctx, query)
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return intent.Result{}, err
		}
		return intent.Result{}, xerrors.Wrap(xerrors.CodeDownstreamFailure, err, "意图分析失败")
	}
	return in, nil
}

func (a *Agent) wrapTimeout(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, message)
	}
	return err
}

// record 写入审计日志与决策仓库，失败只记录日志，不影响请求结果。
func (a *Agent) record(ctx context.Context, res *Result, outcome string, cause error) {
	record := mysql.DecisionRecord{
		RequestID:  res.RequestID,
		Query:      res.Query,
		Intent:     res.Intent.Intent,
		Complexity: string(res.Intent.Complexity),
		Mode:       string(res.Selection.Mode),
		Selected:   res.Selection.HandlerIDs(),
		Reasoning:  res.Selection.Reasoning,
		Outcome:    outcome,
		LatencyMS:  res.Duration.Milliseconds(),
		CreatedAt:  a.now().Unix(),
	}
	for _, d := range res.Intent.Domains {
		record.Domains = append(record.Domains, string(d))
	}
	if len(res.Selection.Selected) > 0 {
		record.Scores = make(map[string]float64, len(res.Selection.Selected))
		for _, c := range res.Selection.Selected {
			record.Scores[c.HandlerID] = c.Score
		}
	}
	for _, rej := range res.Selection.Rejected {
		record.Rejected = append(record.Rejected, mysql.RejectedHandler{
			HandlerID: rej.Candidate.HandlerID,
			Score:     rej.Candidate.Score,
			Reason:    rej.Reason,
		})
	}
	if res.Response != nil {
		record.Degraded = res.Response.Degraded
	}
	if cause != nil {
		record.ErrorCode = string(xerrors.CodeOf(cause))
	}

	logger.Audit().Info("路由决策",
		slog.String("request_id", record.RequestID),
		slog.String("intent", record.Intent),
		slog.String("mode", record.Mode),
		slog.Any("selected", record.Selected),
		slog.Int("rejected", len(record.Rejected)),
		slog.String("outcome", outcome),
		slog.String("error_code", record.ErrorCode),
		slog.Int64("latency_ms", record.LatencyMS),
	)

	if a.decisions == nil {
		return
	}
	if err := a.decisions.Save(context.WithoutCancel(ctx), record); err != nil {
		a.logger.Warn("保存路由决策失败", "request_id", record.RequestID, "error", err)
	}
}

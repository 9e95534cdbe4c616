package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"AgentRouter/internal/agent"
	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/observability/alerting"
	"AgentRouter/pkg/logger"
)

// Executor 是处理器依赖的 Agent 能力。
type Executor interface {
	Handle(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// Processor 从队列领取任务，交给 Agent 执行并回写结果。
// 可重试的失败会重新入队，直到 Attempts 达到 MaxRetries。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithWorkerCount 设置消费协程数量，非正数被忽略。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

func WithRecoveryHandler(h RecoveryHandler) ProcessorOption {
	return func(p *Processor) { p.recovery = h }
}

func WithAlertDispatcher(d alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) { p.alerter = d }
}

// NewProcessor 构造 Processor。consumer 为空时只能直接调用 handle，适用于测试。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 阻塞消费队列，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	p.log().Info("任务处理器启动", slog.Int("workers", p.workerCount))
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return logger.L()
}

// skippable 判断领取失败是否意味着该消息已无需处理。
func skippable(err error) bool {
	return stdErrors.Is(err, ErrTaskNotFound) ||
		stdErrors.Is(err, ErrTaskCompleted) ||
		stdErrors.Is(err, ErrTaskExhausted)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	switch {
	case err == nil:
	case skippable(err):
		p.log().Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
		return nil
	default:
		p.log().Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Handle(ctx, agent.Request{
		ID:       task.ID,
		Query:    task.Query,
		Intent:   cloneIntent(task.Intent),
		Metadata: maps.Clone(task.Metadata),
	})
	if execErr != nil {
		return p.fail(ctx, task, execErr)
	}

	record := resultFromAgent(result)
	if err := p.store.MarkSucceeded(ctx, task.ID, record); err != nil {
		p.log().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return p.requeue(ctx, task, CodeTaskProcessing, err)
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("mode", record.Mode),
		slog.Any("handlers", record.Handlers),
		slog.Bool("degraded", record.Degraded),
		slog.Int("attempts", task.Attempts),
	)
	return nil
}

// failure 描述一次执行失败的处理方式。
type failure struct {
	code      xerrors.Code
	retryable bool
	terminal  bool
}

func classify(task *Task, err error) failure {
	f := failure{code: xerrors.CodeOf(err), retryable: xerrors.RetryableError(err)}
	if f.code == xerrors.CodeUnknown {
		f.code = CodeTaskProcessing
	}
	f.terminal = !f.retryable || task.Attempts >= task.MaxRetries
	return f
}

// stage 作为告警元数据，区分会重试与不再重试的失败。
func (f failure) stage() string {
	if f.terminal {
		return "terminal"
	}
	return "retry"
}

func (p *Processor) fail(ctx context.Context, task *Task, execErr error) error {
	f := classify(task, execErr)

	if !f.retryable {
		if handled, err := p.degrade(ctx, task, f.code, execErr); handled {
			return err
		}
	}

	if err := p.store.MarkFailed(ctx, task.ID, f.code, execErr.Error(), f.terminal); err != nil {
		p.log().Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("query", task.Query),
		slog.String("error_code", string(f.code)),
		slog.String("error", execErr.Error()),
		slog.Bool("terminal", f.terminal),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)
	p.emitAlert(ctx, task, f.code, execErr, f.stage())

	if f.terminal {
		return nil
	}
	if err := p.producer.Publish(ctx, task.ID); err != nil {
		return xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("任务 %s 重投失败", task.ID))
	}
	p.log().Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}

// requeue 在结果无法落库时把任务标记为可重试失败并重新投递。
func (p *Processor) requeue(ctx context.Context, task *Task, code xerrors.Code, cause error) error {
	if err := p.store.MarkFailed(ctx, task.ID, code, cause.Error(), false); err != nil {
		p.log().Error("回写失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	if err := p.producer.Publish(ctx, task.ID); err != nil {
		return xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("任务 %s 回写失败后重投失败", task.ID))
	}
	logger.Audit().Warn("任务结果回写失败，已重新排队",
		slog.String("task_id", task.ID),
		slog.String("error", cause.Error()),
	)
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || task == nil {
		return
	}
	attr := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:       code,
		Message:    attr.Message,
		Severity:   attr.Severity,
		TaskID:     task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   map[string]string{"stage": stage},
		OccurredAt: time.Now(),
	}
	if cause != nil {
		event.Message = cause.Error()
		event.Metadata["cause"] = cause.Error()
	}
	if task.Query != "" {
		event.Metadata["query"] = task.Query
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.log().Error("告警通知失败", slog.Any("error", err), slog.String("task_id", task.ID), slog.String("stage", stage))
	}
}

// resultFromAgent 将 Agent 的执行结果压缩为任务记录所需的摘要。
func resultFromAgent(result *agent.Result) ExecutionResult {
	if result == nil {
		return ExecutionResult{}
	}
	record := ExecutionResult{
		Mode:     string(result.Selection.Mode),
		Handlers: result.Selection.HandlerIDs(),
	}
	if result.Response == nil {
		return record
	}
	record.Answer = result.Response.Answer
	record.Degraded = result.Response.Degraded
	var failed []string
	for _, h := range result.Response.Handlers {
		if h.Failed() {
			failed = append(failed, h.HandlerID+": "+h.Error)
		}
	}
	if len(failed) > 0 {
		record.Notes = "部分处理器失败: " + strings.Join(failed, "; ")
	}
	return record
}

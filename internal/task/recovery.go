package task

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "AgentRouter/internal/errors"
	"AgentRouter/pkg/logger"
)

// RecoveryHandler 为不可重试的失败给出降级结果。返回 nil 结果时按普通失败处理。
type RecoveryHandler interface {
	Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)
}

// RecoveryFunc 将函数适配为 RecoveryHandler。
type RecoveryFunc func(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)

func (f RecoveryFunc) Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error) {
	return f(ctx, task, cause)
}

// degrade 尝试用补偿结果完成任务。handled 为 false 时调用方继续按失败流程处理。
func (p *Processor) degrade(ctx context.Context, task *Task, code xerrors.Code, cause error) (handled bool, err error) {
	if p.recovery == nil {
		return false, nil
	}
	fallback, recErr := p.recovery.Recover(ctx, task, cause)
	if recErr != nil {
		wrapped := xerrors.Wrap(CodeTaskCompensate, recErr, "任务补偿失败")
		p.log().Error("执行补偿逻辑失败", slog.Any("error", wrapped), slog.String("task_id", task.ID))
		p.emitAlert(ctx, task, CodeTaskCompensate, wrapped, "compensate")
		return false, nil
	}
	if fallback == nil {
		return false, nil
	}

	fallback.Degraded = true
	if fallback.Notes == "" {
		fallback.Notes = fmt.Sprintf("降级处理: %v", cause)
	}
	if err := p.store.MarkSucceeded(ctx, task.ID, *fallback); err != nil {
		p.log().Error("记录降级结果失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return true, p.requeue(ctx, task, code, err)
	}
	logger.Audit().Warn("任务降级完成",
		slog.String("task_id", task.ID),
		slog.String("query", task.Query),
		slog.String("notes", fallback.Notes),
	)
	p.emitAlert(ctx, task, code, cause, "degraded")
	return true, nil
}

package task

import (
	"context"

	xerrors "AgentRouter/internal/errors"
)

// Store 持久化任务状态。Claim 必须是原子的：同一任务同时只有一个调用方能领取成功。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Claim(ctx context.Context, id string) (*Task, error)
	MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}

// TaskStats 是按状态聚合的任务数量。Degraded 统计成功任务中由降级链给出结果的数量。
type TaskStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	Degraded        int   `json:"degraded"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *TaskStats) add(t *Task) {
	s.Total++
	switch t.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
		if t.Result != nil && t.Result.Degraded {
			s.Degraded++
		}
	case StatusFailed:
		s.Failed++
	}
	if t.UpdatedAt == 0 {
		return
	}
	if s.OldestUpdatedAt == 0 || t.UpdatedAt < s.OldestUpdatedAt {
		s.OldestUpdatedAt = t.UpdatedAt
	}
	s.NewestUpdatedAt = max(s.NewestUpdatedAt, t.UpdatedAt)
}
